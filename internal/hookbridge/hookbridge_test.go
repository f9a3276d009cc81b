package hookbridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJitterWithinBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jitter(activeMinMs, activeMaxMs)
		require.GreaterOrEqual(t, d, time.Duration(activeMinMs)*time.Millisecond)
		require.LessOrEqual(t, d, time.Duration(activeMaxMs)*time.Millisecond)
	}
}
