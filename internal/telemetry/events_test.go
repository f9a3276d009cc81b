package telemetry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentrails/agentrailsd/internal/types"
)

func strPtr(s string) *string { return &s }

func TestExtractPromptStripsImages(t *testing.T) {
	in := "look at this ![screenshot](file://x.png) and fix it <image>base64...</image> please"
	require.Equal(t, "look at this  and fix it  please", ExtractPrompt(in))
}

func TestExtractPromptEmptyAfterStrip(t *testing.T) {
	require.Equal(t, "", ExtractPrompt("   ![only image](x.png)  "))
}

func TestFromLogRecordsDerivesRunningHint(t *testing.T) {
	records := []logRecord{{
		TimeUnixNano: "1700000000000000000",
		Attributes: []keyValue{
			{Key: "event.name", Value: anyValue{StringValue: strPtr("codex.user_prompt")}},
		},
		Body: anyValue{StringValue: strPtr("fix the bug")},
	}}
	out := fromLogRecords(records, false)
	require.Len(t, out, 1)
	require.Equal(t, types.StatusRunning, out[0].event.StatusHint)
	require.Equal(t, "fix the bug", out[0].prompt)
}

func TestFromLogRecordsDropsVerboseUnlessEnabled(t *testing.T) {
	records := []logRecord{{
		Attributes: []keyValue{
			{Key: "event.name", Value: anyValue{StringValue: strPtr("codex.response.output_text.delta")}},
		},
	}}
	quiet := fromLogRecords(records, false)
	require.True(t, quiet[0].drop)

	verbose := fromLogRecords(records, true)
	require.False(t, verbose[0].drop)
}

func TestFromLogRecordsApprovalNotificationNeedsInput(t *testing.T) {
	records := []logRecord{{
		Attributes: []keyValue{
			{Key: "event.name", Value: anyValue{StringValue: strPtr("claude.notification")}},
			{Key: "notification_type", Value: anyValue{StringValue: strPtr("approval")}},
		},
	}}
	out := fromLogRecords(records, false)
	require.Equal(t, types.StatusNeedsInput, out[0].event.StatusHint)
}

func TestFromLogRecordsSkipsRecordsWithoutEventName(t *testing.T) {
	records := []logRecord{{Body: anyValue{StringValue: strPtr("no name")}}}
	require.Empty(t, fromLogRecords(records, false))
}

func TestStatusHintCompletedFromSSESummary(t *testing.T) {
	require.Equal(t, types.StatusCompleted, StatusHint("codex.sse_event", `{"type":"response.completed"}`))
	require.Equal(t, types.RuntimeStatus(""), StatusHint("codex.sse_event", `{"type":"response.in_progress"}`))
}
