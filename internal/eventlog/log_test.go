package eventlog

import (
	"testing"

	"github.com/agentrails/agentrailsd/internal/types"
)

func TestSubjectForKind(t *testing.T) {
	got := SubjectForKind("session-status")
	want := "events.session-status"
	if got != want {
		t.Fatalf("SubjectForKind() = %q, want %q", got, want)
	}
}

func TestAppendOnNilLog(t *testing.T) {
	var l *Log
	if err := l.Append(1, types.Event{Kind: types.EventSessionStatus}); err != nil {
		t.Fatalf("Append on nil log returned error: %v", err)
	}
}

func TestSubscribeOnNilLog(t *testing.T) {
	var l *Log
	if _, err := l.Subscribe(0); err == nil {
		t.Fatal("expected error subscribing on nil log")
	}
}
