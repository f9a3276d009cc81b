package codec

import (
	"bytes"
	"strings"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	if err := w.WriteEnvelope(CommandEnvelope{Kind: KindCommand, CommandID: "c1"}); err != nil {
		t.Fatalf("WriteEnvelope: %v", err)
	}
	if err := w.WriteEnvelope(PTYOutputEnvelope{Kind: KindPTYOutput, SessionID: "s1", Cursor: 7}); err != nil {
		t.Fatalf("WriteEnvelope: %v", err)
	}

	r := NewReader(&buf)

	kind, raw, err := r.ReadEnvelope()
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	if kind != KindCommand {
		t.Fatalf("kind = %q, want %q", kind, KindCommand)
	}
	if !bytes.Contains(raw, []byte(`"c1"`)) {
		t.Fatalf("raw missing commandId: %s", raw)
	}

	kind, raw, err = r.ReadEnvelope()
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	if kind != KindPTYOutput {
		t.Fatalf("kind = %q, want %q", kind, KindPTYOutput)
	}
	if !bytes.Contains(raw, []byte(`"cursor":7`)) {
		t.Fatalf("raw missing cursor: %s", raw)
	}
}

func TestReadEnvelopeEOF(t *testing.T) {
	r := NewReader(strings.NewReader(""))
	if _, _, err := r.ReadEnvelope(); err == nil {
		t.Fatal("expected EOF error on empty stream")
	}
}

func TestReadEnvelopeLineTooLong(t *testing.T) {
	huge := strings.Repeat("a", MaxLineBytes+1)
	r := NewReader(strings.NewReader(`{"kind":"command","padding":"` + huge + `"}` + "\n"))
	if _, _, err := r.ReadEnvelope(); err != ErrLineTooLong {
		t.Fatalf("err = %v, want ErrLineTooLong", err)
	}
}

func TestReadEnvelopeMalformedJSON(t *testing.T) {
	r := NewReader(strings.NewReader("not json\n"))
	if _, _, err := r.ReadEnvelope(); err == nil {
		t.Fatal("expected decode error")
	}
}
