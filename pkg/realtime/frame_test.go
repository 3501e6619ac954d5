package realtime

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	f := NewFrame(CommandMessage, map[string]string{
		HeaderSubscription: "sub-1",
		HeaderDestination:  DestFileChanges,
		HeaderContentType:  "application/json",
	}, []byte(`{"event_type":"MODIFY"}`))

	wire := f.Marshal()
	if !bytes.HasSuffix(wire, []byte("\x00")) {
		t.Error("frame not NUL terminated")
	}

	got, err := ParseFrame(wire)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if got.Command != CommandMessage {
		t.Errorf("command = %q", got.Command)
	}
	if got.Header(HeaderDestination) != DestFileChanges {
		t.Errorf("destination = %q", got.Header(HeaderDestination))
	}
	if string(got.Body) != `{"event_type":"MODIFY"}` {
		t.Errorf("body = %q", got.Body)
	}
}

func TestFrameEmptyBody(t *testing.T) {
	f := NewFrame(CommandSubscribe, map[string]string{
		HeaderID:          "0",
		HeaderDestination: DestConflicts,
	}, nil)

	got, err := ParseFrame(f.Marshal())
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if len(got.Body) != 0 {
		t.Errorf("body = %q, want empty", got.Body)
	}
	if got.Header(HeaderID) != "0" {
		t.Errorf("id = %q", got.Header(HeaderID))
	}
}

func TestFrameBodyMayContainNewlines(t *testing.T) {
	body := []byte("line1\nline2\n\nline3")
	f := NewFrame(CommandSend, map[string]string{HeaderDestination: DestHeartbeat}, body)

	got, err := ParseFrame(f.Marshal())
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if !bytes.Equal(got.Body, body) {
		t.Errorf("body = %q, want %q", got.Body, body)
	}
}

func TestParseFrameMalformed(t *testing.T) {
	for _, wire := range []string{
		"",
		"MESSAGE",
		"MESSAGE\nheader-without-colon\n\nbody\x00",
		"\nid:1\n\n\x00",
	} {
		if _, err := ParseFrame([]byte(wire)); err == nil {
			t.Errorf("ParseFrame(%q) succeeded, want error", wire)
		}
	}
}
