package mqtt

import (
	"testing"

	"github.com/ahmadshahwan/cohorte-herald/internal/herald"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	transport := &Transport{rawSubjects: map[string]struct{}{}}

	msg := herald.NewMessage("demo/echo", map[string]any{"greeting": "hi"})
	msg.Headers["herald.sender.uid"] = "peer-a"

	payload, raw, err := transport.encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if raw {
		t.Fatalf("expected non-raw encoding")
	}

	received, wasRaw, err := decode(uidTopic("cohorte/herald", "demo-app", "peer-b"), payload, "cohorte/herald/demo-app")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if wasRaw {
		t.Fatalf("decode reported raw for a JSON topic")
	}
	if received.UID != msg.UID || received.Subject != msg.Subject {
		t.Fatalf("decoded = %+v, want uid=%s subject=%s", received, msg.UID, msg.Subject)
	}
	if received.Sender != "peer-a" {
		t.Fatalf("sender = %q, want peer-a", received.Sender)
	}
}

func TestEnvelopeRawSubjectBypassesJSON(t *testing.T) {
	transport := &Transport{rawSubjects: toSet([]string{"raw/ping"})}

	msg := herald.NewMessage("raw/ping", "ping-body")
	payload, raw, err := transport.encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !raw {
		t.Fatalf("expected raw encoding for raw/ping")
	}
	if string(payload) != "ping-body" {
		t.Fatalf("payload = %q, want plain content", payload)
	}

	topic := rawTopic("cohorte/herald/demo-app", "raw/ping")
	received, wasRaw, err := decode(topic, payload, "cohorte/herald/demo-app")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !wasRaw {
		t.Fatalf("decode did not recognize raw topic")
	}
	if received.Subject != "raw/ping" || received.Content != "ping-body" {
		t.Fatalf("decoded raw = %+v", received)
	}
}
