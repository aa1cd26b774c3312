package kafka

import "testing"

func TestNewEnvelopeRejectsMissingFields(t *testing.T) {
	if _, err := NewEnvelope("", 1, ""); err == nil {
		t.Fatalf("expected missing event type to fail")
	}
	if _, err := NewEnvelope("notification.requested", 0, ""); err == nil {
		t.Fatalf("expected non-positive version to fail")
	}
}

func TestEnvelopeHeaders(t *testing.T) {
	env, err := NewEnvelope("notification.requested", 1, "req-9")
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	if err := env.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	h := env.Headers()
	if h["event_type"] != "notification.requested" || h["event_version"] != "1" || h["correlation_id"] != "req-9" {
		t.Fatalf("unexpected headers %v", h)
	}

	env.CorrelationID = ""
	if _, ok := env.Headers()["correlation_id"]; ok {
		t.Fatalf("expected no correlation header when empty")
	}
}

func TestDeterministicEventIDStable(t *testing.T) {
	a := DeterministicEventID("otp", "user-1", "LOGIN")
	b := DeterministicEventID("otp", "user-1", "LOGIN")
	if a != b {
		t.Fatalf("expected stable id")
	}
	if a == DeterministicEventID("otp", "user-1", "PIN") {
		t.Fatalf("expected different id for different parts")
	}
}
