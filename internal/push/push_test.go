package push

import (
	"errors"
	"testing"
)

func TestSendUnconfigured(t *testing.T) {
	s := NewSender("", "", "")
	if err := s.Send([]byte(`{}`), "title", "body"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSendRejectsBadSubscription(t *testing.T) {
	s := NewSender("pub", "priv", "mailto:test@example.com")
	err := s.Send([]byte(`not json`), "title", "body")
	if err == nil {
		t.Fatalf("expected decode error for malformed subscription")
	}
	if errors.Is(err, ErrNotConfigured) {
		t.Fatalf("decode failure must not report missing configuration")
	}
}
