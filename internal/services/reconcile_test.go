package services

import (
	"encoding/json"
	"testing"

	"goatify/internal/models"
)

func TestStatusForEventType(t *testing.T) {
	cases := map[string]string{
		"BILLING.SUBSCRIPTION.ACTIVATED": models.SubscriptionActive,
		"PAYMENT.SALE.COMPLETED":         models.SubscriptionActive,
		"BILLING.SUBSCRIPTION.CANCELLED": models.SubscriptionCancelled,
		"BILLING.SUBSCRIPTION.SUSPENDED": models.SubscriptionSuspended,
		"BILLING.SUBSCRIPTION.EXPIRED":   models.SubscriptionExpired,
	}
	for eventType, want := range cases {
		got, ok := statusForEventType(eventType)
		if !ok || got != want {
			t.Fatalf("%s: got %q ok=%v, want %q", eventType, got, ok, want)
		}
	}
	if _, ok := statusForEventType("BILLING.SUBSCRIPTION.UPDATED"); ok {
		t.Fatalf("unexpected mapping for unhandled event type")
	}
	if _, ok := statusForEventType(""); ok {
		t.Fatalf("unexpected mapping for empty event type")
	}
}

func TestSubscriptionIDFromBillingEvent(t *testing.T) {
	raw := []byte(`{
		"id": "WH-1",
		"event_type": "BILLING.SUBSCRIPTION.ACTIVATED",
		"resource": {"id": "I-ABC123", "custom_id": "user-1", "plan_id": "P-BOOST"}
	}`)
	var ev SubscriptionEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := ev.SubscriptionID(); got != "I-ABC123" {
		t.Fatalf("unexpected subscription id: %s", got)
	}
}

func TestSubscriptionIDFromPaymentEvent(t *testing.T) {
	// For sale events the resource id is the sale; the subscription id
	// rides in billing_agreement_id.
	raw := []byte(`{
		"id": "WH-2",
		"event_type": "PAYMENT.SALE.COMPLETED",
		"resource": {"id": "SALE-9", "billing_agreement_id": "I-ABC123"}
	}`)
	var ev SubscriptionEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := ev.SubscriptionID(); got != "I-ABC123" {
		t.Fatalf("unexpected subscription id: %s", got)
	}
}

func TestSubscriptionIDMissing(t *testing.T) {
	var ev SubscriptionEvent
	ev.EventType = "BILLING.SUBSCRIPTION.CANCELLED"
	if got := ev.SubscriptionID(); got != "" {
		t.Fatalf("expected empty subscription id, got %s", got)
	}
}
