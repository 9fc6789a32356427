package config

import "testing"

func TestPlanForPayPalID(t *testing.T) {
	cfg := Config{PayPalBoostPlanID: "P-BOOST", PayPalProPlanID: "P-PRO"}

	plan, ok := cfg.PlanForPayPalID("P-BOOST")
	if !ok || plan != "boost" {
		t.Fatalf("unexpected mapping: %s ok=%v", plan, ok)
	}
	plan, ok = cfg.PlanForPayPalID("P-PRO")
	if !ok || plan != "pro" {
		t.Fatalf("unexpected mapping: %s ok=%v", plan, ok)
	}
	if _, ok := cfg.PlanForPayPalID("P-OTHER"); ok {
		t.Fatalf("unknown plan id must not map")
	}
	if _, ok := cfg.PlanForPayPalID(""); ok {
		t.Fatalf("empty plan id must not map")
	}
}

func TestPlanForPayPalIDUnconfigured(t *testing.T) {
	// With no plan ids configured an empty event plan id must not match
	// the empty config values.
	cfg := Config{}
	if _, ok := cfg.PlanForPayPalID(""); ok {
		t.Fatalf("empty-to-empty comparison must not map a plan")
	}
}

func TestPlanCredits(t *testing.T) {
	cfg := Config{FreeMonthlyCredits: 100, BoostPlanCredits: 1000, ProPlanCredits: 4000}
	if got := cfg.PlanCredits("pro"); got != 4000 {
		t.Fatalf("pro allotment: %d", got)
	}
	if got := cfg.PlanCredits("boost"); got != 1000 {
		t.Fatalf("boost allotment: %d", got)
	}
	if got := cfg.PlanCredits("free"); got != 100 {
		t.Fatalf("free allotment: %d", got)
	}
	if got := cfg.PlanCredits("enterprise"); got != 0 {
		t.Fatalf("unknown plan allotment: %d", got)
	}
}
