package credits

import (
	"testing"
	"time"

	"goatify/internal/models"
)

func TestPeriod(t *testing.T) {
	now := time.Date(2025, 7, 14, 23, 59, 0, 0, time.UTC)
	if got := Period(now); got != "2025-07" {
		t.Fatalf("unexpected period: %s", got)
	}
}

func TestPeriodUsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+13", 13*3600)
	// Local time is already August 1st, UTC still July 31st.
	now := time.Date(2025, 8, 1, 10, 0, 0, 0, loc)
	if got := Period(now); got != "2025-07" {
		t.Fatalf("expected UTC period 2025-07, got %s", got)
	}
}

func TestMonthlyGrantFreshAccount(t *testing.T) {
	account := models.Account{UserID: "u1", Plan: models.PlanFree}
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	grant, ok := MonthlyGrant(account, now, 100)
	if !ok {
		t.Fatalf("expected grant for fresh free account")
	}
	if grant.Amount != 100 || grant.Period != "2025-07" {
		t.Fatalf("unexpected grant: %+v", grant)
	}
}

func TestMonthlyGrantSamePeriodIsNoop(t *testing.T) {
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	account := models.Account{UserID: "u1", Plan: models.PlanFree, LastCreditPeriod: "2025-07"}
	if _, ok := MonthlyGrant(account, now, 100); ok {
		t.Fatalf("expected no grant within the same period")
	}
}

func TestMonthlyGrantNextPeriodFiresAgain(t *testing.T) {
	now := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	account := models.Account{UserID: "u1", Plan: models.PlanFree, LastCreditPeriod: "2025-07"}
	grant, ok := MonthlyGrant(account, now, 100)
	if !ok || grant.Period != "2025-08" {
		t.Fatalf("expected grant in new period, got %+v ok=%v", grant, ok)
	}
}

func TestMonthlyGrantSkipsPaidPlans(t *testing.T) {
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	for _, plan := range []string{models.PlanBoost, models.PlanPro} {
		account := models.Account{UserID: "u1", Plan: plan}
		if _, ok := MonthlyGrant(account, now, 100); ok {
			t.Fatalf("plan %s must not receive the monthly free grant", plan)
		}
	}
}

func TestMonthlyGrantZeroAllotment(t *testing.T) {
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	account := models.Account{UserID: "u1", Plan: models.PlanFree}
	if _, ok := MonthlyGrant(account, now, 0); ok {
		t.Fatalf("expected no grant for zero allotment")
	}
}
