// Package credits holds the pure credit-grant policy. Persistence and
// atomicity live in the services layer; nothing here touches the database.
package credits

import (
	"time"

	"goatify/internal/models"
)

// Period returns the year-month token used to deduplicate monthly grants,
// e.g. "2025-07". Always UTC so the grant boundary does not depend on the
// server's locale.
func Period(now time.Time) string {
	return now.UTC().Format("2006-01")
}

// Grant describes a pending credit grant decided by MonthlyGrant.
type Grant struct {
	Amount int
	Period string
}

// MonthlyGrant decides whether the account is due its periodic free-plan
// allotment. Paid plans are granted through the subscription reconciler on
// activation, never here. Calling it twice with the same period is a no-op
// the second time.
func MonthlyGrant(account models.Account, now time.Time, allotment int) (Grant, bool) {
	if account.Plan != models.PlanFree {
		return Grant{}, false
	}
	period := Period(now)
	if account.LastCreditPeriod == period {
		return Grant{}, false
	}
	if allotment <= 0 {
		return Grant{}, false
	}
	return Grant{Amount: allotment, Period: period}, true
}
