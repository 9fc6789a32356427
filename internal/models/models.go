package models

import (
	"encoding/json"
	"time"
)

type Account struct {
	UserID           string    `json:"user_id"`
	Email            string    `json:"email,omitempty"`
	Plan             string    `json:"plan"`
	Credits          int       `json:"credits"`
	LastCreditPeriod string    `json:"last_credit_period,omitempty"`
	PushSubscription []byte    `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type Subscription struct {
	PayPalSubscriptionID string    `json:"paypal_subscription_id"`
	UserID               string    `json:"user_id"`
	PlanID               string    `json:"plan_id"`
	Plan                 string    `json:"plan"`
	Status               string    `json:"status"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

type LedgerEntry struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	Reference string    `json:"reference,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type WebhookEvent struct {
	ID             int64           `json:"id"`
	EventID        string          `json:"event_id,omitempty"`
	EventType      string          `json:"event_type"`
	SubscriptionID string          `json:"subscription_id,omitempty"`
	Outcome        string          `json:"outcome"`
	Detail         string          `json:"detail,omitempty"`
	Payload        json.RawMessage `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
}

const (
	PlanFree  = "free"
	PlanBoost = "boost"
	PlanPro   = "pro"
)

const (
	SubscriptionActive    = "active"
	SubscriptionCancelled = "cancelled"
	SubscriptionSuspended = "suspended"
	SubscriptionExpired   = "expired"
)

const (
	EventOutcomeApplied      = "applied"
	EventOutcomeIgnored      = "ignored"
	EventOutcomeUnreconciled = "unreconciled"
	EventOutcomeError        = "error"
)

const (
	LedgerSignupBonus  = "signup_bonus"
	LedgerMonthlyGrant = "monthly_grant"
	LedgerPlanGrant    = "plan_grant"
	LedgerUsage        = "usage"
	LedgerAdjustment   = "adjustment"
)

func ValidPlan(plan string) bool {
	switch plan {
	case PlanFree, PlanBoost, PlanPro:
		return true
	}
	return false
}

func ValidSubscriptionStatus(status string) bool {
	switch status {
	case SubscriptionActive, SubscriptionCancelled, SubscriptionSuspended, SubscriptionExpired:
		return true
	}
	return false
}
