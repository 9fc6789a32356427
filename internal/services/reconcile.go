package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"goatify/internal/models"

	"github.com/jackc/pgx/v5"
)

// SubscriptionEvent is the slice of the PayPal webhook envelope the
// reconciler acts on.
type SubscriptionEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID                 string `json:"id"`
		CustomID           string `json:"custom_id"`
		PlanID             string `json:"plan_id"`
		BillingAgreementID string `json:"billing_agreement_id"`
	} `json:"resource"`
}

// SubscriptionID returns the provider subscription id the event refers to.
// Payment events carry it in billing_agreement_id; the resource id there is
// the sale, not the subscription.
func (e SubscriptionEvent) SubscriptionID() string {
	if e.EventType == "PAYMENT.SALE.COMPLETED" {
		return e.Resource.BillingAgreementID
	}
	return e.Resource.ID
}

// statusForEventType maps provider event types onto subscription states.
// Event types outside this table are acknowledged and ignored.
func statusForEventType(eventType string) (string, bool) {
	switch eventType {
	case "BILLING.SUBSCRIPTION.ACTIVATED", "PAYMENT.SALE.COMPLETED":
		return models.SubscriptionActive, true
	case "BILLING.SUBSCRIPTION.CANCELLED":
		return models.SubscriptionCancelled, true
	case "BILLING.SUBSCRIPTION.SUSPENDED":
		return models.SubscriptionSuspended, true
	case "BILLING.SUBSCRIPTION.EXPIRED":
		return models.SubscriptionExpired, true
	}
	return "", false
}

// ApplySubscriptionEvent reconciles one provider event against the local
// subscription mirror and account plan/credits. Every event is persisted to
// webhook_events with its outcome before this returns; a non-nil error means
// a persistence failure where nothing was durably recorded, and the caller
// should let the provider redeliver.
func (s *Service) ApplySubscriptionEvent(ctx context.Context, payload []byte) (models.WebhookEvent, error) {
	record := models.WebhookEvent{Payload: payload}

	var ev SubscriptionEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		record.Outcome = models.EventOutcomeError
		record.Detail = "malformed event payload"
		return s.logWebhookEvent(ctx, record)
	}
	record.EventID = ev.ID
	record.EventType = ev.EventType

	target, handled := statusForEventType(ev.EventType)
	if !handled {
		record.Outcome = models.EventOutcomeIgnored
		record.Detail = "unhandled event type"
		return s.logWebhookEvent(ctx, record)
	}

	subscriptionID := ev.SubscriptionID()
	record.SubscriptionID = subscriptionID
	if subscriptionID == "" {
		record.Outcome = models.EventOutcomeUnreconciled
		record.Detail = "event carries no subscription id"
		return s.logWebhookEvent(ctx, record)
	}

	outcome, detail, err := s.reconcile(ctx, ev, subscriptionID, target)
	if err != nil {
		return models.WebhookEvent{}, err
	}
	record.Outcome = outcome
	record.Detail = detail
	return s.logWebhookEvent(ctx, record)
}

// reconcile applies the status transition with compare-and-set semantics.
// The subscription row is locked for the duration, so redelivered or
// concurrent events for the same subscription serialize and the credit
// grant fires at most once per actual status change.
func (s *Service) reconcile(ctx context.Context, ev SubscriptionEvent, subscriptionID, target string) (outcome, detail string, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", "", err
	}
	defer tx.Rollback(ctx)

	var existing *models.Subscription
	var row models.Subscription
	err = tx.QueryRow(ctx, `
		SELECT paypal_subscription_id, user_id, plan_id, plan, status
		FROM subscriptions WHERE paypal_subscription_id = $1
		FOR UPDATE`, subscriptionID,
	).Scan(&row.PayPalSubscriptionID, &row.UserID, &row.PlanID, &row.Plan, &row.Status)
	switch {
	case err == nil:
		existing = &row
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return "", "", err
	}

	// Correlation chain: event payload, then the local mirror, then the
	// provider itself. Giving up is an acknowledged-but-logged outcome,
	// never a silent drop.
	userID := ev.Resource.CustomID
	planID := ev.Resource.PlanID
	if userID == "" && existing != nil {
		userID = existing.UserID
	}
	if userID == "" && s.resolver != nil {
		info, lookupErr := s.resolver.LookupSubscription(ctx, subscriptionID)
		if lookupErr != nil {
			log.Printf("[WARN] reconcile: provider lookup for %s failed: %v", subscriptionID, lookupErr)
		} else {
			userID = info.CustomID
			if planID == "" {
				planID = info.PlanID
			}
		}
	}
	if userID == "" {
		return models.EventOutcomeUnreconciled, "no user correlated for subscription " + subscriptionID, nil
	}
	if planID == "" && existing != nil {
		planID = existing.PlanID
	}

	plan, planKnown := s.cfg.PlanForPayPalID(planID)
	if !planKnown && existing != nil {
		plan, planKnown = existing.Plan, models.ValidPlan(existing.Plan)
	}
	if target == models.SubscriptionActive && !planKnown {
		return models.EventOutcomeError, "unknown plan id " + planID, nil
	}

	if existing != nil && existing.Status == target {
		return models.EventOutcomeIgnored, "status already " + target, nil
	}

	if existing == nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO subscriptions (paypal_subscription_id, user_id, plan_id, plan, status)
			VALUES ($1, $2, $3, $4, $5)`,
			subscriptionID, userID, planID, plan, target)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE subscriptions
			SET user_id = $2, plan_id = $3, plan = $4, status = $5, updated_at = NOW()
			WHERE paypal_subscription_id = $1`,
			subscriptionID, userID, planID, plan, target)
	}
	if err != nil {
		return "", "", err
	}

	if target == models.SubscriptionActive {
		err = s.applyPlanActivation(ctx, tx, userID, plan, subscriptionID)
	} else {
		err = s.revertPlan(ctx, tx, userID)
	}
	if err != nil {
		return "", "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", "", err
	}
	return models.EventOutcomeApplied, "status -> " + target, nil
}

// applyPlanActivation switches the account onto the paid plan and grants its
// allotment. Only called when the subscription status actually changed, so
// the grant is once per transition by construction.
func (s *Service) applyPlanActivation(ctx context.Context, tx pgx.Tx, userID, plan, subscriptionID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO accounts (user_id, plan) VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING`, userID, models.PlanFree)
	if err != nil {
		return err
	}
	grant := s.cfg.PlanCredits(plan)
	_, err = tx.Exec(ctx, `
		UPDATE accounts
		SET plan = $2, credits = credits + $3, updated_at = NOW()
		WHERE user_id = $1`, userID, plan, grant)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO credit_ledger (user_id, delta, reason, reference)
		VALUES ($1, $2, $3, $4)`,
		userID, grant, models.LedgerPlanGrant, subscriptionID)
	return err
}

// revertPlan drops the account back to the free tier. Remaining credits are
// kept; only the plan changes.
func (s *Service) revertPlan(ctx context.Context, tx pgx.Tx, userID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE accounts SET plan = $2, updated_at = NOW()
		WHERE user_id = $1`, userID, models.PlanFree)
	return err
}

func (s *Service) logWebhookEvent(ctx context.Context, record models.WebhookEvent) (models.WebhookEvent, error) {
	if !json.Valid(record.Payload) {
		// jsonb rejects malformed payloads; keep the row, drop the body.
		record.Payload = nil
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO webhook_events (event_id, event_type, subscription_id, outcome, detail, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		record.EventID, record.EventType, record.SubscriptionID,
		record.Outcome, record.Detail, record.Payload,
	).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return models.WebhookEvent{}, err
	}
	return record, nil
}
