package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"goatify/internal/config"
	"goatify/internal/credits"
	"goatify/internal/models"
	"goatify/internal/paypal"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrUnknownPlan         = errors.New("unknown plan")
	ErrPayPalNotConfigured = errors.New("paypal not configured")
)

// SubscriptionResolver re-queries the payment provider for subscription
// details. It is the last step of the webhook correlation chain.
type SubscriptionResolver interface {
	LookupSubscription(ctx context.Context, subscriptionID string) (paypal.SubscriptionInfo, error)
}

type Service struct {
	pool     *pgxpool.Pool
	cfg      config.Config
	resolver SubscriptionResolver
}

// New wires the service. resolver may be nil when PayPal is not configured;
// the reconciler then skips the provider re-query step.
func New(pool *pgxpool.Pool, cfg config.Config, resolver SubscriptionResolver) *Service {
	return &Service{pool: pool, cfg: cfg, resolver: resolver}
}

// ProvisionAccount creates the account row on first observed use. Existing
// accounts are left untouched, so every read path can call this without an
// "does the row exist yet" check of its own.
func (s *Service) ProvisionAccount(ctx context.Context, userID, email string) error {
	if userID == "" {
		return ErrInvalidRequest
	}
	ct, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (user_id, email, plan, credits)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO NOTHING`,
		userID, email, models.PlanFree, s.cfg.SignupBonusCredits)
	if err != nil {
		return err
	}
	if ct.RowsAffected() > 0 && s.cfg.SignupBonusCredits > 0 {
		_, err = s.pool.Exec(ctx, `
			INSERT INTO credit_ledger (user_id, delta, reason)
			VALUES ($1, $2, $3)`,
			userID, s.cfg.SignupBonusCredits, models.LedgerSignupBonus)
	}
	return err
}

func (s *Service) GetAccount(ctx context.Context, userID string) (models.Account, error) {
	var account models.Account
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, email, plan, credits, last_credit_period, created_at, updated_at
		FROM accounts WHERE user_id = $1`, userID,
	).Scan(&account.UserID, &account.Email, &account.Plan, &account.Credits,
		&account.LastCreditPeriod, &account.CreatedAt, &account.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Account{}, ErrNotFound
	}
	return account, err
}

// GetUsage provisions the account if needed, applies the monthly free-plan
// grant when one is due and returns the current snapshot. The grant UPDATE
// repeats the policy's guard so a concurrent call in the same period cannot
// double-grant.
func (s *Service) GetUsage(ctx context.Context, userID, email string, now time.Time) (models.Account, error) {
	if err := s.ProvisionAccount(ctx, userID, email); err != nil {
		return models.Account{}, err
	}
	account, err := s.GetAccount(ctx, userID)
	if err != nil {
		return models.Account{}, err
	}
	grant, ok := credits.MonthlyGrant(account, now, s.cfg.FreeMonthlyCredits)
	if !ok {
		return account, nil
	}
	ct, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET credits = credits + $2, last_credit_period = $3, updated_at = NOW()
		WHERE user_id = $1 AND plan = $4 AND last_credit_period <> $3`,
		userID, grant.Amount, grant.Period, models.PlanFree)
	if err != nil {
		return models.Account{}, err
	}
	if ct.RowsAffected() > 0 {
		_, err = s.pool.Exec(ctx, `
			INSERT INTO credit_ledger (user_id, delta, reason, reference)
			VALUES ($1, $2, $3, $4)`,
			userID, grant.Amount, models.LedgerMonthlyGrant, grant.Period)
		if err != nil {
			return models.Account{}, err
		}
	}
	return s.GetAccount(ctx, userID)
}

// AdjustCredits applies delta atomically and returns the new balance. The
// conditional UPDATE is the only write path for balances; there is no
// read-modify-write anywhere, so concurrent spends race safely at the row.
func (s *Service) AdjustCredits(ctx context.Context, userID string, delta int, reason, reference string) (int, error) {
	if userID == "" || delta == 0 {
		return 0, ErrInvalidRequest
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var balance int
	err = tx.QueryRow(ctx, `
		UPDATE accounts
		SET credits = credits + $2, updated_at = NOW()
		WHERE user_id = $1 AND credits + $2 >= 0
		RETURNING credits`, userID, delta).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE user_id = $1)`, userID).Scan(&exists); err != nil {
			return 0, err
		}
		if !exists {
			return 0, ErrNotFound
		}
		return 0, ErrInsufficientCredits
	}
	if err != nil {
		return 0, err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO credit_ledger (user_id, delta, reason, reference)
		VALUES ($1, $2, $3, $4)`, userID, delta, reason, reference)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Service) LoadChats(ctx context.Context, userID string) (json.RawMessage, error) {
	var chats json.RawMessage
	err := s.pool.QueryRow(ctx, `SELECT chats FROM user_chats WHERE user_id = $1`, userID).Scan(&chats)
	if errors.Is(err, pgx.ErrNoRows) {
		return json.RawMessage("[]"), nil
	}
	return chats, err
}

func (s *Service) SaveChats(ctx context.Context, userID string, chats json.RawMessage) error {
	if userID == "" || len(chats) == 0 {
		return ErrInvalidRequest
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_chats (user_id, chats, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id)
		DO UPDATE SET chats = EXCLUDED.chats, updated_at = NOW()`, userID, chats)
	return err
}

func (s *Service) SavePushSubscription(ctx context.Context, userID string, subscription json.RawMessage) error {
	if userID == "" || len(subscription) == 0 {
		return ErrInvalidRequest
	}
	ct, err := s.pool.Exec(ctx, `
		UPDATE accounts SET push_subscription = $2, updated_at = NOW()
		WHERE user_id = $1`, userID, subscription)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) GetPushSubscription(ctx context.Context, userID string) ([]byte, error) {
	var subscription []byte
	err := s.pool.QueryRow(ctx, `
		SELECT push_subscription FROM accounts WHERE user_id = $1`, userID).Scan(&subscription)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(subscription) == 0 {
		return nil, ErrNotFound
	}
	return subscription, nil
}

// ClearPushSubscription drops a subscription the push service reported gone.
func (s *Service) ClearPushSubscription(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE accounts SET push_subscription = NULL, updated_at = NOW()
		WHERE user_id = $1`, userID)
	return err
}

func (s *Service) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
