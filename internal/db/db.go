package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		user_id            TEXT PRIMARY KEY,
		email              TEXT NOT NULL DEFAULT '',
		plan               TEXT NOT NULL DEFAULT 'free',
		credits            INT  NOT NULL DEFAULT 0 CHECK (credits >= 0),
		last_credit_period TEXT NOT NULL DEFAULT '',
		push_subscription  JSONB,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		paypal_subscription_id TEXT PRIMARY KEY,
		user_id                TEXT NOT NULL,
		plan_id                TEXT NOT NULL,
		plan                   TEXT NOT NULL,
		status                 TEXT NOT NULL,
		created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS subscriptions_user_id_idx ON subscriptions (user_id)`,
	`CREATE TABLE IF NOT EXISTS credit_ledger (
		id         BIGSERIAL PRIMARY KEY,
		user_id    TEXT NOT NULL,
		delta      INT  NOT NULL,
		reason     TEXT NOT NULL,
		reference  TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS credit_ledger_user_id_idx ON credit_ledger (user_id)`,
	`CREATE TABLE IF NOT EXISTS webhook_events (
		id              BIGSERIAL PRIMARY KEY,
		event_id        TEXT NOT NULL DEFAULT '',
		event_type      TEXT NOT NULL,
		subscription_id TEXT NOT NULL DEFAULT '',
		outcome         TEXT NOT NULL,
		detail          TEXT NOT NULL DEFAULT '',
		payload         JSONB,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS user_chats (
		user_id    TEXT PRIMARY KEY,
		chats      JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema creates the tables the service needs if they do not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
