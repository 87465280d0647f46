package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the billing store (SQLite).
var Migrations = migrate.NewGroup("billing")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_billing_plans",
			Version: "20240101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS billing_plans (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL COLLATE NOCASE,
    display_name     TEXT NOT NULL DEFAULT '',
    description      TEXT NOT NULL DEFAULT '',
    price_amount     INTEGER NOT NULL,
    currency         TEXT NOT NULL,
    tax_percent      TEXT NOT NULL DEFAULT '0',
    period_days      INTEGER NOT NULL DEFAULT 30,
    checkout_enabled INTEGER NOT NULL DEFAULT 1,
    active           INTEGER NOT NULL DEFAULT 1,
    metadata         TEXT NOT NULL DEFAULT '',
    created_at       TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at       TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_billing_plans_name ON billing_plans (name);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS billing_plans`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_billing_subscriptions",
			Version: "20240101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS billing_subscriptions (
    id                   TEXT PRIMARY KEY,
    account_id           TEXT NOT NULL,
    plan_id              TEXT NOT NULL DEFAULT '',
    status               TEXT NOT NULL,
    trial_ends_at        TEXT,
    current_period_start TEXT,
    current_period_end   TEXT,
    next_payment_date    TEXT,
    cancel_at_period_end INTEGER NOT NULL DEFAULT 0,
    cancelled_at         TEXT,
    cancellation_reason  TEXT NOT NULL DEFAULT '',
    ended_at             TEXT,
    failed_payment_count INTEGER NOT NULL DEFAULT 0,
    last_payment_id      TEXT NOT NULL DEFAULT '',
    last_payment_at      TEXT,
    coupon_id            TEXT NOT NULL DEFAULT '',
    version              INTEGER NOT NULL DEFAULT 1,
    metadata             TEXT NOT NULL DEFAULT '',
    created_at           TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at           TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_billing_subscriptions_account ON billing_subscriptions (account_id);
CREATE INDEX IF NOT EXISTS idx_billing_subscriptions_status ON billing_subscriptions (status);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS billing_subscriptions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_billing_transactions",
			Version: "20240101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS billing_transactions (
    id              TEXT PRIMARY KEY,
    account_id      TEXT NOT NULL,
    provider        TEXT NOT NULL DEFAULT '',
    reference       TEXT NOT NULL,
    external_id     TEXT NOT NULL DEFAULT '',
    amount          INTEGER NOT NULL,
    currency        TEXT NOT NULL,
    kind            TEXT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'pending',
    context         TEXT NOT NULL DEFAULT '',
    context_id      TEXT NOT NULL DEFAULT '',
    plan_id         TEXT NOT NULL DEFAULT '',
    coupon_id       TEXT NOT NULL DEFAULT '',
    original_id     TEXT NOT NULL DEFAULT '',
    refunded_amount INTEGER NOT NULL DEFAULT 0 CHECK (refunded_amount >= 0 AND refunded_amount <= amount),
    failure_reason  TEXT NOT NULL DEFAULT '',
    description     TEXT NOT NULL DEFAULT '',
    metadata        TEXT NOT NULL DEFAULT '',
    completed_at    TEXT,
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_billing_transactions_reference ON billing_transactions (reference);
CREATE UNIQUE INDEX IF NOT EXISTS idx_billing_transactions_external_id ON billing_transactions (external_id) WHERE external_id <> '';
CREATE INDEX IF NOT EXISTS idx_billing_transactions_account ON billing_transactions (account_id, created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS billing_transactions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_billing_payment_tokens",
			Version: "20240101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS billing_payment_tokens (
    id           TEXT PRIMARY KEY,
    account_id   TEXT NOT NULL,
    provider     TEXT NOT NULL,
    token        TEXT NOT NULL,
    customer_ref TEXT NOT NULL DEFAULT '',
    last4        TEXT NOT NULL DEFAULT '',
    brand        TEXT NOT NULL DEFAULT '',
    exp_month    INTEGER NOT NULL DEFAULT 0,
    exp_year     INTEGER NOT NULL DEFAULT 0,
    is_primary   INTEGER NOT NULL DEFAULT 0,
    active       INTEGER NOT NULL DEFAULT 1,
    last_used_at TEXT,
    created_at   TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at   TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_billing_payment_tokens_token ON billing_payment_tokens (account_id, provider, token);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS billing_payment_tokens`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_billing_coupons",
			Version: "20240101000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS billing_coupons (
    id                    TEXT PRIMARY KEY,
    code                  TEXT NOT NULL,
    type                  TEXT NOT NULL,
    value                 TEXT NOT NULL DEFAULT '0',
    value_type            TEXT NOT NULL DEFAULT '',
    max_discount_amount   INTEGER,
    max_discount_currency TEXT NOT NULL DEFAULT '',
    applicable_plans      TEXT NOT NULL DEFAULT '',
    first_time_only       INTEGER NOT NULL DEFAULT 0,
    max_uses              INTEGER,
    current_uses          INTEGER NOT NULL DEFAULT 0,
    starts_at             TEXT,
    expires_at            TEXT,
    active                INTEGER NOT NULL DEFAULT 1,
    description           TEXT NOT NULL DEFAULT '',
    metadata              TEXT NOT NULL DEFAULT '',
    created_at            TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at            TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_billing_coupons_code ON billing_coupons (code);

CREATE TABLE IF NOT EXISTS billing_coupon_usages (
    id              TEXT PRIMARY KEY,
    coupon_id       TEXT NOT NULL,
    account_id      TEXT NOT NULL,
    subscription_id TEXT NOT NULL DEFAULT '',
    transaction_id  TEXT NOT NULL DEFAULT '',
    savings_amount  INTEGER NOT NULL DEFAULT 0,
    currency        TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_billing_coupon_usages_account ON billing_coupon_usages (coupon_id, account_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS billing_coupon_usages;
DROP TABLE IF EXISTS billing_coupons;
`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_billing_callbacks",
			Version: "20240101000006",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS billing_callbacks (
    id           TEXT PRIMARY KEY,
    provider     TEXT NOT NULL DEFAULT '',
    reference    TEXT NOT NULL DEFAULT '',
    provider_ref TEXT NOT NULL DEFAULT '',
    payload      BLOB,
    status       TEXT NOT NULL DEFAULT 'received',
    error        TEXT NOT NULL DEFAULT '',
    processed_at TEXT,
    created_at   TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at   TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_billing_callbacks_reference ON billing_callbacks (reference);
CREATE INDEX IF NOT EXISTS idx_billing_callbacks_status ON billing_callbacks (status);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS billing_callbacks`)
				return err
			},
		},
	)
}
