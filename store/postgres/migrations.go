package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the billing store.
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
    name             TEXT NOT NULL,
    display_name     TEXT NOT NULL DEFAULT '',
    description      TEXT NOT NULL DEFAULT '',
    price_amount     BIGINT NOT NULL,
    currency         TEXT NOT NULL,
    tax_percent      NUMERIC(6,3) NOT NULL DEFAULT 0,
    period_days      INT NOT NULL DEFAULT 30,
    checkout_enabled BOOLEAN NOT NULL DEFAULT TRUE,
    active           BOOLEAN NOT NULL DEFAULT TRUE,
    metadata         JSONB NOT NULL DEFAULT '{}',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_billing_plans_name ON billing_plans (lower(name));
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
    trial_ends_at        TIMESTAMPTZ,
    current_period_start TIMESTAMPTZ,
    current_period_end   TIMESTAMPTZ,
    next_payment_date    TIMESTAMPTZ,
    cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
    cancelled_at         TIMESTAMPTZ,
    cancellation_reason  TEXT NOT NULL DEFAULT '',
    ended_at             TIMESTAMPTZ,
    failed_payment_count INT NOT NULL DEFAULT 0,
    last_payment_id      TEXT NOT NULL DEFAULT '',
    last_payment_at      TIMESTAMPTZ,
    coupon_id            TEXT NOT NULL DEFAULT '',
    version              BIGINT NOT NULL DEFAULT 1,
    metadata             JSONB NOT NULL DEFAULT '{}',
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CONSTRAINT chk_billing_subscriptions_trial CHECK (
        status <> 'trial' OR (trial_ends_at IS NOT NULL AND current_period_start IS NULL AND current_period_end IS NULL)
    ),
    CONSTRAINT chk_billing_subscriptions_cancel CHECK (
        NOT cancel_at_period_end OR (status = 'cancelled' AND current_period_end IS NOT NULL)
    )
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_billing_subscriptions_account ON billing_subscriptions (account_id);
CREATE INDEX IF NOT EXISTS idx_billing_subscriptions_trial ON billing_subscriptions (trial_ends_at) WHERE status = 'trial';
CREATE INDEX IF NOT EXISTS idx_billing_subscriptions_period_end ON billing_subscriptions (current_period_end) WHERE cancel_at_period_end;
CREATE INDEX IF NOT EXISTS idx_billing_subscriptions_next_payment ON billing_subscriptions (next_payment_date) WHERE status IN ('active', 'past_due');
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
    amount          BIGINT NOT NULL,
    currency        TEXT NOT NULL,
    kind            TEXT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'pending',
    context         TEXT NOT NULL DEFAULT '',
    context_id      TEXT NOT NULL DEFAULT '',
    plan_id         TEXT NOT NULL DEFAULT '',
    coupon_id       TEXT NOT NULL DEFAULT '',
    original_id     TEXT NOT NULL DEFAULT '',
    refunded_amount BIGINT NOT NULL DEFAULT 0,
    failure_reason  TEXT NOT NULL DEFAULT '',
    description     TEXT NOT NULL DEFAULT '',
    metadata        JSONB NOT NULL DEFAULT '{}',
    completed_at    TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CONSTRAINT chk_billing_transactions_refunded CHECK (refunded_amount >= 0 AND refunded_amount <= amount)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_billing_transactions_reference ON billing_transactions (reference);
CREATE UNIQUE INDEX IF NOT EXISTS idx_billing_transactions_external_id ON billing_transactions (external_id) WHERE external_id <> '';
CREATE INDEX IF NOT EXISTS idx_billing_transactions_account ON billing_transactions (account_id, created_at DESC);
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
    exp_month    INT NOT NULL DEFAULT 0,
    exp_year     INT NOT NULL DEFAULT 0,
    is_primary   BOOLEAN NOT NULL DEFAULT FALSE,
    active       BOOLEAN NOT NULL DEFAULT TRUE,
    last_used_at TIMESTAMPTZ,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_billing_payment_tokens_token ON billing_payment_tokens (account_id, provider, token);
CREATE INDEX IF NOT EXISTS idx_billing_payment_tokens_primary ON billing_payment_tokens (account_id) WHERE is_primary AND active;
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
    value                 NUMERIC(12,3) NOT NULL DEFAULT 0,
    value_type            TEXT NOT NULL DEFAULT '',
    max_discount_amount   BIGINT,
    max_discount_currency TEXT NOT NULL DEFAULT '',
    applicable_plans      JSONB NOT NULL DEFAULT '[]',
    first_time_only       BOOLEAN NOT NULL DEFAULT FALSE,
    max_uses              INT,
    current_uses          INT NOT NULL DEFAULT 0,
    starts_at             TIMESTAMPTZ,
    expires_at            TIMESTAMPTZ,
    active                BOOLEAN NOT NULL DEFAULT TRUE,
    description           TEXT NOT NULL DEFAULT '',
    metadata              JSONB NOT NULL DEFAULT '{}',
    created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_billing_coupons_code ON billing_coupons (code);

CREATE TABLE IF NOT EXISTS billing_coupon_usages (
    id              TEXT PRIMARY KEY,
    coupon_id       TEXT NOT NULL REFERENCES billing_coupons (id) ON DELETE CASCADE,
    account_id      TEXT NOT NULL,
    subscription_id TEXT NOT NULL DEFAULT '',
    transaction_id  TEXT NOT NULL DEFAULT '',
    savings_amount  BIGINT NOT NULL DEFAULT 0,
    currency        TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
    payload      BYTEA,
    status       TEXT NOT NULL DEFAULT 'received',
    error        TEXT NOT NULL DEFAULT '',
    processed_at TIMESTAMPTZ,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_billing_callbacks_reference ON billing_callbacks (reference);
CREATE INDEX IF NOT EXISTS idx_billing_callbacks_status ON billing_callbacks (status, created_at DESC);
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
