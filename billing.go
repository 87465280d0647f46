package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/juju/clock"

	"github.com/xraph/billing/account"
	"github.com/xraph/billing/gateway"
	"github.com/xraph/billing/plugin"
	"github.com/xraph/billing/store"
	"github.com/xraph/billing/types"
)

// Defaults applied by New.
const (
	DefaultTrialDays              = 7
	DefaultFailedPaymentThreshold = 3
	DefaultGatewayTimeout         = 15 * time.Second
	DefaultSweepBatchSize         = 100
)

// Billing is the subscription billing engine. It composes the ledger, the
// lifecycle state machine, and the webhook reconciler into the caller-facing
// use cases.
type Billing struct {
	store    store.Store
	gateway  gateway.Gateway
	accounts account.Directory
	plugins  *plugin.Registry
	logger   *slog.Logger
	clock    clock.Clock

	ledger     *Ledger
	lifecycle  *Lifecycle
	reconciler *Reconciler

	// Configuration
	trialDays              int
	failedPaymentThreshold int
	gatewayTimeout         time.Duration
	redirects              gateway.Redirects
	currency               string
	sweepBatchSize         int
	autoMigrate            bool
}

// New creates a new Billing engine over s, charging through gw.
func New(s store.Store, gw gateway.Gateway, opts ...Option) *Billing {
	b := &Billing{
		store:                  s,
		gateway:                gw,
		accounts:               account.NewMemoryDirectory(),
		plugins:                plugin.NewRegistry(),
		logger:                 slog.Default(),
		clock:                  clock.WallClock,
		trialDays:              DefaultTrialDays,
		failedPaymentThreshold: DefaultFailedPaymentThreshold,
		gatewayTimeout:         DefaultGatewayTimeout,
		currency:               types.DefaultCurrency,
		sweepBatchSize:         DefaultSweepBatchSize,
		autoMigrate:            true,
	}

	for _, opt := range opts {
		opt(b)
	}

	b.ledger = &Ledger{
		store:   s,
		clock:   b.clock,
		plugins: b.plugins,
		logger:  b.logger,
	}
	b.lifecycle = &Lifecycle{
		subs:                   s,
		plans:                  s,
		accounts:               b.accounts,
		clock:                  b.clock,
		plugins:                b.plugins,
		logger:                 b.logger,
		trialDays:              b.trialDays,
		failedPaymentThreshold: b.failedPaymentThreshold,
	}
	b.reconciler = &Reconciler{
		ledger:    b.ledger,
		lifecycle: b.lifecycle,
		payments:  s,
		coupons:   s,
		clock:     b.clock,
		logger:    b.logger,
	}

	return b
}

// Start migrates the store (unless disabled) and initializes plugins.
func (b *Billing) Start(ctx context.Context) error {
	if b.autoMigrate {
		if err := b.store.Migrate(ctx); err != nil {
			return err
		}
	}

	b.plugins.EmitInit(ctx, b)

	b.logger.Info("billing started",
		"provider", b.gateway.Name(),
		"trial_days", b.trialDays,
		"failed_payment_threshold", b.failedPaymentThreshold,
		"gateway_timeout", b.gatewayTimeout,
	)

	return nil
}

// Stop shuts down plugins and closes the store.
func (b *Billing) Stop() error {
	b.plugins.EmitShutdown(context.Background())
	return b.store.Close()
}

// Ledger returns the transaction ledger.
func (b *Billing) Ledger() *Ledger { return b.ledger }

// Lifecycle returns the subscription state machine.
func (b *Billing) Lifecycle() *Lifecycle { return b.lifecycle }

// Reconciler returns the webhook reconciler.
func (b *Billing) Reconciler() *Reconciler { return b.reconciler }

// Store returns the underlying store.
func (b *Billing) Store() store.Store { return b.store }

// Gateway returns the configured payment gateway.
func (b *Billing) Gateway() gateway.Gateway { return b.gateway }

// Plugins returns the plugin registry.
func (b *Billing) Plugins() *plugin.Registry { return b.plugins }
