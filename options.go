package billing

import (
	"log/slog"
	"strings"
	"time"

	"github.com/juju/clock"

	"github.com/xraph/billing/account"
	"github.com/xraph/billing/gateway"
	"github.com/xraph/billing/plugin"
)

// Option configures a Billing instance.
type Option func(*Billing)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Billing) {
		b.logger = logger
		b.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(b *Billing) {
		_ = b.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithClock sets the time source. Tests pass a testclock.
func WithClock(c clock.Clock) Option {
	return func(b *Billing) {
		b.clock = c
	}
}

// WithTrialDays sets the trial length granted on first subscribe.
func WithTrialDays(days int) Option {
	return func(b *Billing) {
		if days > 0 {
			b.trialDays = days
		}
	}
}

// WithFailedPaymentThreshold sets how many consecutive failed payments block
// a subscription.
func WithFailedPaymentThreshold(n int) Option {
	return func(b *Billing) {
		if n > 0 {
			b.failedPaymentThreshold = n
		}
	}
}

// WithGatewayTimeout bounds every outbound gateway call.
func WithGatewayTimeout(d time.Duration) Option {
	return func(b *Billing) {
		if d > 0 {
			b.gatewayTimeout = d
		}
	}
}

// WithRedirects sets the hosted payment page return and callback URLs.
func WithRedirects(r gateway.Redirects) Option {
	return func(b *Billing) {
		b.redirects = r
	}
}

// WithAccountDirectory sets the store-account collaborator.
func WithAccountDirectory(d account.Directory) Option {
	return func(b *Billing) {
		b.accounts = d
	}
}

// WithCurrency sets the currency new plans default to.
func WithCurrency(currency string) Option {
	return func(b *Billing) {
		if currency != "" {
			b.currency = strings.ToLower(currency)
		}
	}
}

// WithSweepBatchSize caps how many subscriptions each sweep phase loads.
func WithSweepBatchSize(n int) Option {
	return func(b *Billing) {
		if n > 0 {
			b.sweepBatchSize = n
		}
	}
}

// WithAutoMigrate controls whether Start runs store migrations.
// Enabled by default.
func WithAutoMigrate(enabled bool) Option {
	return func(b *Billing) { b.autoMigrate = enabled }
}
