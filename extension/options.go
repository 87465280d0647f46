package extension

import (
	"github.com/xraph/grove"

	"github.com/xraph/billing"
	audithook "github.com/xraph/billing/audit_hook"
	"github.com/xraph/billing/gateway"
	"github.com/xraph/billing/plugin"
	"github.com/xraph/billing/store"
)

// Option configures the Billing Forge extension.
type Option func(*Extension)

// WithStore sets the store for the billing engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithGroveDB builds the store from db using the configured Driver.
func WithGroveDB(db *grove.DB) Option {
	return func(e *Extension) {
		e.groveDB = db
	}
}

// WithGateway sets the payment gateway, bypassing Config.Gateway.
func WithGateway(gw gateway.Gateway) Option {
	return func(e *Extension) {
		e.gateway = gw
	}
}

// WithBillingOption passes a billing.Option through to the underlying engine.
func WithBillingOption(opt billing.Option) Option {
	return func(e *Extension) {
		e.billingOpts = append(e.billingOpts, opt)
	}
}

// WithPlugin registers a billing plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.billingOpts = append(e.billingOpts, billing.WithPlugin(p))
	}
}

// WithAuditRecorder registers an audit hook that forwards billing events to r.
func WithAuditRecorder(r audithook.Recorder, opts ...audithook.Option) Option {
	return func(e *Extension) {
		e.billingOpts = append(e.billingOpts, billing.WithPlugin(audithook.New(r, opts...)))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDriver sets the store driver used with WithGroveDB.
func WithDriver(driver string) Option {
	return func(e *Extension) { e.config.Driver = driver }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithDisableMetrics skips the Prometheus metrics plugin.
func WithDisableMetrics() Option {
	return func(e *Extension) { e.config.DisableMetrics = true }
}

// WithCallbackPath sets where the callback handler is expected to be mounted.
func WithCallbackPath(path string) Option {
	return func(e *Extension) { e.config.CallbackPath = path }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}
