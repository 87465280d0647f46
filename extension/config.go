package extension

import (
	"time"

	"github.com/xraph/billing"
	"github.com/xraph/billing/gateway/provider"
	"github.com/xraph/billing/types"
)

// Store drivers understood by the extension.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
)

// Config holds the Billing extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.billing" or "billing" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// DisableMetrics skips registering the Prometheus metrics plugin.
	DisableMetrics bool `json:"disable_metrics" mapstructure:"disable_metrics" yaml:"disable_metrics"`

	// CallbackPath is where the application mounts CallbackHandler
	// (default: "/billing/callback").
	CallbackPath string `json:"callback_path" mapstructure:"callback_path" yaml:"callback_path"`

	// Driver selects the store backend for the grove.DB passed with
	// WithGroveDB: postgres, sqlite or mongo. Without a grove.DB the
	// in-memory store is used.
	Driver string `json:"driver" mapstructure:"driver" yaml:"driver"`

	// Gateway selects and configures the payment provider.
	Gateway provider.Config `json:"gateway" mapstructure:"gateway" yaml:"gateway"`

	// Redirect targets handed to the hosted payment page.
	SuccessURL  string `json:"success_url" mapstructure:"success_url" yaml:"success_url"`
	FailureURL  string `json:"failure_url" mapstructure:"failure_url" yaml:"failure_url"`
	CancelURL   string `json:"cancel_url" mapstructure:"cancel_url" yaml:"cancel_url"`
	CallbackURL string `json:"callback_url" mapstructure:"callback_url" yaml:"callback_url"`

	// TrialDays is the free trial granted on subscribe (default: 7).
	TrialDays int `json:"trial_days" mapstructure:"trial_days" yaml:"trial_days"`

	// FailedPaymentThreshold is the number of consecutive declines that
	// blocks a subscription (default: 3).
	FailedPaymentThreshold int `json:"failed_payment_threshold" mapstructure:"failed_payment_threshold" yaml:"failed_payment_threshold"`

	// GatewayTimeout bounds every provider call (default: 15s).
	GatewayTimeout time.Duration `json:"gateway_timeout" mapstructure:"gateway_timeout" yaml:"gateway_timeout"`

	// Currency is the settlement currency (default: "ils").
	Currency string `json:"currency" mapstructure:"currency" yaml:"currency"`

	// SweepBatchSize caps how many subscriptions a sweep phase loads
	// (default: 100).
	SweepBatchSize int `json:"sweep_batch_size" mapstructure:"sweep_batch_size" yaml:"sweep_batch_size"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		CallbackPath:           "/billing/callback",
		Driver:                 DriverMemory,
		TrialDays:              billing.DefaultTrialDays,
		FailedPaymentThreshold: billing.DefaultFailedPaymentThreshold,
		GatewayTimeout:         billing.DefaultGatewayTimeout,
		Currency:               types.DefaultCurrency,
		SweepBatchSize:         billing.DefaultSweepBatchSize,
	}
}
