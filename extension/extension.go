// Package extension provides the Forge extension adapter for Billing.
//
// It implements the forge.Extension interface to integrate Billing
// into a Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.billing" or "billing" keys.
package extension

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/xraph/forge"
	"github.com/xraph/grove"
	"github.com/xraph/vessel"

	"github.com/xraph/billing"
	"github.com/xraph/billing/gateway"
	"github.com/xraph/billing/gateway/provider"
	"github.com/xraph/billing/observability"
	"github.com/xraph/billing/store"
	"github.com/xraph/billing/store/memory"
	"github.com/xraph/billing/store/mongo"
	"github.com/xraph/billing/store/postgres"
	"github.com/xraph/billing/store/sqlite"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "billing"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Subscription billing with hosted payment pages and webhook reconciliation"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Billing as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config      Config
	engine      *billing.Billing
	store       store.Store
	groveDB     *grove.DB
	gateway     gateway.Gateway
	billingOpts []billing.Option
}

// New creates a new Billing Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Billing instance.
// This is nil until Register is called.
func (e *Extension) Engine() *billing.Billing { return e.engine }

// CallbackPath returns the configured callback route.
func (e *Extension) CallbackPath() string { return e.config.CallbackPath }

// CallbackHandler returns the provider webhook endpoint. Mount it at
// CallbackPath.
func (e *Extension) CallbackHandler() http.Handler {
	if e.engine == nil {
		return http.NotFoundHandler()
	}
	return e.engine.CallbackHandler()
}

// Register implements [forge.Extension]. It loads configuration,
// initializes the billing engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if e.store == nil {
		s, err := e.buildStore()
		if err != nil {
			return err
		}
		e.store = s
	}

	if e.gateway == nil {
		gw, err := provider.New(e.config.Gateway, nil)
		if err != nil {
			return fmt.Errorf("billing: build gateway: %w", err)
		}
		e.gateway = gw
	}

	e.engine = billing.New(e.store, e.gateway, e.buildBillingOpts()...)

	return vessel.Provide(fapp.Container(), func() (*billing.Billing, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("billing: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("billing: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildStore picks the store backend for the configured driver.
func (e *Extension) buildStore() (store.Store, error) {
	driver := strings.ToLower(strings.TrimSpace(e.config.Driver))

	if e.groveDB == nil {
		if driver != "" && driver != DriverMemory {
			return nil, fmt.Errorf("billing: driver %q requires WithGroveDB", driver)
		}
		return memory.New(), nil
	}

	switch driver {
	case DriverPostgres:
		return postgres.New(e.groveDB), nil
	case DriverSQLite:
		return sqlite.New(e.groveDB), nil
	case DriverMongo:
		return mongo.New(e.groveDB), nil
	default:
		return nil, fmt.Errorf("billing: unsupported store driver %q", e.config.Driver)
	}
}

// buildBillingOpts constructs billing.Option values from the resolved config.
func (e *Extension) buildBillingOpts() []billing.Option {
	opts := make([]billing.Option, 0, len(e.billingOpts)+9)

	opts = append(opts,
		billing.WithTrialDays(e.config.TrialDays),
		billing.WithFailedPaymentThreshold(e.config.FailedPaymentThreshold),
		billing.WithGatewayTimeout(e.config.GatewayTimeout),
		billing.WithCurrency(e.config.Currency),
		billing.WithSweepBatchSize(e.config.SweepBatchSize),
		billing.WithAutoMigrate(!e.config.DisableMigrate),
		billing.WithRedirects(gateway.Redirects{
			SuccessURL:  e.config.SuccessURL,
			FailureURL:  e.config.FailureURL,
			CancelURL:   e.config.CancelURL,
			CallbackURL: e.config.CallbackURL,
		}),
	)

	if !e.config.DisableMetrics {
		factory := observability.NewPrometheusFactory(nil)
		opts = append(opts, billing.WithPlugin(observability.NewMetricsExtension(factory)))
	}

	// Append any pass-through billing options.
	opts = append(opts, e.billingOpts...)

	return opts
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("billing: configuration is required but not found in config files; " +
				"ensure 'extensions.billing' or 'billing' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("billing: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("disable_metrics", e.config.DisableMetrics),
		forge.F("driver", e.config.Driver),
		forge.F("provider", e.config.Gateway.Name),
		forge.F("callback_path", e.config.CallbackPath),
		forge.F("trial_days", e.config.TrialDays),
		forge.F("failed_payment_threshold", e.config.FailedPaymentThreshold),
		forge.F("gateway_timeout", e.config.GatewayTimeout),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.billing", "billing"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("billing: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("billing: loaded config from file",
			forge.F("key", key),
		)
		return cfg, true
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.CallbackPath == "" {
		cfg.CallbackPath = defaults.CallbackPath
	}
	if cfg.Driver == "" {
		cfg.Driver = defaults.Driver
	}
	if cfg.TrialDays == 0 {
		cfg.TrialDays = defaults.TrialDays
	}
	if cfg.FailedPaymentThreshold == 0 {
		cfg.FailedPaymentThreshold = defaults.FailedPaymentThreshold
	}
	if cfg.GatewayTimeout == 0 {
		cfg.GatewayTimeout = defaults.GatewayTimeout
	}
	if cfg.Currency == "" {
		cfg.Currency = defaults.Currency
	}
	if cfg.SweepBatchSize == 0 {
		cfg.SweepBatchSize = defaults.SweepBatchSize
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.DisableMetrics {
		yamlConfig.DisableMetrics = true
	}

	// String fields: YAML takes precedence.
	fill := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
		}
	}
	fill(&yamlConfig.CallbackPath, programmaticConfig.CallbackPath)
	fill(&yamlConfig.Driver, programmaticConfig.Driver)
	fill(&yamlConfig.Currency, programmaticConfig.Currency)
	fill(&yamlConfig.SuccessURL, programmaticConfig.SuccessURL)
	fill(&yamlConfig.FailureURL, programmaticConfig.FailureURL)
	fill(&yamlConfig.CancelURL, programmaticConfig.CancelURL)
	fill(&yamlConfig.CallbackURL, programmaticConfig.CallbackURL)
	if yamlConfig.Gateway.Name == "" {
		yamlConfig.Gateway = programmaticConfig.Gateway
	}

	// Duration/int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.TrialDays == 0 && programmaticConfig.TrialDays != 0 {
		yamlConfig.TrialDays = programmaticConfig.TrialDays
	}
	if yamlConfig.FailedPaymentThreshold == 0 && programmaticConfig.FailedPaymentThreshold != 0 {
		yamlConfig.FailedPaymentThreshold = programmaticConfig.FailedPaymentThreshold
	}
	if yamlConfig.GatewayTimeout == 0 && programmaticConfig.GatewayTimeout != 0 {
		yamlConfig.GatewayTimeout = programmaticConfig.GatewayTimeout
	}
	if yamlConfig.SweepBatchSize == 0 && programmaticConfig.SweepBatchSize != 0 {
		yamlConfig.SweepBatchSize = programmaticConfig.SweepBatchSize
	}

	// Fill remaining zeros with defaults.
	return mergeWithDefaults(yamlConfig)
}
