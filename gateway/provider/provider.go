// Package provider selects the configured payment gateway. The set of
// providers is closed; an unknown name fails at construction.
package provider

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/xraph/billing"
	"github.com/xraph/billing/gateway"
	"github.com/xraph/billing/gateway/payplus"
	"github.com/xraph/billing/gateway/stripe"
)

type Config struct {
	Name    string         `json:"name" mapstructure:"name" yaml:"name"`
	PayPlus payplus.Config `json:"payplus" mapstructure:"payplus" yaml:"payplus"`
	Stripe  stripe.Config  `json:"stripe" mapstructure:"stripe" yaml:"stripe"`
}

// New builds the gateway named by cfg.Name.
func New(cfg Config, logger *slog.Logger) (gateway.Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch gateway.Provider(strings.ToLower(strings.TrimSpace(cfg.Name))) {
	case gateway.ProviderPayPlus:
		g, err := payplus.New(cfg.PayPlus, payplus.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return g, nil
	case gateway.ProviderStripe:
		g, err := stripe.New(cfg.Stripe, stripe.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("provider %q: %w", cfg.Name, billing.ErrUnknownProvider)
	}
}
