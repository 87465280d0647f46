package provider_test

import (
	"errors"
	"testing"

	"github.com/xraph/billing"
	"github.com/xraph/billing/gateway"
	"github.com/xraph/billing/gateway/payplus"
	"github.com/xraph/billing/gateway/provider"
	"github.com/xraph/billing/gateway/stripe"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     provider.Config
		want    gateway.Provider
		wantErr error
	}{
		{
			name: "payplus",
			cfg: provider.Config{Name: "payplus", PayPlus: payplus.Config{
				APIKey: "k", SecretKey: "s", PaymentPageUID: "p",
			}},
			want: gateway.ProviderPayPlus,
		},
		{
			name: "stripe mixed case",
			cfg:  provider.Config{Name: " Stripe ", Stripe: stripe.Config{SecretKey: "sk", WebhookSecret: "wh"}},
			want: gateway.ProviderStripe,
		},
		{
			name:    "unknown provider",
			cfg:     provider.Config{Name: "paypal"},
			wantErr: billing.ErrUnknownProvider,
		},
		{
			name:    "empty name",
			cfg:     provider.Config{},
			wantErr: billing.ErrUnknownProvider,
		},
		{
			name:    "missing credentials",
			cfg:     provider.Config{Name: "payplus"},
			wantErr: billing.ErrProviderNotConfigured,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := provider.New(tt.cfg, nil)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("got %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if g.Name() != tt.want {
				t.Errorf("got %s, want %s", g.Name(), tt.want)
			}
		})
	}
}
