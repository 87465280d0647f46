package plugin_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/xraph/billing/coupon"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/plugin"
	"github.com/xraph/billing/subscription"
)

type recorder struct {
	name string
	fail error

	mu          sync.Mutex
	terminal    []string
	transitions []plugin.Transition
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) OnTransactionTerminal(_ context.Context, txn *payment.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminal = append(r.terminal, txn.Reference)
	return r.fail
}

func (r *recorder) OnSubscriptionChanged(_ context.Context, _ *subscription.Subscription, t plugin.Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
	return nil
}

type blocklist struct {
	reason string
	err    error
}

func (b *blocklist) Name() string { return "blocklist" }

func (b *blocklist) ValidateCoupon(context.Context, *coupon.Coupon, string, string) (string, error) {
	return b.reason, b.err
}

func quietRegistry() *plugin.Registry {
	return plugin.NewRegistry().WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegister(t *testing.T) {
	r := quietRegistry()

	if err := r.Register(&recorder{name: "audit"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&recorder{name: "audit"}); err == nil {
		t.Error("expected duplicate registration to fail")
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1", r.Count())
	}
	if r.Get("audit") == nil || r.Get("missing") != nil {
		t.Error("Get returned the wrong plugin")
	}
}

func TestEmitContinuesPastFailures(t *testing.T) {
	r := quietRegistry()
	failing := &recorder{name: "failing", fail: errors.New("boom")}
	ok := &recorder{name: "ok"}
	_ = r.Register(failing)
	_ = r.Register(ok)

	ctx := context.Background()
	r.EmitTransactionTerminal(ctx, &payment.Transaction{Reference: "ref-1"})
	r.EmitSubscriptionChanged(ctx, &subscription.Subscription{}, plugin.Transition{
		Op:   "payment_confirmed",
		From: subscription.StatusTrial,
		To:   subscription.StatusActive,
	})

	for _, rec := range []*recorder{failing, ok} {
		if len(rec.terminal) != 1 || rec.terminal[0] != "ref-1" {
			t.Errorf("%s terminal = %v", rec.name, rec.terminal)
		}
		if len(rec.transitions) != 1 || rec.transitions[0].To != subscription.StatusActive {
			t.Errorf("%s transitions = %v", rec.name, rec.transitions)
		}
	}
}

func TestValidateCoupon(t *testing.T) {
	tests := []struct {
		name      string
		validator *blocklist
		want      string
	}{
		{"no objection", &blocklist{}, ""},
		{"rejects", &blocklist{reason: "store is on the blocklist"}, "store is on the blocklist"},
		{"error is skipped", &blocklist{reason: "ignored", err: errors.New("lookup failed")}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := quietRegistry()
			_ = r.Register(tt.validator)
			got := r.ValidateCoupon(context.Background(), &coupon.Coupon{Code: "X"}, "42", "lite")
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
