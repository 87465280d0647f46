package observability_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xraph/billing/callback"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/plugin"
	"github.com/xraph/billing/subscription"
	"github.com/xraph/billing/types"

	"github.com/xraph/billing/observability"
)

func newExtension(t *testing.T) (*observability.MetricsExtension, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return observability.NewMetricsExtension(observability.NewPrometheusFactory(reg)), reg
}

func TestTransactionMetrics(t *testing.T) {
	m, _ := newExtension(t)
	ctx := context.Background()

	_ = m.OnTransactionTerminal(ctx, &payment.Transaction{Kind: payment.KindCharge, Status: payment.StatusCompleted, Amount: types.ILS(5733)})
	_ = m.OnTransactionTerminal(ctx, &payment.Transaction{Kind: payment.KindCharge, Status: payment.StatusFailed})
	_ = m.OnTransactionTerminal(ctx, &payment.Transaction{Kind: payment.KindRefund, Status: payment.StatusFailed})
	_ = m.OnTransactionTerminal(ctx, &payment.Transaction{Kind: payment.KindRefund, Status: payment.StatusCompleted})

	tests := []struct {
		name string
		c    observability.Counter
		want float64
	}{
		{"completed", m.ChargeCompleted, 1},
		{"failed", m.ChargeFailed, 1},
		{"refund failed", m.RefundFailed, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.c.(prometheus.Collector)); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSubscriptionMetrics(t *testing.T) {
	m, _ := newExtension(t)
	ctx := context.Background()
	sub := &subscription.Subscription{}

	_ = m.OnSubscriptionChanged(ctx, sub, plugin.Transition{Op: "subscribe", To: subscription.StatusTrial})
	_ = m.OnSubscriptionChanged(ctx, sub, plugin.Transition{Op: "payment_confirmed", From: subscription.StatusTrial, To: subscription.StatusActive})
	_ = m.OnSubscriptionChanged(ctx, sub, plugin.Transition{Op: "payment_confirmed", From: subscription.StatusActive, To: subscription.StatusActive})
	_ = m.OnSubscriptionChanged(ctx, sub, plugin.Transition{Op: "block_expired_trial", From: subscription.StatusTrial, To: subscription.StatusBlocked})

	if got := testutil.ToFloat64(m.TrialStarted.(prometheus.Collector)); got != 1 {
		t.Errorf("trials = %v", got)
	}
	if got := testutil.ToFloat64(m.SubscriptionActivated.(prometheus.Collector)); got != 1 {
		t.Errorf("activations = %v, renewals must not count", got)
	}
	if got := testutil.ToFloat64(m.SubscriptionBlocked.(prometheus.Collector)); got != 1 {
		t.Errorf("blocked = %v", got)
	}
}

func TestSweepAndCallbackMetrics(t *testing.T) {
	m, reg := newExtension(t)
	ctx := context.Background()

	_ = m.OnSweepCompleted(ctx, plugin.SweepStats{RenewalsCharged: 3, Failures: 1, Elapsed: 40 * time.Millisecond})
	_ = m.OnCallbackProcessed(ctx, &callback.Entry{Status: callback.StatusIgnored})
	_ = m.OnCallbackProcessed(ctx, &callback.Entry{Status: callback.StatusProcessed})

	if got := testutil.ToFloat64(m.SweepRenewalsCharged.(prometheus.Collector)); got != 3 {
		t.Errorf("renewals = %v", got)
	}
	if got := testutil.ToFloat64(m.CallbackIgnored.(prometheus.Collector)); got != 1 {
		t.Errorf("ignored = %v", got)
	}

	n, err := testutil.GatherAndCount(reg, "billing_sweep_runs_total", "billing_sweep_latency_ms")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("gathered %d series, want 2", n)
	}
}

func TestFactoryReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := observability.NewPrometheusFactory(reg)
	b := observability.NewPrometheusFactory(reg)

	a.Counter("billing.charge.completed").Inc()
	b.Counter("billing.charge.completed").Inc()

	if got := testutil.ToFloat64(a.Counter("billing.charge.completed").(prometheus.Collector)); got != 2 {
		t.Errorf("shared counter = %v, want 2", got)
	}
}
