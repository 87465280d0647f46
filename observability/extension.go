// Package observability provides a metrics extension for Billing that records
// lifecycle event counts through a MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/billing/callback"
	"github.com/xraph/billing/coupon"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/plan"
	"github.com/xraph/billing/plugin"
	"github.com/xraph/billing/subscription"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                = (*MetricsExtension)(nil)
	_ plugin.OnPlanCreated         = (*MetricsExtension)(nil)
	_ plugin.OnCouponCreated       = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionChanged = (*MetricsExtension)(nil)
	_ plugin.OnChargeInitiated     = (*MetricsExtension)(nil)
	_ plugin.OnTransactionTerminal = (*MetricsExtension)(nil)
	_ plugin.OnRefundIssued        = (*MetricsExtension)(nil)
	_ plugin.OnGatewayError        = (*MetricsExtension)(nil)
	_ plugin.OnCouponRedeemed      = (*MetricsExtension)(nil)
	_ plugin.OnCallbackProcessed   = (*MetricsExtension)(nil)
	_ plugin.OnSweepCompleted      = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide billing metrics.
// Register it as a Billing plugin to track payments and subscriptions.
type MetricsExtension struct {
	factory MetricFactory

	// Catalog metrics
	PlanCreated   Counter
	CouponCreated Counter

	// Subscription metrics
	TrialStarted          Counter
	SubscriptionActivated Counter
	SubscriptionPastDue   Counter
	SubscriptionCancelled Counter
	SubscriptionExpired   Counter
	SubscriptionBlocked   Counter

	// Payment metrics
	ChargeInitiated Counter
	ChargeCompleted Counter
	ChargeFailed    Counter
	ChargeAmount    Histogram
	RefundIssued    Counter
	RefundFailed    Counter
	RefundAmount    Histogram
	GatewayErrors   Counter

	// Coupon metrics
	CouponRedeemed Counter
	CouponSavings  Histogram

	// Callback metrics
	CallbackProcessed Counter
	CallbackIgnored   Counter
	CallbackFailed    Counter

	// Sweep metrics
	SweepRuns            Counter
	SweepTrialsBlocked   Counter
	SweepCancellations   Counter
	SweepRenewalsCharged Counter
	SweepFailures        Counter
	SweepLatency         Histogram
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Catalog metrics
		PlanCreated:   factory.Counter("billing.plan.created"),
		CouponCreated: factory.Counter("billing.coupon.created"),

		// Subscription metrics
		TrialStarted:          factory.Counter("billing.subscription.trial_started"),
		SubscriptionActivated: factory.Counter("billing.subscription.activated"),
		SubscriptionPastDue:   factory.Counter("billing.subscription.past_due"),
		SubscriptionCancelled: factory.Counter("billing.subscription.cancelled"),
		SubscriptionExpired:   factory.Counter("billing.subscription.expired"),
		SubscriptionBlocked:   factory.Counter("billing.subscription.blocked"),

		// Payment metrics
		ChargeInitiated: factory.Counter("billing.charge.initiated"),
		ChargeCompleted: factory.Counter("billing.charge.completed"),
		ChargeFailed:    factory.Counter("billing.charge.failed"),
		ChargeAmount:    factory.Histogram("billing.charge.amount"),
		RefundIssued:    factory.Counter("billing.refund.issued"),
		RefundFailed:    factory.Counter("billing.refund.failed"),
		RefundAmount:    factory.Histogram("billing.refund.amount"),
		GatewayErrors:   factory.Counter("billing.gateway.errors"),

		// Coupon metrics
		CouponRedeemed: factory.Counter("billing.coupon.redeemed"),
		CouponSavings:  factory.Histogram("billing.coupon.savings"),

		// Callback metrics
		CallbackProcessed: factory.Counter("billing.callback.processed"),
		CallbackIgnored:   factory.Counter("billing.callback.ignored"),
		CallbackFailed:    factory.Counter("billing.callback.failed"),

		// Sweep metrics
		SweepRuns:            factory.Counter("billing.sweep.runs"),
		SweepTrialsBlocked:   factory.Counter("billing.sweep.trials_blocked"),
		SweepCancellations:   factory.Counter("billing.sweep.cancellations_ended"),
		SweepRenewalsCharged: factory.Counter("billing.sweep.renewals_charged"),
		SweepFailures:        factory.Counter("billing.sweep.failures"),
		SweepLatency:         factory.Histogram("billing.sweep.latency_ms"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ──────────────────────────────────────────────────
// Catalog hooks
// ──────────────────────────────────────────────────

// OnPlanCreated implements plugin.OnPlanCreated.
func (m *MetricsExtension) OnPlanCreated(_ context.Context, _ *plan.Plan) error {
	m.PlanCreated.Inc()
	return nil
}

// OnCouponCreated implements plugin.OnCouponCreated.
func (m *MetricsExtension) OnCouponCreated(_ context.Context, _ *coupon.Coupon) error {
	m.CouponCreated.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionChanged implements plugin.OnSubscriptionChanged.
func (m *MetricsExtension) OnSubscriptionChanged(_ context.Context, _ *subscription.Subscription, t plugin.Transition) error {
	if t.From == t.To {
		return nil
	}
	switch t.To {
	case subscription.StatusTrial:
		m.TrialStarted.Inc()
	case subscription.StatusActive:
		m.SubscriptionActivated.Inc()
	case subscription.StatusPastDue:
		m.SubscriptionPastDue.Inc()
	case subscription.StatusCancelled:
		m.SubscriptionCancelled.Inc()
	case subscription.StatusExpired:
		m.SubscriptionExpired.Inc()
	case subscription.StatusBlocked:
		m.SubscriptionBlocked.Inc()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnChargeInitiated implements plugin.OnChargeInitiated.
func (m *MetricsExtension) OnChargeInitiated(_ context.Context, _ *payment.Transaction) error {
	m.ChargeInitiated.Inc()
	return nil
}

// OnTransactionTerminal implements plugin.OnTransactionTerminal.
func (m *MetricsExtension) OnTransactionTerminal(_ context.Context, txn *payment.Transaction) error {
	if txn.Kind == payment.KindRefund {
		if txn.Status == payment.StatusFailed {
			m.RefundFailed.Inc()
		}
		return nil
	}
	if txn.Status == payment.StatusFailed {
		m.ChargeFailed.Inc()
		return nil
	}
	m.ChargeCompleted.Inc()
	m.ChargeAmount.Observe(txn.Amount.Major().InexactFloat64())
	return nil
}

// OnRefundIssued implements plugin.OnRefundIssued.
func (m *MetricsExtension) OnRefundIssued(_ context.Context, refund, _ *payment.Transaction) error {
	m.RefundIssued.Inc()
	m.RefundAmount.Observe(refund.Amount.Major().InexactFloat64())
	return nil
}

// OnGatewayError implements plugin.OnGatewayError.
func (m *MetricsExtension) OnGatewayError(_ context.Context, _, _ string, _ error) error {
	m.GatewayErrors.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Coupon hooks
// ──────────────────────────────────────────────────

// OnCouponRedeemed implements plugin.OnCouponRedeemed.
func (m *MetricsExtension) OnCouponRedeemed(_ context.Context, _ *coupon.Coupon, u *coupon.Usage) error {
	m.CouponRedeemed.Inc()
	m.CouponSavings.Observe(u.Savings.Major().InexactFloat64())
	return nil
}

// ──────────────────────────────────────────────────
// Callback hooks
// ──────────────────────────────────────────────────

// OnCallbackProcessed implements plugin.OnCallbackProcessed.
func (m *MetricsExtension) OnCallbackProcessed(_ context.Context, entry *callback.Entry) error {
	switch entry.Status {
	case callback.StatusIgnored:
		m.CallbackIgnored.Inc()
	case callback.StatusFailed:
		m.CallbackFailed.Inc()
	default:
		m.CallbackProcessed.Inc()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Sweep hooks
// ──────────────────────────────────────────────────

// OnSweepCompleted implements plugin.OnSweepCompleted.
func (m *MetricsExtension) OnSweepCompleted(_ context.Context, stats plugin.SweepStats) error {
	m.SweepRuns.Inc()
	m.SweepTrialsBlocked.Add(float64(stats.TrialsBlocked))
	m.SweepCancellations.Add(float64(stats.CancellationsEnded))
	m.SweepRenewalsCharged.Add(float64(stats.RenewalsCharged))
	m.SweepFailures.Add(float64(stats.Failures))
	m.SweepLatency.Observe(float64(stats.Elapsed.Milliseconds()))
	return nil
}
