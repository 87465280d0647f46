// Package plugin provides an extensible hook system for the billing engine.
// Plugins implement Plugin plus any of the hook interfaces below; the
// registry discovers the hooks at registration time.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/billing/callback"
	"github.com/xraph/billing/coupon"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/plan"
	"github.com/xraph/billing/subscription"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts. engine is the *billing.Billing.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Catalog hooks
// ──────────────────────────────────────────────────

// OnPlanCreated is called after a plan is stored.
type OnPlanCreated interface {
	Plugin
	OnPlanCreated(ctx context.Context, p *plan.Plan) error
}

// OnCouponCreated is called after a coupon is stored.
type OnCouponCreated interface {
	Plugin
	OnCouponCreated(ctx context.Context, c *coupon.Coupon) error
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// Transition describes one applied lifecycle transition.
type Transition struct {
	Op   string
	From subscription.Status
	To   subscription.Status
}

// OnSubscriptionChanged is called after every successful lifecycle write.
type OnSubscriptionChanged interface {
	Plugin
	OnSubscriptionChanged(ctx context.Context, sub *subscription.Subscription, t Transition) error
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnChargeInitiated is called once a gateway accepted a charge request.
type OnChargeInitiated interface {
	Plugin
	OnChargeInitiated(ctx context.Context, txn *payment.Transaction) error
}

// OnTransactionTerminal is called when a pending transaction reaches a
// final status. It fires once per transaction.
type OnTransactionTerminal interface {
	Plugin
	OnTransactionTerminal(ctx context.Context, txn *payment.Transaction) error
}

// OnRefundIssued is called after a refund was accepted by the gateway.
type OnRefundIssued interface {
	Plugin
	OnRefundIssued(ctx context.Context, refund, original *payment.Transaction) error
}

// OnGatewayError is called when a gateway call fails.
type OnGatewayError interface {
	Plugin
	OnGatewayError(ctx context.Context, provider, op string, err error) error
}

// ──────────────────────────────────────────────────
// Coupon hooks
// ──────────────────────────────────────────────────

// OnCouponRedeemed is called after a usage row was written.
type OnCouponRedeemed interface {
	Plugin
	OnCouponRedeemed(ctx context.Context, c *coupon.Coupon, u *coupon.Usage) error
}

// CouponValidator adds eligibility rules on top of the built-in checks.
// A non-empty reason makes the coupon ineligible.
type CouponValidator interface {
	Plugin
	ValidateCoupon(ctx context.Context, c *coupon.Coupon, accountID, planName string) (reason string, err error)
}

// ──────────────────────────────────────────────────
// Callback hooks
// ──────────────────────────────────────────────────

// OnCallbackProcessed is called after a provider callback was handled,
// whatever the outcome recorded in e.Status.
type OnCallbackProcessed interface {
	Plugin
	OnCallbackProcessed(ctx context.Context, e *callback.Entry) error
}

// ──────────────────────────────────────────────────
// Sweep hooks
// ──────────────────────────────────────────────────

// SweepStats summarises one sweep run.
type SweepStats struct {
	TrialsBlocked      int
	CancellationsEnded int
	RenewalsCharged    int
	Failures           int
	Elapsed            time.Duration
}

// OnSweepCompleted is called at the end of every sweep.
type OnSweepCompleted interface {
	Plugin
	OnSweepCompleted(ctx context.Context, stats SweepStats) error
}
