// Package audithook bridges billing lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import any
// audit store directly. Callers inject a RecorderFunc adapter at wiring time.
package audithook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/billing/callback"
	"github.com/xraph/billing/coupon"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/plan"
	"github.com/xraph/billing/plugin"
	"github.com/xraph/billing/subscription"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                = (*Extension)(nil)
	_ plugin.OnPlanCreated         = (*Extension)(nil)
	_ plugin.OnCouponCreated       = (*Extension)(nil)
	_ plugin.OnSubscriptionChanged = (*Extension)(nil)
	_ plugin.OnChargeInitiated     = (*Extension)(nil)
	_ plugin.OnTransactionTerminal = (*Extension)(nil)
	_ plugin.OnRefundIssued        = (*Extension)(nil)
	_ plugin.OnGatewayError        = (*Extension)(nil)
	_ plugin.OnCouponRedeemed      = (*Extension)(nil)
	_ plugin.OnCallbackProcessed   = (*Extension)(nil)
	_ plugin.OnSweepCompleted      = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	AccountID  string         `json:"account_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges billing lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	disabled map[string]bool
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Catalog hooks
// ──────────────────────────────────────────────────

// OnPlanCreated implements plugin.OnPlanCreated.
func (e *Extension) OnPlanCreated(ctx context.Context, p *plan.Plan) error {
	return e.record(ctx, event{
		action: ActionPlanCreated, resource: ResourcePlan, resourceID: p.ID.String(),
		category: CategoryCatalog,
	},
		"name", p.Name,
		"price", p.Price.String(),
		"period_days", p.PeriodDays,
	)
}

// OnCouponCreated implements plugin.OnCouponCreated.
func (e *Extension) OnCouponCreated(ctx context.Context, c *coupon.Coupon) error {
	return e.record(ctx, event{
		action: ActionCouponCreated, resource: ResourceCoupon, resourceID: c.ID.String(),
		category: CategoryCatalog,
	},
		"code", c.Code,
		"type", string(c.Type),
		"value", c.Value.String(),
	)
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionChanged implements plugin.OnSubscriptionChanged.
func (e *Extension) OnSubscriptionChanged(ctx context.Context, sub *subscription.Subscription, t plugin.Transition) error {
	severity := SeverityInfo
	if t.To == subscription.StatusBlocked || t.To == subscription.StatusPastDue {
		severity = SeverityWarning
	}
	return e.record(ctx, event{
		action: ActionSubscriptionPrefix + t.Op, resource: ResourceSubscription, resourceID: sub.ID.String(),
		accountID: sub.AccountID, category: CategorySubscription, severity: severity,
	},
		"from", string(t.From),
		"to", string(t.To),
		"failed_payment_count", sub.FailedPaymentCount,
	)
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnChargeInitiated implements plugin.OnChargeInitiated.
func (e *Extension) OnChargeInitiated(ctx context.Context, txn *payment.Transaction) error {
	return e.record(ctx, transactionEvent(ActionChargeInitiated, txn),
		"reference", txn.Reference,
		"amount", txn.Amount.String(),
		"context", string(txn.Context),
	)
}

// OnTransactionTerminal implements plugin.OnTransactionTerminal.
func (e *Extension) OnTransactionTerminal(ctx context.Context, txn *payment.Transaction) error {
	action := ActionChargeCompleted
	switch {
	case txn.Kind == payment.KindRefund && txn.Status == payment.StatusFailed:
		action = ActionRefundFailed
	case txn.Kind == payment.KindRefund:
		action = ActionRefundCompleted
	case txn.Status == payment.StatusFailed:
		action = ActionChargeFailed
	}

	ev := transactionEvent(action, txn)
	if txn.Status == payment.StatusFailed {
		ev.outcome = OutcomeFailure
		ev.severity = SeverityWarning
		ev.err = errors.New(txn.FailureReason)
	}
	return e.record(ctx, ev,
		"reference", txn.Reference,
		"external_id", txn.ExternalID,
		"amount", txn.Amount.String(),
		"status", string(txn.Status),
	)
}

// OnRefundIssued implements plugin.OnRefundIssued.
func (e *Extension) OnRefundIssued(ctx context.Context, refund, original *payment.Transaction) error {
	return e.record(ctx, transactionEvent(ActionRefundIssued, refund),
		"reference", refund.Reference,
		"amount", refund.Amount.String(),
		"original_reference", original.Reference,
		"refunded_total", original.RefundedAmount,
	)
}

// OnGatewayError implements plugin.OnGatewayError.
func (e *Extension) OnGatewayError(ctx context.Context, provider, op string, gwErr error) error {
	return e.record(ctx, event{
		action: ActionGatewayError, resource: ResourceGateway, resourceID: provider,
		category: CategoryIntegration, severity: SeverityError, outcome: OutcomeFailure, err: gwErr,
	},
		"provider", provider,
		"op", op,
	)
}

// ──────────────────────────────────────────────────
// Coupon hooks
// ──────────────────────────────────────────────────

// OnCouponRedeemed implements plugin.OnCouponRedeemed.
func (e *Extension) OnCouponRedeemed(ctx context.Context, c *coupon.Coupon, u *coupon.Usage) error {
	return e.record(ctx, event{
		action: ActionCouponRedeemed, resource: ResourceCoupon, resourceID: c.ID.String(),
		accountID: u.AccountID, category: CategoryPayment,
	},
		"code", c.Code,
		"savings", u.Savings.String(),
		"subscription_id", u.SubscriptionID.String(),
	)
}

// ──────────────────────────────────────────────────
// Callback hooks
// ──────────────────────────────────────────────────

// OnCallbackProcessed implements plugin.OnCallbackProcessed.
func (e *Extension) OnCallbackProcessed(ctx context.Context, entry *callback.Entry) error {
	ev := event{
		action: ActionCallbackProcessed, resource: ResourceCallback, resourceID: entry.ID.String(),
		category: CategoryIntegration,
	}
	switch entry.Status {
	case callback.StatusIgnored:
		ev.action = ActionCallbackIgnored
		ev.outcome = OutcomePartial
	case callback.StatusFailed:
		ev.action = ActionCallbackFailed
		ev.outcome = OutcomeFailure
		ev.severity = SeverityWarning
		ev.err = errors.New(entry.Error)
	}
	return e.record(ctx, ev,
		"provider", entry.Provider,
		"reference", entry.Reference,
		"provider_ref", entry.ProviderRef,
	)
}

// ──────────────────────────────────────────────────
// Sweep hooks
// ──────────────────────────────────────────────────

// OnSweepCompleted implements plugin.OnSweepCompleted.
func (e *Extension) OnSweepCompleted(ctx context.Context, stats plugin.SweepStats) error {
	ev := event{action: ActionSweepCompleted, resource: ResourceSweep, category: CategoryScheduler}
	if stats.Failures > 0 {
		ev.outcome = OutcomePartial
		ev.severity = SeverityWarning
	}
	return e.record(ctx, ev,
		"trials_blocked", stats.TrialsBlocked,
		"cancellations_ended", stats.CancellationsEnded,
		"renewals_charged", stats.RenewalsCharged,
		"failures", stats.Failures,
		"elapsed_ms", stats.Elapsed.Milliseconds(),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

type event struct {
	action, resource, resourceID, accountID string
	category, severity, outcome             string
	err                                     error
}

func transactionEvent(action string, txn *payment.Transaction) event {
	return event{
		action: action, resource: ResourceTransaction, resourceID: txn.ID.String(),
		accountID: txn.AccountID, category: CategoryPayment,
	}
}

func (e *Extension) allowed(action string) bool {
	if e.disabled[action] {
		return false
	}
	return e.enabled == nil || e.enabled[action]
}

// record builds and sends an audit event if the action is enabled.
// Recorder failures are logged, never returned, so auditing cannot
// interrupt billing.
func (e *Extension) record(ctx context.Context, ev event, kvPairs ...any) error {
	if !e.allowed(ev.action) {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if ev.err != nil {
		reason = ev.err.Error()
		meta["error"] = reason
	}

	evt := &AuditEvent{
		Action:     ev.action,
		Resource:   ev.resource,
		Category:   ev.category,
		ResourceID: ev.resourceID,
		AccountID:  ev.accountID,
		Metadata:   meta,
		Outcome:    orDefault(ev.outcome, OutcomeSuccess),
		Severity:   orDefault(ev.severity, SeverityInfo),
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", ev.action,
			"resource_id", ev.resourceID,
			"error", recErr,
		)
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
