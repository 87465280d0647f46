package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/billing/callback"
	"github.com/xraph/billing/coupon"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/plan"
	"github.com/xraph/billing/subscription"
)

// hookTimeout bounds every plugin call.
const hookTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// Hook implementations are cached per interface at registration time.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	onInit                []OnInit
	onShutdown            []OnShutdown
	onPlanCreated         []OnPlanCreated
	onCouponCreated       []OnCouponCreated
	onSubscriptionChanged []OnSubscriptionChanged
	onChargeInitiated     []OnChargeInitiated
	onTransactionTerminal []OnTransactionTerminal
	onRefundIssued        []OnRefundIssued
	onGatewayError        []OnGatewayError
	onCouponRedeemed      []OnCouponRedeemed
	couponValidators      []CouponValidator
	onCallbackProcessed   []OnCallbackProcessed
	onSweepCompleted      []OnSweepCompleted
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{logger: slog.Default()}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnPlanCreated); ok {
		r.onPlanCreated = append(r.onPlanCreated, v)
	}
	if v, ok := p.(OnCouponCreated); ok {
		r.onCouponCreated = append(r.onCouponCreated, v)
	}
	if v, ok := p.(OnSubscriptionChanged); ok {
		r.onSubscriptionChanged = append(r.onSubscriptionChanged, v)
	}
	if v, ok := p.(OnChargeInitiated); ok {
		r.onChargeInitiated = append(r.onChargeInitiated, v)
	}
	if v, ok := p.(OnTransactionTerminal); ok {
		r.onTransactionTerminal = append(r.onTransactionTerminal, v)
	}
	if v, ok := p.(OnRefundIssued); ok {
		r.onRefundIssued = append(r.onRefundIssued, v)
	}
	if v, ok := p.(OnGatewayError); ok {
		r.onGatewayError = append(r.onGatewayError, v)
	}
	if v, ok := p.(OnCouponRedeemed); ok {
		r.onCouponRedeemed = append(r.onCouponRedeemed, v)
	}
	if v, ok := p.(CouponValidator); ok {
		r.couponValidators = append(r.couponValidators, v)
	}
	if v, ok := p.(OnCallbackProcessed); ok {
		r.onCallbackProcessed = append(r.onCallbackProcessed, v)
	}
	if v, ok := p.(OnSweepCompleted); ok {
		r.onSweepCompleted = append(r.onSweepCompleted, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedHooks(p),
	)

	return nil
}

var hookTypes = []struct {
	typ  reflect.Type
	name string
}{
	{reflect.TypeFor[OnInit](), "OnInit"},
	{reflect.TypeFor[OnShutdown](), "OnShutdown"},
	{reflect.TypeFor[OnPlanCreated](), "OnPlanCreated"},
	{reflect.TypeFor[OnCouponCreated](), "OnCouponCreated"},
	{reflect.TypeFor[OnSubscriptionChanged](), "OnSubscriptionChanged"},
	{reflect.TypeFor[OnChargeInitiated](), "OnChargeInitiated"},
	{reflect.TypeFor[OnTransactionTerminal](), "OnTransactionTerminal"},
	{reflect.TypeFor[OnRefundIssued](), "OnRefundIssued"},
	{reflect.TypeFor[OnGatewayError](), "OnGatewayError"},
	{reflect.TypeFor[OnCouponRedeemed](), "OnCouponRedeemed"},
	{reflect.TypeFor[CouponValidator](), "CouponValidator"},
	{reflect.TypeFor[OnCallbackProcessed](), "OnCallbackProcessed"},
	{reflect.TypeFor[OnSweepCompleted](), "OnSweepCompleted"},
}

// implementedHooks returns the names of the hook interfaces p implements.
func implementedHooks(p Plugin) []string {
	var names []string
	v := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if v.Implements(h.typ) {
			names = append(names, h.name)
		}
	}
	return names
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit calls fn for every hook in hooks, logging failures at Warn. Plugins
// never fail the billing operation that triggered them.
func emit[H Plugin](ctx context.Context, r *Registry, hook string, hooks []H, fn func(H) error) {
	for _, h := range hooks {
		if err := r.callWithTimeout(ctx, h.Name(), func() error { return fn(h) }); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", h.Name(),
				"error", err,
			)
		}
	}
}

func snapshot[H any](r *Registry, hooks *[]H) []H {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *hooks
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	emit(ctx, r, "OnInit", snapshot(r, &r.onInit), func(p OnInit) error {
		return p.OnInit(ctx, engine)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", snapshot(r, &r.onShutdown), func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitPlanCreated emits a plan created event.
func (r *Registry) EmitPlanCreated(ctx context.Context, p *plan.Plan) {
	emit(ctx, r, "OnPlanCreated", snapshot(r, &r.onPlanCreated), func(h OnPlanCreated) error {
		return h.OnPlanCreated(ctx, p)
	})
}

// EmitCouponCreated emits a coupon created event.
func (r *Registry) EmitCouponCreated(ctx context.Context, c *coupon.Coupon) {
	emit(ctx, r, "OnCouponCreated", snapshot(r, &r.onCouponCreated), func(h OnCouponCreated) error {
		return h.OnCouponCreated(ctx, c)
	})
}

// EmitSubscriptionChanged emits a lifecycle transition event.
func (r *Registry) EmitSubscriptionChanged(ctx context.Context, sub *subscription.Subscription, t Transition) {
	emit(ctx, r, "OnSubscriptionChanged", snapshot(r, &r.onSubscriptionChanged), func(h OnSubscriptionChanged) error {
		return h.OnSubscriptionChanged(ctx, sub, t)
	})
}

// EmitChargeInitiated emits a charge initiated event.
func (r *Registry) EmitChargeInitiated(ctx context.Context, txn *payment.Transaction) {
	emit(ctx, r, "OnChargeInitiated", snapshot(r, &r.onChargeInitiated), func(h OnChargeInitiated) error {
		return h.OnChargeInitiated(ctx, txn)
	})
}

// EmitTransactionTerminal emits a transaction terminal event.
func (r *Registry) EmitTransactionTerminal(ctx context.Context, txn *payment.Transaction) {
	emit(ctx, r, "OnTransactionTerminal", snapshot(r, &r.onTransactionTerminal), func(h OnTransactionTerminal) error {
		return h.OnTransactionTerminal(ctx, txn)
	})
}

// EmitRefundIssued emits a refund issued event.
func (r *Registry) EmitRefundIssued(ctx context.Context, refund, original *payment.Transaction) {
	emit(ctx, r, "OnRefundIssued", snapshot(r, &r.onRefundIssued), func(h OnRefundIssued) error {
		return h.OnRefundIssued(ctx, refund, original)
	})
}

// EmitGatewayError emits a gateway failure event.
func (r *Registry) EmitGatewayError(ctx context.Context, provider, op string, gwErr error) {
	emit(ctx, r, "OnGatewayError", snapshot(r, &r.onGatewayError), func(h OnGatewayError) error {
		return h.OnGatewayError(ctx, provider, op, gwErr)
	})
}

// EmitCouponRedeemed emits a coupon redeemed event.
func (r *Registry) EmitCouponRedeemed(ctx context.Context, c *coupon.Coupon, u *coupon.Usage) {
	emit(ctx, r, "OnCouponRedeemed", snapshot(r, &r.onCouponRedeemed), func(h OnCouponRedeemed) error {
		return h.OnCouponRedeemed(ctx, c, u)
	})
}

// EmitCallbackProcessed emits a callback processed event.
func (r *Registry) EmitCallbackProcessed(ctx context.Context, e *callback.Entry) {
	emit(ctx, r, "OnCallbackProcessed", snapshot(r, &r.onCallbackProcessed), func(h OnCallbackProcessed) error {
		return h.OnCallbackProcessed(ctx, e)
	})
}

// EmitSweepCompleted emits a sweep completed event.
func (r *Registry) EmitSweepCompleted(ctx context.Context, stats SweepStats) {
	emit(ctx, r, "OnSweepCompleted", snapshot(r, &r.onSweepCompleted), func(h OnSweepCompleted) error {
		return h.OnSweepCompleted(ctx, stats)
	})
}

// ValidateCoupon runs every CouponValidator and returns the first
// non-empty reason. Validator errors and timeouts are logged and skipped.
func (r *Registry) ValidateCoupon(ctx context.Context, c *coupon.Coupon, accountID, planName string) string {
	for _, v := range snapshot(r, &r.couponValidators) {
		var reason string
		err := r.callWithTimeout(ctx, v.Name(), func() error {
			var verr error
			reason, verr = v.ValidateCoupon(ctx, c, accountID, planName)
			return verr
		})
		if err != nil {
			r.logger.Warn("plugin CouponValidator failed",
				"plugin", v.Name(),
				"error", err,
			)
			continue
		}
		if reason != "" {
			return reason
		}
	}
	return ""
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the billing pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(hookTimeout):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
