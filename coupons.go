package billing

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/billing/coupon"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/subscription"
	"github.com/xraph/billing/types"
)

// OpApplyCoupon names coupon application in conflicts.
const OpApplyCoupon = "apply_coupon"

// CouponCheck is the caller-facing eligibility answer for a coupon code.
type CouponCheck struct {
	Code     string `json:"code"`
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
	Benefit  string `json:"benefit,omitempty"`
}

// ValidateCoupon reports whether the account may use code, optionally for
// a specific plan. Unknown codes are ineligible rather than an error.
func (b *Billing) ValidateCoupon(ctx context.Context, accountID, code, planName string) (*CouponCheck, error) {
	check, _, err := b.checkCoupon(ctx, accountID, code, planName)
	return check, err
}

func (b *Billing) checkCoupon(ctx context.Context, accountID, code, planName string) (*CouponCheck, *coupon.Coupon, error) {
	code = coupon.NormalizeCode(code)
	if code == "" {
		return nil, nil, &ValidationError{Field: "code", Message: "is required", Err: ErrInvalidInput}
	}

	c, err := b.store.GetCouponByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return &CouponCheck{Code: code, Reason: coupon.ReasonNotFound}, nil, nil
		}
		return nil, nil, err
	}

	facts := coupon.Facts{PlanName: strings.ToLower(strings.TrimSpace(planName))}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		used, err := b.store.HasCouponUsage(gctx, c.ID, accountID)
		facts.AlreadyUsed = used
		return err
	})
	g.Go(func() error {
		paid, err := b.ledger.HasPaidSubscription(gctx, accountID)
		facts.HasPaidSubscription = paid
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	res := coupon.Evaluate(c, facts, b.clock.Now())
	if res.Eligible {
		if reason := b.plugins.ValidateCoupon(ctx, c, accountID, facts.PlanName); reason != "" {
			res = coupon.Result{Reason: reason}
		}
	}

	return &CouponCheck{
		Code:     c.Code,
		Eligible: res.Eligible,
		Reason:   res.Reason,
		Benefit:  res.Benefit,
	}, c, nil
}

// ApplyCoupon redeems a coupon against an existing subscription outside of
// checkout: extra trial days lengthen the trial, free months defer the next
// payment, and recurring discounts bind to future renewals. First payment
// discounts only apply at checkout.
func (b *Billing) ApplyCoupon(ctx context.Context, accountID, code, planName string) (*CouponCheck, error) {
	sub, err := b.store.GetSubscriptionByAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil, &StateConflictError{Op: OpApplyCoupon, Err: ErrSubscriptionNotFound}
		}
		return nil, err
	}
	if planName == "" {
		if p, err := b.store.GetPlan(ctx, sub.PlanID); err == nil {
			planName = p.Name
		}
	}

	check, c, err := b.checkCoupon(ctx, accountID, code, planName)
	if err != nil {
		return nil, err
	}
	if !check.Eligible {
		return check, &ValidationError{Field: "code", Message: check.Reason, Err: ErrCouponIneligible}
	}
	if c.Type == coupon.TypeFirstPaymentDiscount {
		return check, &ValidationError{Field: "code", Message: "first payment discounts apply at checkout", Err: ErrCouponIneligible}
	}
	if !couponApplies(c, sub) {
		return check, &StateConflictError{Op: OpApplyCoupon, Current: sub.Status}
	}

	if err := b.redeem(ctx, c, accountID, sub, types.Zero(b.currency)); err != nil {
		return nil, err
	}
	if _, err := b.couponEffect(ctx, c, accountID); err != nil {
		b.releaseCoupon(ctx, c.ID, accountID)
		return nil, err
	}

	b.logger.Info("coupon applied",
		"account_id", accountID,
		"code", c.Code,
		"type", c.Type,
	)
	return check, nil
}

func couponApplies(c *coupon.Coupon, sub *subscription.Subscription) bool {
	switch sub.Status {
	case subscription.StatusTrial:
		return true
	case subscription.StatusActive, subscription.StatusPastDue:
		return c.Type != coupon.TypeExtraTrialDays
	default:
		return false
	}
}

// redeem writes the usage row and bumps the coupon counter in one store call.
func (b *Billing) redeem(ctx context.Context, c *coupon.Coupon, accountID string, sub *subscription.Subscription, savings types.Money) error {
	u := &coupon.Usage{
		Entity:    types.NewEntityAt(b.clock.Now()),
		ID:        id.NewCouponUsageID(),
		CouponID:  c.ID,
		AccountID: accountID,
		Savings:   savings,
	}
	if sub != nil {
		u.SubscriptionID = sub.ID
	}

	if err := b.store.RedeemCoupon(ctx, u); err != nil {
		switch {
		case errors.Is(err, ErrCouponAlreadyUsed):
			return &ValidationError{Field: "coupon_code", Message: coupon.ReasonAlreadyUsed, Err: err}
		case errors.Is(err, ErrCouponExhausted):
			return &ValidationError{Field: "coupon_code", Message: coupon.ReasonExhausted, Err: err}
		default:
			return err
		}
	}

	b.plugins.EmitCouponRedeemed(ctx, c, u)
	return nil
}

func (b *Billing) releaseCoupon(ctx context.Context, couponID id.CouponID, accountID string) {
	if err := b.store.ReleaseCoupon(ctx, couponID, accountID); err != nil {
		b.logger.Error("failed to release coupon",
			"coupon_id", couponID.String(),
			"account_id", accountID,
			"error", err,
		)
	}
}

// couponEffect applies the non-monetary part of a coupon to the subscription.
func (b *Billing) couponEffect(ctx context.Context, c *coupon.Coupon, accountID string) (*subscription.Subscription, error) {
	switch c.Type {
	case coupon.TypeExtraTrialDays:
		return b.lifecycle.ExtendTrial(ctx, accountID, c.Units())
	case coupon.TypeFreeMonths:
		return b.lifecycle.DeferNextPayment(ctx, accountID, c.Units())
	case coupon.TypeRecurringDiscount:
		return b.lifecycle.BindCoupon(ctx, accountID, c.ID)
	default:
		return nil, nil
	}
}

// applyCouponEffect is couponEffect for checkout, where the payment is
// already under way and a coupon that no longer fits is only logged.
func (b *Billing) applyCouponEffect(ctx context.Context, c *coupon.Coupon, accountID string) *subscription.Subscription {
	sub, err := b.couponEffect(ctx, c, accountID)
	if err != nil {
		b.logger.Warn("coupon effect not applied",
			"account_id", accountID,
			"code", c.Code,
			"error", err,
		)
		return nil
	}
	return sub
}

// ──────────────────────────────────────────────────
// Coupon administration
// ──────────────────────────────────────────────────

var hundred = decimal.NewFromInt(100)

// CreateCoupon validates and stores a new coupon.
func (b *Billing) CreateCoupon(ctx context.Context, c *coupon.Coupon) error {
	c.Code = coupon.NormalizeCode(c.Code)
	if err := validateCoupon(c); err != nil {
		return err
	}

	if c.ID.IsNil() {
		c.ID = id.NewCouponID()
	}
	c.Entity = types.NewEntityAt(b.clock.Now())
	c.CurrentUses = 0

	if err := b.store.CreateCoupon(ctx, c); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return NewValidationError("code", ErrAlreadyExists)
		}
		return err
	}

	b.plugins.EmitCouponCreated(ctx, c)
	return nil
}

func validateCoupon(c *coupon.Coupon) error {
	invalid := func(field, msg string) error {
		return &ValidationError{Field: field, Message: msg, Err: ErrInvalidInput}
	}

	if c.Code == "" {
		return invalid("code", "is required")
	}
	if !c.Value.IsPositive() {
		return invalid("value", "must be positive")
	}

	switch c.Type {
	case coupon.TypeExtraTrialDays, coupon.TypeFreeMonths:
		if !c.Value.IsInteger() {
			return invalid("value", "must be a whole number")
		}
	case coupon.TypeFirstPaymentDiscount, coupon.TypeRecurringDiscount:
		switch c.ValueType {
		case "":
			c.ValueType = coupon.ValuePercent
		case coupon.ValuePercent, coupon.ValueFixed:
		default:
			return invalid("value_type", "must be percent or fixed")
		}
		if c.ValueType == coupon.ValuePercent && c.Value.GreaterThan(hundred) {
			return invalid("value", "percent cannot exceed 100")
		}
	default:
		return invalid("type", "unknown coupon type")
	}

	if c.MaxUses != nil && *c.MaxUses < 0 {
		return invalid("max_uses", "cannot be negative")
	}
	if c.StartsAt != nil && c.ExpiresAt != nil && !c.ExpiresAt.After(*c.StartsAt) {
		return invalid("expires_at", "must be after starts_at")
	}
	for i, name := range c.ApplicablePlans {
		c.ApplicablePlans[i] = strings.ToLower(strings.TrimSpace(name))
	}
	return nil
}

// ListCoupons lists coupons.
func (b *Billing) ListCoupons(ctx context.Context, opts coupon.ListOpts) ([]*coupon.Coupon, error) {
	return b.store.ListCoupons(ctx, opts)
}
