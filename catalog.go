package billing

import (
	"context"
	"errors"
	"strings"

	"github.com/xraph/billing/id"
	"github.com/xraph/billing/plan"
	"github.com/xraph/billing/types"
)

// ──────────────────────────────────────────────────
// Plan administration
// ──────────────────────────────────────────────────

// CreatePlan validates and stores a new plan. Names are lowercased slugs
// and unique.
func (b *Billing) CreatePlan(ctx context.Context, p *plan.Plan) error {
	if err := b.validatePlan(p); err != nil {
		return err
	}

	if p.ID.IsNil() {
		p.ID = id.NewPlanID()
	}
	p.Entity = types.NewEntityAt(b.clock.Now())

	if err := b.store.CreatePlan(ctx, p); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return NewValidationError("name", ErrAlreadyExists)
		}
		return err
	}

	b.plugins.EmitPlanCreated(ctx, p)
	b.logger.Info("plan created", "plan", p.Name, "price", p.Price.String())
	return nil
}

// UpdatePlan replaces a plan's mutable fields. Existing subscriptions keep
// their plan id and see the new price from their next charge.
func (b *Billing) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	if err := b.validatePlan(p); err != nil {
		return err
	}
	p.Touch(b.clock.Now())
	return b.store.UpdatePlan(ctx, p)
}

func (b *Billing) validatePlan(p *plan.Plan) error {
	invalid := func(field, msg string) error {
		return &ValidationError{Field: field, Message: msg, Err: ErrInvalidPlan}
	}

	p.Name = strings.ToLower(strings.TrimSpace(p.Name))
	if p.Name == "" {
		return invalid("name", "is required")
	}
	if p.DisplayName == "" {
		p.DisplayName = p.Name
	}
	if p.Price.Currency == "" {
		p.Price.Currency = b.currency
	}
	if !p.Price.IsPositive() {
		return invalid("price", "must be positive")
	}
	if p.TaxPercent.IsNegative() {
		return invalid("tax_percent", "cannot be negative")
	}
	if p.PeriodDays < 0 {
		return invalid("period_days", "cannot be negative")
	}
	if p.PeriodDays == 0 {
		p.PeriodDays = plan.DefaultPeriodDays
	}
	return nil
}

// GetPlanByName looks a plan up by its slug.
func (b *Billing) GetPlanByName(ctx context.Context, name string) (*plan.Plan, error) {
	return b.store.GetPlanByName(ctx, strings.ToLower(strings.TrimSpace(name)))
}

// ListPlans lists plans.
func (b *Billing) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	return b.store.ListPlans(ctx, opts)
}
