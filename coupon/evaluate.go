package coupon

import (
	"fmt"
	"slices"
	"time"

	"github.com/xraph/billing/types"
)

// Ineligibility reasons, in evaluation order.
const (
	ReasonInactive      = "coupon is not active"
	ReasonNotStarted    = "coupon is not valid yet"
	ReasonExpired       = "coupon has expired"
	ReasonExhausted     = "coupon usage limit reached"
	ReasonAlreadyUsed   = "coupon already used by this store"
	ReasonFirstTimeOnly = "first-time customers only"
	ReasonPlanMismatch  = "coupon is not valid for plan %s"
)

// ReasonNotFound is reported for codes that match no coupon.
const ReasonNotFound = "coupon not found"

// Facts are the account-specific inputs the evaluator needs. They are
// gathered by the caller so Evaluate stays free of I/O.
type Facts struct {
	AlreadyUsed         bool
	HasPaidSubscription bool
	PlanName            string
}

type Result struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
	Benefit  string `json:"benefit,omitempty"`
}

// Evaluate runs the eligibility checks in a fixed order and reports the
// first one that fails.
func Evaluate(c *Coupon, f Facts, now time.Time) Result {
	switch {
	case !c.Active:
		return Result{Reason: ReasonInactive}
	case c.StartsAt != nil && now.Before(*c.StartsAt):
		return Result{Reason: ReasonNotStarted}
	case c.ExpiresAt != nil && !now.Before(*c.ExpiresAt):
		return Result{Reason: ReasonExpired}
	case c.MaxUses != nil && c.CurrentUses >= *c.MaxUses:
		return Result{Reason: ReasonExhausted}
	case f.AlreadyUsed:
		return Result{Reason: ReasonAlreadyUsed}
	case c.FirstTimeOnly && f.HasPaidSubscription:
		return Result{Reason: ReasonFirstTimeOnly}
	case f.PlanName != "" && len(c.ApplicablePlans) > 0 && !slices.Contains(c.ApplicablePlans, f.PlanName):
		return Result{Reason: fmt.Sprintf(ReasonPlanMismatch, f.PlanName)}
	}
	return Result{Eligible: true, Benefit: c.Benefit()}
}

// Benefit describes what the coupon grants.
func (c *Coupon) Benefit() string {
	v := c.Value.String()
	switch c.Type {
	case TypeExtraTrialDays:
		return fmt.Sprintf("%s extra trial days", v)
	case TypeFreeMonths:
		return fmt.Sprintf("%s free months", v)
	case TypeFirstPaymentDiscount:
		if c.ValueType == ValuePercent {
			return fmt.Sprintf("%s%% off the first payment", v)
		}
		return fmt.Sprintf("%s off the first payment", c.fixedDisplay())
	case TypeRecurringDiscount:
		if c.ValueType == ValuePercent {
			return fmt.Sprintf("%s%% off every payment", v)
		}
		return fmt.Sprintf("%s off every payment", c.fixedDisplay())
	default:
		return c.Description
	}
}

func (c *Coupon) fixedDisplay() string {
	return types.FromMajor(c.Value, types.DefaultCurrency).String()
}
