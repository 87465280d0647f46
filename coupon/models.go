package coupon

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/billing/id"
	"github.com/xraph/billing/types"
)

type Type string

const (
	TypeExtraTrialDays       Type = "extra_trial_days"
	TypeFreeMonths           Type = "free_months"
	TypeFirstPaymentDiscount Type = "first_payment_discount"
	TypeRecurringDiscount    Type = "recurring_discount"
)

type ValueType string

const (
	ValuePercent ValueType = "percent"
	ValueFixed   ValueType = "fixed"
)

type Coupon struct {
	types.Entity
	ID              id.CouponID       `json:"id"`
	Code            string            `json:"code"`
	Type            Type              `json:"type"`
	Value           decimal.Decimal   `json:"value"`
	ValueType       ValueType         `json:"value_type"`
	MaxDiscount     *types.Money      `json:"max_discount,omitempty"`
	ApplicablePlans []string          `json:"applicable_plans,omitempty"`
	FirstTimeOnly   bool              `json:"first_time_only"`
	MaxUses         *int              `json:"max_uses,omitempty"`
	CurrentUses     int               `json:"current_uses"`
	StartsAt        *time.Time        `json:"starts_at,omitempty"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
	Active          bool              `json:"active"`
	Description     string            `json:"description,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Usage records one redemption. There is at most one per (coupon, account).
type Usage struct {
	types.Entity
	ID             id.CouponUsageID  `json:"id"`
	CouponID       id.CouponID       `json:"coupon_id"`
	AccountID      string            `json:"account_id"`
	SubscriptionID id.SubscriptionID `json:"subscription_id,omitempty"`
	TransactionID  id.TransactionID  `json:"transaction_id,omitempty"`
	Savings        types.Money       `json:"savings"`
}

// NormalizeCode canonicalises user input; codes are stored upper-case.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsDiscount reports whether the coupon reduces a payment amount.
func (c *Coupon) IsDiscount() bool {
	return c.Type == TypeFirstPaymentDiscount || c.Type == TypeRecurringDiscount
}

// Discount is the amount taken off price. Percent discounts honour
// MaxDiscount; the result never exceeds price. Non-discount types return zero.
func (c *Coupon) Discount(price types.Money) types.Money {
	if !c.IsDiscount() || !price.IsPositive() {
		return types.Zero(price.Currency)
	}

	var off types.Money
	switch c.ValueType {
	case ValuePercent:
		off = price.Percent(c.Value)
		if c.MaxDiscount != nil && c.MaxDiscount.SameCurrency(price) {
			off = off.Min(*c.MaxDiscount)
		}
	default:
		off = types.FromMajor(c.Value, price.Currency)
	}
	if off.IsNegative() {
		return types.Zero(price.Currency)
	}
	return off.Min(price)
}

// Units is the integral Value of a count-based coupon: days for
// extra_trial_days, billing periods for free_months.
func (c *Coupon) Units() int {
	return int(c.Value.IntPart())
}
