package coupon_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/billing/coupon"
	"github.com/xraph/billing/types"
)

func ptrTime(t time.Time) *time.Time { return &t }
func ptrInt(n int) *int               { return &n }

func welcome10() *coupon.Coupon {
	return &coupon.Coupon{
		Code:          "WELCOME10",
		Type:          coupon.TypeFirstPaymentDiscount,
		Value:         decimal.NewFromInt(10),
		ValueType:     coupon.ValuePercent,
		FirstTimeOnly: true,
		Active:        true,
	}
}

func TestEvaluate(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		mutate func(c *coupon.Coupon)
		facts  coupon.Facts
		want   coupon.Result
	}{
		{
			name:  "eligible",
			facts: coupon.Facts{PlanName: "lite"},
			want:  coupon.Result{Eligible: true, Benefit: "10% off the first payment"},
		},
		{
			name:   "inactive wins over everything",
			mutate: func(c *coupon.Coupon) { c.Active = false; c.MaxUses = ptrInt(0) },
			facts:  coupon.Facts{AlreadyUsed: true, HasPaidSubscription: true},
			want:   coupon.Result{Reason: coupon.ReasonInactive},
		},
		{
			name:   "not started",
			mutate: func(c *coupon.Coupon) { c.StartsAt = ptrTime(now.Add(time.Hour)) },
			want:   coupon.Result{Reason: coupon.ReasonNotStarted},
		},
		{
			name:   "starts exactly now",
			mutate: func(c *coupon.Coupon) { c.StartsAt = ptrTime(now) },
			want:   coupon.Result{Eligible: true, Benefit: "10% off the first payment"},
		},
		{
			name:   "expires exactly now",
			mutate: func(c *coupon.Coupon) { c.ExpiresAt = ptrTime(now) },
			want:   coupon.Result{Reason: coupon.ReasonExpired},
		},
		{
			name:   "usage cap reached",
			mutate: func(c *coupon.Coupon) { c.MaxUses = ptrInt(5); c.CurrentUses = 5 },
			facts:  coupon.Facts{AlreadyUsed: true},
			want:   coupon.Result{Reason: coupon.ReasonExhausted},
		},
		{
			name:  "already used by account",
			facts: coupon.Facts{AlreadyUsed: true, HasPaidSubscription: true},
			want:  coupon.Result{Reason: coupon.ReasonAlreadyUsed},
		},
		{
			name:  "first-time only with prior paid subscription",
			facts: coupon.Facts{HasPaidSubscription: true},
			want:  coupon.Result{Reason: "first-time customers only"},
		},
		{
			name:   "plan not applicable",
			mutate: func(c *coupon.Coupon) { c.ApplicablePlans = []string{"pro"} },
			facts:  coupon.Facts{PlanName: "lite"},
			want:   coupon.Result{Reason: "coupon is not valid for plan lite"},
		},
		{
			name:   "plan list ignored without a plan",
			mutate: func(c *coupon.Coupon) { c.ApplicablePlans = []string{"pro"} },
			want:   coupon.Result{Eligible: true, Benefit: "10% off the first payment"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := welcome10()
			if tt.mutate != nil {
				tt.mutate(c)
			}
			got := coupon.Evaluate(c, tt.facts, now)
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestBenefit(t *testing.T) {
	tests := []struct {
		typ       coupon.Type
		valueType coupon.ValueType
		value     int64
		want      string
	}{
		{coupon.TypeExtraTrialDays, coupon.ValueFixed, 7, "7 extra trial days"},
		{coupon.TypeFreeMonths, coupon.ValueFixed, 2, "2 free months"},
		{coupon.TypeFirstPaymentDiscount, coupon.ValuePercent, 10, "10% off the first payment"},
		{coupon.TypeFirstPaymentDiscount, coupon.ValueFixed, 20, "₪20.00 off the first payment"},
		{coupon.TypeRecurringDiscount, coupon.ValuePercent, 15, "15% off every payment"},
		{coupon.TypeRecurringDiscount, coupon.ValueFixed, 5, "₪5.00 off every payment"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			c := &coupon.Coupon{Type: tt.typ, ValueType: tt.valueType, Value: decimal.NewFromInt(tt.value)}
			if got := c.Benefit(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDiscount(t *testing.T) {
	capped := types.ILS(300)

	tests := []struct {
		name   string
		coupon coupon.Coupon
		price  types.Money
		want   types.Money
	}{
		{
			name:   "percent",
			coupon: coupon.Coupon{Type: coupon.TypeFirstPaymentDiscount, ValueType: coupon.ValuePercent, Value: decimal.NewFromInt(10)},
			price:  types.ILS(4900),
			want:   types.ILS(490),
		},
		{
			name:   "percent capped by max discount",
			coupon: coupon.Coupon{Type: coupon.TypeRecurringDiscount, ValueType: coupon.ValuePercent, Value: decimal.NewFromInt(50), MaxDiscount: &capped},
			price:  types.ILS(4900),
			want:   types.ILS(300),
		},
		{
			name:   "fixed in major units",
			coupon: coupon.Coupon{Type: coupon.TypeFirstPaymentDiscount, ValueType: coupon.ValueFixed, Value: decimal.NewFromInt(20)},
			price:  types.ILS(4900),
			want:   types.ILS(2000),
		},
		{
			name:   "fixed capped at price",
			coupon: coupon.Coupon{Type: coupon.TypeFirstPaymentDiscount, ValueType: coupon.ValueFixed, Value: decimal.NewFromInt(100)},
			price:  types.ILS(4900),
			want:   types.ILS(4900),
		},
		{
			name:   "trial days give no discount",
			coupon: coupon.Coupon{Type: coupon.TypeExtraTrialDays, ValueType: coupon.ValueFixed, Value: decimal.NewFromInt(7)},
			price:  types.ILS(4900),
			want:   types.ILS(0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.coupon.Discount(tt.price); !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeCode(t *testing.T) {
	if got := coupon.NormalizeCode("  welcome10 "); got != "WELCOME10" {
		t.Errorf("got %q, want %q", got, "WELCOME10")
	}
}

func TestUnits(t *testing.T) {
	tests := []struct {
		typ   coupon.Type
		value string
		want  int
	}{
		{coupon.TypeExtraTrialDays, "7", 7},
		{coupon.TypeFreeMonths, "2", 2},
		{coupon.TypeFreeMonths, "1.9", 1},
	}

	for _, tt := range tests {
		c := &coupon.Coupon{Type: tt.typ, ValueType: coupon.ValueFixed, Value: decimal.RequireFromString(tt.value)}
		if got := c.Units(); got != tt.want {
			t.Errorf("%s %s: Units() = %d, want %d", tt.typ, tt.value, got, tt.want)
		}
	}
}
