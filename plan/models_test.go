package plan_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/billing/plan"
	"github.com/xraph/billing/types"
)

func TestQuote(t *testing.T) {
	lite := &plan.Plan{
		Name:       "lite",
		Price:      types.ILS(4900),
		TaxPercent: decimal.NewFromInt(17),
	}

	tests := []struct {
		name     string
		discount types.Money
		net      types.Money
		tax      types.Money
		total    types.Money
	}{
		{"no discount", types.Money{}, types.ILS(4900), types.ILS(833), types.ILS(5733)},
		{"discount before VAT", types.ILS(490), types.ILS(4410), types.ILS(750), types.ILS(5160)},
		{"discount capped at price", types.ILS(10000), types.ILS(0), types.ILS(0), types.ILS(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := lite.Quote(tt.discount)
			if !q.Net.Equal(tt.net) {
				t.Errorf("Net: got %v, want %v", q.Net, tt.net)
			}
			if !q.Tax.Equal(tt.tax) {
				t.Errorf("Tax: got %v, want %v", q.Tax, tt.tax)
			}
			if !q.Total.Equal(tt.total) {
				t.Errorf("Total: got %v, want %v", q.Total, tt.total)
			}
		})
	}
}

func TestPeriod(t *testing.T) {
	tests := []struct {
		days int
		want time.Duration
	}{
		{0, 30 * 24 * time.Hour},
		{30, 30 * 24 * time.Hour},
		{365, 365 * 24 * time.Hour},
	}

	for _, tt := range tests {
		p := &plan.Plan{PeriodDays: tt.days}
		if got := p.Period(); got != tt.want {
			t.Errorf("PeriodDays=%d: got %v, want %v", tt.days, got, tt.want)
		}
	}
}
