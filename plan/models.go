package plan

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/billing/id"
	"github.com/xraph/billing/types"
)

const DefaultPeriodDays = 30

type Plan struct {
	types.Entity
	ID              id.PlanID         `json:"id"`
	Name            string            `json:"name"`
	DisplayName     string            `json:"display_name"`
	Description     string            `json:"description,omitempty"`
	Price           types.Money       `json:"price"`
	TaxPercent      decimal.Decimal   `json:"tax_percent"`
	PeriodDays      int               `json:"period_days"`
	CheckoutEnabled bool              `json:"checkout_enabled"`
	Active          bool              `json:"active"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Period is the billing cadence. Plans without an explicit cadence bill every 30 days.
func (p *Plan) Period() time.Duration {
	days := p.PeriodDays
	if days <= 0 {
		days = DefaultPeriodDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// Quote is the breakdown of a single plan payment.
type Quote struct {
	Price      types.Money     `json:"price"`
	Discount   types.Money     `json:"discount"`
	Net        types.Money     `json:"net"`
	TaxPercent decimal.Decimal `json:"tax_percent"`
	Tax        types.Money     `json:"tax"`
	Total      types.Money     `json:"total"`
}

// Quote prices one period. The discount is taken off before tax and is
// capped at the plan price.
func (p *Plan) Quote(discount types.Money) Quote {
	if discount.Currency == "" {
		discount = types.Zero(p.Price.Currency)
	}
	discount = discount.Min(p.Price)
	net := p.Price.Subtract(discount)
	tax := net.Percent(p.TaxPercent)
	return Quote{
		Price:      p.Price,
		Discount:   discount,
		Net:        net,
		TaxPercent: p.TaxPercent,
		Tax:        tax,
		Total:      net.Add(tax),
	}
}

type Summary struct {
	Name        string      `json:"name"`
	DisplayName string      `json:"display_name"`
	Price       types.Money `json:"price"`
	Total       types.Money `json:"total"`
	PeriodDays  int         `json:"period_days"`
}

func (p *Plan) Summarize(q Quote) Summary {
	return Summary{
		Name:        p.Name,
		DisplayName: p.DisplayName,
		Price:       p.Price,
		Total:       q.Total,
		PeriodDays:  int(p.Period() / (24 * time.Hour)),
	}
}
