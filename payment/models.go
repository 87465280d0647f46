package payment

import (
	"time"

	"github.com/xraph/billing/id"
	"github.com/xraph/billing/types"
)

type Kind string

const (
	KindCharge Kind = "charge"
	KindRefund Kind = "refund"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// IsTerminal reports whether the attempt has a final outcome.
func (s Status) IsTerminal() bool { return s != StatusPending }

// Context names what a charge pays for.
type Context string

const (
	ContextSubscription Context = "subscription"
	ContextRenewal      Context = "renewal"
	ContextOrder        Context = "order"
	ContextRefund       Context = "refund"
)

// Transaction is one charge or refund attempt. Reference is chosen by the
// caller before the gateway is contacted and is unique across the ledger;
// ExternalID is the provider's id, unique once set.
type Transaction struct {
	types.Entity
	ID             id.TransactionID  `json:"id"`
	AccountID      string            `json:"account_id"`
	Provider       string            `json:"provider"`
	Reference      string            `json:"reference"`
	ExternalID     string            `json:"external_id,omitempty"`
	Amount         types.Money       `json:"amount"`
	Kind           Kind              `json:"kind"`
	Status         Status            `json:"status"`
	Context        Context           `json:"context"`
	ContextID      string            `json:"context_id,omitempty"`
	PlanID         id.PlanID         `json:"plan_id,omitempty"`
	CouponID       id.CouponID       `json:"coupon_id,omitempty"`
	OriginalID     id.TransactionID  `json:"original_id,omitempty"`
	RefundedAmount int64             `json:"refunded_amount"`
	FailureReason  string            `json:"failure_reason,omitempty"`
	Description    string            `json:"description,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}

// Refundable is the amount not yet reserved by refunds.
func (t *Transaction) Refundable() types.Money {
	return types.New(t.Amount.Amount-t.RefundedAmount, t.Amount.Currency)
}

// Outcome is the final result of an attempt as reported by a gateway.
type Outcome struct {
	Status        Status
	ExternalID    string
	FailureReason string
	At            time.Time
}

// Token is an opaque, provider-issued reference to a saved payment method.
// No card data beyond display hints is kept.
type Token struct {
	types.Entity
	ID          id.TokenID `json:"id"`
	AccountID   string     `json:"account_id"`
	Provider    string     `json:"provider"`
	Token       string     `json:"-"`
	CustomerRef string     `json:"customer_ref,omitempty"`
	Last4       string     `json:"last4,omitempty"`
	Brand       string     `json:"brand,omitempty"`
	ExpMonth    int        `json:"exp_month,omitempty"`
	ExpYear     int        `json:"exp_year,omitempty"`
	Primary     bool       `json:"primary"`
	Active      bool       `json:"active"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}

// MethodSummary is the display-safe view of a saved payment method.
type MethodSummary struct {
	Provider string `json:"provider"`
	Brand    string `json:"brand,omitempty"`
	Last4    string `json:"last4,omitempty"`
	ExpMonth int    `json:"exp_month,omitempty"`
	ExpYear  int    `json:"exp_year,omitempty"`
}

func (t *Token) Summary() *MethodSummary {
	return &MethodSummary{
		Provider: t.Provider,
		Brand:    t.Brand,
		Last4:    t.Last4,
		ExpMonth: t.ExpMonth,
		ExpYear:  t.ExpYear,
	}
}
