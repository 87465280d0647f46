// Package gateway defines the contract every payment provider adapter
// implements. Adapters only talk to their provider: persistence, state
// transitions, and retries are the caller's job.
//
// Every request carries a Reference chosen by the caller before the
// provider is contacted. The reference is echoed back in notifications so
// the ledger row can be found even when the provider's own transaction id
// is missing.
package gateway

import (
	"context"

	"github.com/xraph/billing/types"
)

// Provider names a payment provider. The set of providers is closed and
// selected once at construction time.
type Provider string

const (
	ProviderPayPlus Provider = "payplus"
	ProviderStripe  Provider = "stripe"
	ProviderFake    Provider = "fake"
)

// Gateway is implemented once per payment provider.
//
// Errors are *billing.GatewayTransientError for network failures, timeouts,
// 5xx and rate limiting (safe to retry with the same Reference) and
// *billing.GatewayRejectedError for provider refusals (terminal). Requests
// that fail local checks return *billing.ValidationError without any
// network call.
type Gateway interface {
	Name() Provider
	InitiateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	ParseNotification(ctx context.Context, payload []byte, signature string) (*Notification, error)
}

// TokenCharger is implemented by gateways that can charge a saved payment
// token without a hosted payment page. Renewals require it.
type TokenCharger interface {
	ChargeToken(ctx context.Context, req TokenChargeRequest) (*TokenChargeResult, error)
}

// SignatureHeaderer is implemented by gateways whose callbacks carry their
// signature in an HTTP header.
type SignatureHeaderer interface {
	SignatureHeader() string
}

type Customer struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
}

// Redirects are the URLs a hosted payment page sends the payer or the
// provider's server to.
type Redirects struct {
	SuccessURL  string `json:"success_url"`
	FailureURL  string `json:"failure_url"`
	CancelURL   string `json:"cancel_url,omitempty"`
	CallbackURL string `json:"callback_url"`
}

type ChargeRequest struct {
	Reference   string
	Amount      types.Money
	Customer    Customer
	Redirects   Redirects
	Description string
	PlanName    string
	CreateToken bool
	Metadata    map[string]string
}

type ChargeResult struct {
	PaymentURL  string `json:"payment_url"`
	ProviderRef string `json:"provider_ref"`
}

// RefundRequest refunds part or all of a completed charge. Original is the
// charged amount and AlreadyRefunded the sum of earlier refunds, so the
// adapter can bound the request before calling the provider.
type RefundRequest struct {
	Reference       string
	ProviderRef     string
	Amount          types.Money
	Original        types.Money
	AlreadyRefunded types.Money
	Reason          string
}

// RefundResult reports the provider refund. Completed is false when the
// provider settles refunds asynchronously and will notify later.
type RefundResult struct {
	ProviderRef string `json:"provider_ref"`
	Completed   bool   `json:"completed"`
}

type TokenChargeRequest struct {
	Reference   string
	Token       string
	CustomerRef string
	Amount      types.Money
	Customer    Customer
	Description string
	PlanName    string
}

type TokenChargeResult struct {
	ProviderRef string `json:"provider_ref"`
}

// Notification is a verified, provider-neutral view of a callback.
type Notification struct {
	Provider    Provider
	Reference   string
	ProviderRef string
	Approved    bool
	Code        string
	Reason      string
	Amount      types.Money
	AccountID   string
	PlanName    string
	Token       *SavedMethod
}

// SavedMethod is a reusable payment method the provider tokenised during
// the charge.
type SavedMethod struct {
	Token       string
	CustomerRef string
	Last4       string
	Brand       string
	ExpMonth    int
	ExpYear     int
}
