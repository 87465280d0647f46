// Package fake is an in-memory, scriptable gateway for tests. It records
// every request and builds callback payloads the way a provider would.
package fake

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xraph/billing"
	"github.com/xraph/billing/gateway"
	"github.com/xraph/billing/types"
)

// Compile-time interface checks.
var (
	_ gateway.Gateway      = (*Gateway)(nil)
	_ gateway.TokenCharger = (*Gateway)(nil)
)

// SignatureHeader carries the shared secret on fake callbacks.
const SignatureHeader = "X-Fake-Signature"

// Callback is the payload format understood by ParseNotification.
type Callback struct {
	Reference   string               `json:"reference"`
	ProviderRef string               `json:"provider_ref"`
	Approved    bool                 `json:"approved"`
	Code        string               `json:"code,omitempty"`
	Reason      string               `json:"reason,omitempty"`
	Amount      types.Money          `json:"amount"`
	Token       *gateway.SavedMethod `json:"token,omitempty"`
}

type Gateway struct {
	mu sync.Mutex

	// Secret, when set, must equal the signature passed to ParseNotification.
	Secret string

	charges      []gateway.ChargeRequest
	tokenCharges []gateway.TokenChargeRequest
	refunds      []gateway.RefundRequest

	chargeErr  error
	tokenErr   error
	refundErr  error
	refundSync bool
}

func New() *Gateway {
	return &Gateway{refundSync: true}
}

func (g *Gateway) Name() gateway.Provider { return gateway.ProviderFake }

func (g *Gateway) SignatureHeader() string { return SignatureHeader }

// FailCharges makes every following InitiateCharge return err; nil clears it.
func (g *Gateway) FailCharges(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chargeErr = err
}

// FailTokenCharges makes every following ChargeToken return err.
func (g *Gateway) FailTokenCharges(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokenErr = err
}

// FailRefunds makes every following Refund return err.
func (g *Gateway) FailRefunds(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundErr = err
}

// AsyncRefunds makes refunds settle through a later callback.
func (g *Gateway) AsyncRefunds() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundSync = false
}

func (g *Gateway) InitiateCharge(_ context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	if err := gateway.CheckCharge(req.Reference, req.Amount); err != nil {
		return nil, billing.NewValidationError("amount", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.charges = append(g.charges, req)
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	return &gateway.ChargeResult{
		PaymentURL:  "https://pay.fake.test/" + req.Reference,
		ProviderRef: "fake_" + req.Reference,
	}, nil
}

func (g *Gateway) ChargeToken(_ context.Context, req gateway.TokenChargeRequest) (*gateway.TokenChargeResult, error) {
	if err := gateway.CheckCharge(req.Reference, req.Amount); err != nil {
		return nil, billing.NewValidationError("amount", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.tokenCharges = append(g.tokenCharges, req)
	if g.tokenErr != nil {
		return nil, g.tokenErr
	}
	return &gateway.TokenChargeResult{ProviderRef: "fake_" + req.Reference}, nil
}

func (g *Gateway) Refund(_ context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error) {
	if err := gateway.CheckRefund(req); err != nil {
		return nil, billing.NewValidationError("amount", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.refunds = append(g.refunds, req)
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	return &gateway.RefundResult{ProviderRef: "fake_" + req.Reference, Completed: g.refundSync}, nil
}

func (g *Gateway) ParseNotification(_ context.Context, payload []byte, signature string) (*gateway.Notification, error) {
	if g.Secret != "" && signature != g.Secret {
		return nil, billing.ErrInvalidSignature
	}

	var cb Callback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, fmt.Errorf("fake: %w: %w", billing.ErrMalformedNotification, err)
	}
	if cb.Reference == "" {
		return nil, fmt.Errorf("fake: missing reference: %w", billing.ErrMalformedNotification)
	}
	return &gateway.Notification{
		Provider:    gateway.ProviderFake,
		Reference:   cb.Reference,
		ProviderRef: cb.ProviderRef,
		Approved:    cb.Approved,
		Code:        cb.Code,
		Reason:      cb.Reason,
		Amount:      cb.Amount,
		Token:       cb.Token,
	}, nil
}

// ──────────────────────────────────────────────────
// Callback builders
// ──────────────────────────────────────────────────

// Approve builds an approved callback payload for reference.
func Approve(reference string) []byte {
	return mustJSON(Callback{Reference: reference, ProviderRef: "fake_txn_" + reference, Approved: true})
}

// ApproveWithToken builds an approved callback that also saves a card.
func ApproveWithToken(reference string, m gateway.SavedMethod) []byte {
	return mustJSON(Callback{Reference: reference, ProviderRef: "fake_txn_" + reference, Approved: true, Token: &m})
}

// Decline builds a declined callback payload for reference.
func Decline(reference, reason string) []byte {
	return mustJSON(Callback{Reference: reference, ProviderRef: "fake_txn_" + reference, Code: "declined", Reason: reason})
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// ──────────────────────────────────────────────────
// Inspection
// ──────────────────────────────────────────────────

// Charges returns the hosted-page charges requested so far.
func (g *Gateway) Charges() []gateway.ChargeRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.ChargeRequest(nil), g.charges...)
}

// TokenCharges returns the saved-token charges requested so far.
func (g *Gateway) TokenCharges() []gateway.TokenChargeRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.TokenChargeRequest(nil), g.tokenCharges...)
}

// Refunds returns the refunds requested so far.
func (g *Gateway) Refunds() []gateway.RefundRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.RefundRequest(nil), g.refunds...)
}
