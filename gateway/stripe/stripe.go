// Package stripe implements gateway.Gateway with Stripe Checkout Sessions,
// off-session PaymentIntents for saved cards, and Refunds.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/refund"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/xraph/billing"
	"github.com/xraph/billing/gateway"
	"github.com/xraph/billing/types"
)

// Metadata keys attached to every Stripe object created by the adapter.
const (
	MetaReference = "billing_reference"
	MetaAccount   = "billing_account"
	MetaPlan      = "billing_plan"
)

// Config holds Stripe credentials.
type Config struct {
	SecretKey     string `json:"secret_key" mapstructure:"secret_key" yaml:"secret_key"`
	WebhookSecret string `json:"webhook_secret" mapstructure:"webhook_secret" yaml:"webhook_secret"`
	// SaveCards asks Checkout to keep the card for off-session renewals.
	SaveCards bool `json:"save_cards" mapstructure:"save_cards" yaml:"save_cards"`
}

// Compile-time interface checks.
var (
	_ gateway.Gateway      = (*Gateway)(nil)
	_ gateway.TokenCharger = (*Gateway)(nil)
)

// Gateway is the Stripe adapter. It uses per-adapter API clients and never
// touches the package-level stripe.Key.
type Gateway struct {
	cfg      Config
	sessions session.Client
	intents  paymentintent.Client
	refunds  refund.Client
	logger   *slog.Logger
}

// Option configures the adapter.
type Option func(*Gateway)

// WithBackend routes API calls through b, e.g. a backend pointed at a test server.
func WithBackend(b stripeapi.Backend) Option {
	return func(g *Gateway) {
		g.sessions.B = b
		g.intents.B = b
		g.refunds.B = b
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// New builds the adapter. Missing keys are a construction error.
func New(cfg Config, opts ...Option) (*Gateway, error) {
	if cfg.SecretKey == "" || cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("stripe: secret_key and webhook_secret are required: %w", billing.ErrProviderNotConfigured)
	}

	backend := stripeapi.GetBackend(stripeapi.APIBackend)
	g := &Gateway{
		cfg:      cfg,
		sessions: session.Client{B: backend, Key: cfg.SecretKey},
		intents:  paymentintent.Client{B: backend, Key: cfg.SecretKey},
		refunds:  refund.Client{B: backend, Key: cfg.SecretKey},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Name implements gateway.Gateway.
func (g *Gateway) Name() gateway.Provider { return gateway.ProviderStripe }

// InitiateCharge creates a payment-mode Checkout Session. The caller's
// reference is the session's client_reference_id and idempotency key.
func (g *Gateway) InitiateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	if err := gateway.CheckCharge(req.Reference, req.Amount); err != nil {
		return nil, billing.NewValidationError("amount", err)
	}

	name := req.Description
	if name == "" {
		name = req.PlanName
	}
	params := &stripeapi.CheckoutSessionParams{
		Mode:              stripeapi.String(string(stripeapi.CheckoutSessionModePayment)),
		ClientReferenceID: stripeapi.String(req.Reference),
		SuccessURL:        stripeapi.String(req.Redirects.SuccessURL),
		CancelURL:         stripeapi.String(firstNonEmpty(req.Redirects.CancelURL, req.Redirects.FailureURL)),
		LineItems: []*stripeapi.CheckoutSessionLineItemParams{{
			Quantity: stripeapi.Int64(1),
			PriceData: &stripeapi.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripeapi.String(req.Amount.Currency),
				UnitAmount: stripeapi.Int64(req.Amount.Amount),
				ProductData: &stripeapi.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripeapi.String(name),
				},
			},
		}},
		PaymentIntentData: &stripeapi.CheckoutSessionPaymentIntentDataParams{
			Metadata: g.metadata(req.Reference, req.Customer.AccountID, req.PlanName),
		},
	}
	if req.Customer.Email != "" {
		params.CustomerEmail = stripeapi.String(req.Customer.Email)
	}
	if req.CreateToken && g.cfg.SaveCards {
		params.CustomerCreation = stripeapi.String(string(stripeapi.CheckoutSessionCustomerCreationAlways))
		params.PaymentIntentData.SetupFutureUsage = stripeapi.String(string(stripeapi.PaymentIntentSetupFutureUsageOffSession))
	}
	for k, v := range g.metadata(req.Reference, req.Customer.AccountID, req.PlanName) {
		params.AddMetadata(k, v)
	}
	params.SetIdempotencyKey(req.Reference)
	params.Context = ctx

	s, err := g.sessions.New(params)
	if err != nil {
		return nil, g.classify("initiate charge", err)
	}
	return &gateway.ChargeResult{PaymentURL: s.URL, ProviderRef: s.ID}, nil
}

// ChargeToken confirms an off-session PaymentIntent against a saved
// payment method.
func (g *Gateway) ChargeToken(ctx context.Context, req gateway.TokenChargeRequest) (*gateway.TokenChargeResult, error) {
	if err := gateway.CheckCharge(req.Reference, req.Amount); err != nil {
		return nil, billing.NewValidationError("amount", err)
	}
	if req.Token == "" || req.CustomerRef == "" {
		return nil, &billing.ValidationError{Field: "token", Message: "saved payment method and customer are required", Err: billing.ErrTokenNotFound}
	}

	params := &stripeapi.PaymentIntentParams{
		Amount:        stripeapi.Int64(req.Amount.Amount),
		Currency:      stripeapi.String(req.Amount.Currency),
		Customer:      stripeapi.String(req.CustomerRef),
		PaymentMethod: stripeapi.String(req.Token),
		OffSession:    stripeapi.Bool(true),
		Confirm:       stripeapi.Bool(true),
	}
	if req.Description != "" {
		params.Description = stripeapi.String(req.Description)
	}
	for k, v := range g.metadata(req.Reference, req.Customer.AccountID, req.PlanName) {
		params.AddMetadata(k, v)
	}
	params.SetIdempotencyKey(req.Reference)
	params.Context = ctx

	pi, err := g.intents.New(params)
	if err != nil {
		return nil, g.classify("token charge", err)
	}
	if pi.Status != stripeapi.PaymentIntentStatusSucceeded && pi.Status != stripeapi.PaymentIntentStatusProcessing {
		return nil, &billing.GatewayRejectedError{
			Provider: string(gateway.ProviderStripe),
			Code:     string(pi.Status),
			Reason:   "payment requires customer action",
		}
	}
	return &gateway.TokenChargeResult{ProviderRef: pi.ID}, nil
}

// Refund refunds against the charge's PaymentIntent.
func (g *Gateway) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error) {
	if err := gateway.CheckRefund(req); err != nil {
		return nil, billing.NewValidationError("amount", err)
	}
	if req.ProviderRef == "" {
		return nil, &billing.ValidationError{Field: "provider_ref", Message: "original payment intent is unknown"}
	}

	params := &stripeapi.RefundParams{
		PaymentIntent: stripeapi.String(req.ProviderRef),
		Amount:        stripeapi.Int64(req.Amount.Amount),
	}
	params.AddMetadata(MetaReference, req.Reference)
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}
	params.SetIdempotencyKey(req.Reference)
	params.Context = ctx

	r, err := g.refunds.New(params)
	if err != nil {
		return nil, g.classify("refund", err)
	}
	if r.Status == stripeapi.RefundStatusFailed || r.Status == stripeapi.RefundStatusCanceled {
		return nil, &billing.GatewayRejectedError{
			Provider: string(gateway.ProviderStripe),
			Code:     string(r.Status),
			Reason:   firstNonEmpty(string(r.FailureReason), "refund "+string(r.Status)),
		}
	}
	return &gateway.RefundResult{
		ProviderRef: r.ID,
		Completed:   r.Status == stripeapi.RefundStatusSucceeded,
	}, nil
}

// SignatureHeader names the webhook header holding the signature.
func (g *Gateway) SignatureHeader() string { return "Stripe-Signature" }

// ParseNotification verifies the Stripe-Signature header and maps checkout
// and refund events. Other event types are reported as malformed so the
// caller records and ignores them.
func (g *Gateway) ParseNotification(ctx context.Context, payload []byte, signature string) (*gateway.Notification, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("stripe: %w: %w", billing.ErrInvalidSignature, err)
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed", "checkout.session.expired":
		var s stripeapi.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("stripe: decode checkout session: %w: %w", billing.ErrMalformedNotification, err)
		}
		return g.sessionNotification(ctx, string(event.Type), &s)

	case "refund.created", "refund.updated", "refund.failed":
		var r stripeapi.Refund
		if err := json.Unmarshal(event.Data.Raw, &r); err != nil {
			return nil, fmt.Errorf("stripe: decode refund: %w: %w", billing.ErrMalformedNotification, err)
		}
		return refundNotification(&r)

	default:
		return nil, fmt.Errorf("stripe: unhandled event type %q: %w", event.Type, billing.ErrMalformedNotification)
	}
}

func (g *Gateway) sessionNotification(ctx context.Context, eventType string, s *stripeapi.CheckoutSession) (*gateway.Notification, error) {
	if s.ClientReferenceID == "" {
		return nil, fmt.Errorf("stripe: session %s without client_reference_id: %w", s.ID, billing.ErrMalformedNotification)
	}

	n := &gateway.Notification{
		Provider:  gateway.ProviderStripe,
		Reference: s.ClientReferenceID,
		Amount:    types.New(s.AmountTotal, string(s.Currency)),
		AccountID: s.Metadata[MetaAccount],
		PlanName:  s.Metadata[MetaPlan],
	}
	if s.PaymentIntent != nil {
		n.ProviderRef = s.PaymentIntent.ID
	}

	switch eventType {
	case "checkout.session.completed":
		if s.PaymentStatus != stripeapi.CheckoutSessionPaymentStatusPaid {
			// Delayed payment methods settle through async_payment_* events.
			return nil, fmt.Errorf("stripe: session %s not paid yet: %w", s.ID, billing.ErrMalformedNotification)
		}
		n.Approved = true
	case "checkout.session.async_payment_succeeded":
		n.Approved = true
	case "checkout.session.async_payment_failed":
		n.Code, n.Reason = "async_payment_failed", "payment failed"
	case "checkout.session.expired":
		n.Code, n.Reason = "expired", "checkout session expired"
	}

	if n.Approved && g.cfg.SaveCards && s.Customer != nil && n.ProviderRef != "" {
		n.Token = g.savedMethod(ctx, n.ProviderRef, s.Customer.ID)
	}
	return n, nil
}

// savedMethod loads the card behind a paid intent. Failure only loses the
// saved card, not the payment, so it is logged and skipped.
func (g *Gateway) savedMethod(ctx context.Context, intentID, customerID string) *gateway.SavedMethod {
	params := &stripeapi.PaymentIntentParams{}
	params.AddExpand("payment_method")
	params.Context = ctx

	pi, err := g.intents.Get(intentID, params)
	if err != nil || pi.PaymentMethod == nil {
		g.logger.Warn("stripe: could not load payment method", "payment_intent", intentID, "error", err)
		return nil
	}

	m := &gateway.SavedMethod{Token: pi.PaymentMethod.ID, CustomerRef: customerID}
	if card := pi.PaymentMethod.Card; card != nil {
		m.Last4 = card.Last4
		m.Brand = string(card.Brand)
		m.ExpMonth = int(card.ExpMonth)
		m.ExpYear = int(card.ExpYear)
	}
	return m
}

func refundNotification(r *stripeapi.Refund) (*gateway.Notification, error) {
	ref := r.Metadata[MetaReference]
	if ref == "" {
		return nil, fmt.Errorf("stripe: refund %s without reference: %w", r.ID, billing.ErrMalformedNotification)
	}
	switch r.Status {
	case stripeapi.RefundStatusSucceeded:
		return &gateway.Notification{
			Provider:    gateway.ProviderStripe,
			Reference:   ref,
			ProviderRef: r.ID,
			Approved:    true,
			Amount:      types.New(r.Amount, string(r.Currency)),
		}, nil
	case stripeapi.RefundStatusFailed, stripeapi.RefundStatusCanceled:
		return &gateway.Notification{
			Provider:    gateway.ProviderStripe,
			Reference:   ref,
			ProviderRef: r.ID,
			Code:        string(r.Status),
			Reason:      firstNonEmpty(string(r.FailureReason), "refund "+string(r.Status)),
			Amount:      types.New(r.Amount, string(r.Currency)),
		}, nil
	default:
		return nil, fmt.Errorf("stripe: refund %s still %s: %w", r.ID, r.Status, billing.ErrMalformedNotification)
	}
}

// classify maps stripe-go errors onto the billing taxonomy.
func (g *Gateway) classify(op string, err error) error {
	var se *stripeapi.Error
	if !errors.As(err, &se) {
		g.logger.Warn("stripe request failed", "op", op, "error", err)
		return &billing.GatewayTransientError{Provider: string(gateway.ProviderStripe), Op: op, Err: err}
	}
	if se.HTTPStatusCode >= http.StatusInternalServerError ||
		se.HTTPStatusCode == http.StatusTooManyRequests ||
		se.Type == stripeapi.ErrorTypeAPI {
		g.logger.Warn("stripe request failed", "op", op, "status", se.HTTPStatusCode, "error", se.Msg)
		return &billing.GatewayTransientError{Provider: string(gateway.ProviderStripe), Op: op, Err: err}
	}

	code := string(se.Code)
	if se.DeclineCode != "" {
		code = string(se.DeclineCode)
	}
	return &billing.GatewayRejectedError{
		Provider: string(gateway.ProviderStripe),
		Code:     code,
		Reason:   se.Msg,
	}
}

func (g *Gateway) metadata(reference, accountID, planName string) map[string]string {
	m := map[string]string{MetaReference: reference}
	if accountID != "" {
		m[MetaAccount] = accountID
	}
	if planName != "" {
		m[MetaPlan] = strings.ToLower(planName)
	}
	return m
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
