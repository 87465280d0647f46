// Package payplus implements gateway.Gateway against the PayPlus REST API:
// hosted payment pages, token charges, and refunds by transaction UID.
package payplus

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/xraph/billing"
	"github.com/xraph/billing/gateway"
	"github.com/xraph/billing/types"
)

const (
	pathGenerateLink = "/PaymentPages/generateLink"
	pathCharge       = "/Transactions/Charge"
	pathRefund       = "/Transactions/RefundByTransactionUID"

	// SignatureHeader carries base64(HMAC-SHA256(secret_key, body)).
	SignatureHeader = "hash"

	chargeMethodRegular = 1
	creditTermsRegular  = 1
	vatIncluded         = 0
	maxResponseBytes    = 1 << 20
)

// Compile-time interface checks.
var (
	_ gateway.Gateway      = (*Gateway)(nil)
	_ gateway.TokenCharger = (*Gateway)(nil)
)

// Gateway is the PayPlus adapter.
type Gateway struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Option configures the adapter.
type Option func(*Gateway)

// WithHTTPClient replaces the HTTP client; its Timeout is left untouched.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// New builds the adapter. Missing credentials are a construction error.
func New(cfg Config, opts ...Option) (*Gateway, error) {
	if cfg.APIKey == "" || cfg.SecretKey == "" || cfg.PaymentPageUID == "" {
		return nil, fmt.Errorf("payplus: api_key, secret_key and payment_page_uid are required: %w",
			billing.ErrProviderNotConfigured)
	}
	cfg = cfg.withDefaults()

	g := &Gateway{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Name implements gateway.Gateway.
func (g *Gateway) Name() gateway.Provider { return gateway.ProviderPayPlus }

// InitiateCharge creates a hosted payment page. The caller's reference is
// sent as more_info and comes back in the callback.
func (g *Gateway) InitiateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	if err := gateway.CheckCharge(req.Reference, req.Amount); err != nil {
		return nil, billing.NewValidationError("amount", err)
	}

	body := generateLinkRequest{
		PaymentPageUID:      g.cfg.PaymentPageUID,
		ChargeMethod:        chargeMethodRegular,
		Amount:              json.Number(req.Amount.FormatMajor()),
		CurrencyCode:        strings.ToUpper(req.Amount.Currency),
		MoreInfo:            req.Reference,
		MoreInfo2:           req.Customer.AccountID,
		MoreInfo3:           req.PlanName,
		CreateToken:         req.CreateToken,
		RefURLSuccess:       req.Redirects.SuccessURL,
		RefURLFailure:       req.Redirects.FailureURL,
		RefURLCancel:        req.Redirects.CancelURL,
		RefURLCallback:      req.Redirects.CallbackURL,
		SendFailureCallback: true,
		ExpiryMinutes:       int(g.cfg.LinkExpiry.Minutes()),
		LanguageCode:        g.cfg.Language,
		Customer:            toCustomer(req.Customer),
	}
	if req.Description != "" {
		body.Items = []item{{
			Name:     req.Description,
			Quantity: 1,
			Price:    json.Number(req.Amount.FormatMajor()),
			VatType:  vatIncluded,
		}}
	}

	var data generateLinkData
	if err := g.do(ctx, "initiate charge", pathGenerateLink, body, &data); err != nil {
		return nil, err
	}
	if data.PaymentPageLink == "" {
		return nil, &billing.GatewayRejectedError{
			Provider: string(gateway.ProviderPayPlus),
			Reason:   "no payment page link in response",
		}
	}

	g.logger.Debug("payplus payment page created", "reference", req.Reference, "page_request_uid", data.PageRequestUID)
	return &gateway.ChargeResult{
		PaymentURL:  data.PaymentPageLink,
		ProviderRef: data.PageRequestUID,
	}, nil
}

// ChargeToken charges a saved token synchronously.
func (g *Gateway) ChargeToken(ctx context.Context, req gateway.TokenChargeRequest) (*gateway.TokenChargeResult, error) {
	if err := gateway.CheckCharge(req.Reference, req.Amount); err != nil {
		return nil, billing.NewValidationError("amount", err)
	}
	if req.Token == "" {
		return nil, &billing.ValidationError{Field: "token", Message: "payment token is required", Err: billing.ErrTokenNotFound}
	}

	body := tokenChargeRequest{
		TerminalUID:    g.cfg.TerminalUID,
		CashierUID:     g.cfg.CashierUID,
		Amount:         json.Number(req.Amount.FormatMajor()),
		CurrencyCode:   strings.ToUpper(req.Amount.Currency),
		CreditTerms:    creditTermsRegular,
		UseToken:       true,
		Token:          req.Token,
		CustomerUID:    req.CustomerRef,
		Customer:       toCustomer(req.Customer),
		InitialInvoice: true,
		MoreInfo:       req.Reference,
		MoreInfo2:      req.Customer.AccountID,
		MoreInfo3:      req.PlanName,
	}

	var data transactionData
	if err := g.do(ctx, "token charge", pathCharge, body, &data); err != nil {
		return nil, err
	}
	if err := checkTransaction(data); err != nil {
		return nil, err
	}
	return &gateway.TokenChargeResult{ProviderRef: data.TransactionUID}, nil
}

// Refund refunds part or all of a transaction. The bound is checked before
// any request is made.
func (g *Gateway) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error) {
	if err := gateway.CheckRefund(req); err != nil {
		return nil, billing.NewValidationError("amount", err)
	}
	if req.ProviderRef == "" {
		return nil, &billing.ValidationError{Field: "provider_ref", Message: "original provider transaction is unknown"}
	}

	body := refundRequest{
		TerminalUID:    g.cfg.TerminalUID,
		TransactionUID: req.ProviderRef,
		Amount:         json.Number(req.Amount.FormatMajor()),
		PartialRefund:  req.Amount.Amount < req.Original.Amount,
		MoreInfo:       req.Reference,
	}

	var data transactionData
	if err := g.do(ctx, "refund", pathRefund, body, &data); err != nil {
		return nil, err
	}
	if data.Status != "" || data.StatusCode != "" {
		if err := checkTransaction(data); err != nil {
			return nil, err
		}
	}
	return &gateway.RefundResult{ProviderRef: data.TransactionUID, Completed: true}, nil
}

// SignatureHeader names the callback header holding the signature.
func (g *Gateway) SignatureHeader() string { return SignatureHeader }

// ParseNotification verifies the hash header and decodes an IPN callback.
func (g *Gateway) ParseNotification(_ context.Context, payload []byte, signature string) (*gateway.Notification, error) {
	if !g.validSignature(payload, signature) {
		return nil, billing.ErrInvalidSignature
	}

	var msg ipn
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("payplus: decode callback: %w: %w", billing.ErrMalformedNotification, err)
	}
	if msg.MoreInfo == "" {
		return nil, fmt.Errorf("payplus: callback without more_info: %w", billing.ErrMalformedNotification)
	}

	n := &gateway.Notification{
		Provider:    gateway.ProviderPayPlus,
		Reference:   msg.MoreInfo,
		ProviderRef: firstNonEmpty(msg.TransactionUID, msg.PageRequestUID),
		Approved:    approved(msg.Status, msg.StatusCode),
		Code:        msg.StatusCode.String(),
		AccountID:   msg.MoreInfo2,
		PlanName:    msg.MoreInfo3,
	}
	if msg.Amount != "" {
		currency := msg.CurrencyCode
		if currency == "" {
			currency = types.DefaultCurrency
		}
		amount, err := types.ParseMajor(msg.Amount.String(), currency)
		if err != nil {
			return nil, fmt.Errorf("payplus: callback amount: %w: %w", billing.ErrMalformedNotification, err)
		}
		n.Amount = amount
	}
	if !n.Approved {
		n.Reason = firstNonEmpty(msg.StatusDescription, "payment failed: "+msg.Status)
		return n, nil
	}
	if msg.Token != "" {
		n.Token = savedMethod(&msg)
	}
	return n, nil
}

// Sign computes the callback hash for payload. Exposed for tests and for
// replaying stored callbacks.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (g *Gateway) validSignature(payload []byte, signature string) bool {
	if signature == "" {
		return false
	}
	want := Sign(g.cfg.SecretKey, payload)
	return hmac.Equal([]byte(want), []byte(signature))
}

// ──────────────────────────────────────────────────
// Transport
// ──────────────────────────────────────────────────

func (g *Gateway) do(ctx context.Context, op, path string, body, out any) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return g.transient(op, err)
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("payplus: encode %s: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.baseURL()+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("payplus: build %s: %w", op, err)
	}
	auth, _ := json.Marshal(map[string]string{"api_key": g.cfg.APIKey, "secret_key": g.cfg.SecretKey})
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", string(auth))

	resp, err := g.client.Do(req)
	if err != nil {
		return g.transient(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return g.transient(op, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return g.transient(op, fmt.Errorf("http status %d", resp.StatusCode))
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return g.rejected(strconv.Itoa(resp.StatusCode), http.StatusText(resp.StatusCode))
		}
		return g.transient(op, fmt.Errorf("decode response: %w", err))
	}
	if resp.StatusCode >= http.StatusBadRequest || strings.EqualFold(env.Results.Status, "error") {
		code := env.Results.Code.String()
		if code == "" {
			code = strconv.Itoa(resp.StatusCode)
		}
		return g.rejected(code, firstNonEmpty(env.Results.Description, "request failed"))
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return g.transient(op, fmt.Errorf("decode data: %w", err))
		}
	}
	return nil
}

func (g *Gateway) transient(op string, err error) error {
	g.logger.Warn("payplus request failed", "op", op, "error", err)
	return &billing.GatewayTransientError{Provider: string(gateway.ProviderPayPlus), Op: op, Err: err}
}

func (g *Gateway) rejected(code, reason string) error {
	return &billing.GatewayRejectedError{Provider: string(gateway.ProviderPayPlus), Code: code, Reason: reason}
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func approved(status string, code flexString) bool {
	return strings.EqualFold(status, "approved") || code == "000"
}

func checkTransaction(data transactionData) error {
	if approved(data.Status, data.StatusCode) {
		return nil
	}
	return &billing.GatewayRejectedError{
		Provider: string(gateway.ProviderPayPlus),
		Code:     data.StatusCode.String(),
		Reason:   firstNonEmpty(data.StatusDescription, "transaction "+data.Status),
	}
}

func savedMethod(msg *ipn) *gateway.SavedMethod {
	m := &gateway.SavedMethod{
		Token:       msg.Token,
		CustomerRef: msg.CustomerUID,
		Last4:       msg.FourDigits.String(),
		Brand:       strings.ToLower(msg.BrandName),
		ExpMonth:    msg.ExpiryMonth.Int(),
		ExpYear:     msg.ExpiryYear.Int(),
	}
	if ci := msg.CardInformation; ci != nil {
		m.Last4 = firstNonEmpty(m.Last4, ci.FourDigits.String())
		m.Brand = firstNonEmpty(m.Brand, strings.ToLower(ci.BrandName))
		if m.ExpMonth == 0 {
			m.ExpMonth = ci.ExpiryMonth.Int()
		}
		if m.ExpYear == 0 {
			m.ExpYear = ci.ExpiryYear.Int()
		}
	}
	if msg.Customer != nil {
		m.CustomerRef = firstNonEmpty(m.CustomerRef, msg.Customer.CustomerUID)
	}
	if m.ExpYear > 0 && m.ExpYear < 100 {
		m.ExpYear += 2000
	}
	return m
}

func toCustomer(c gateway.Customer) customer {
	return customer{Name: firstNonEmpty(c.Name, c.Email), Email: c.Email, Phone: c.Phone}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
