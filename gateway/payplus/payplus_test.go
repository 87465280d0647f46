package payplus_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/billing"
	"github.com/xraph/billing/gateway"
	"github.com/xraph/billing/gateway/payplus"
	"github.com/xraph/billing/types"
)

const secret = "test-secret"

func newGateway(t *testing.T, handler http.HandlerFunc) (*payplus.Gateway, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	g, err := payplus.New(payplus.Config{
		APIKey:            "key",
		SecretKey:         secret,
		TerminalUID:       "term",
		PaymentPageUID:    "page",
		BaseURL:           srv.URL,
		Timeout:           2 * time.Second,
		RequestsPerSecond: 1000,
		Burst:             100,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g, &calls
}

func chargeRequest() gateway.ChargeRequest {
	return gateway.ChargeRequest{
		Reference:   "sub_ref_1",
		Amount:      types.ILS(5733),
		Customer:    gateway.Customer{AccountID: "42", Name: "Shop", Email: "owner@shop.test"},
		Redirects:   gateway.Redirects{SuccessURL: "https://shop.test/ok", FailureURL: "https://shop.test/fail", CallbackURL: "https://shop.test/cb"},
		Description: "Lite plan",
		PlanName:    "lite",
		CreateToken: true,
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := payplus.New(payplus.Config{APIKey: "key"})
	if !errors.Is(err, billing.ErrProviderNotConfigured) {
		t.Errorf("got %v, want ErrProviderNotConfigured", err)
	}
}

func TestInitiateCharge(t *testing.T) {
	var got map[string]any
	var auth map[string]string

	g, _ := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/PaymentPages/generateLink" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.Unmarshal([]byte(r.Header.Get("Authorization")), &auth)
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = io.WriteString(w, `{"results":{"status":"success","code":0,"description":"ok"},
			"data":{"page_request_uid":"prq_1","payment_page_link":"https://pay.test/p/1"}}`)
	})

	res, err := g.InitiateCharge(context.Background(), chargeRequest())
	if err != nil {
		t.Fatalf("InitiateCharge: %v", err)
	}
	if res.PaymentURL != "https://pay.test/p/1" || res.ProviderRef != "prq_1" {
		t.Errorf("unexpected result: %+v", res)
	}
	if auth["api_key"] != "key" || auth["secret_key"] != secret {
		t.Errorf("unexpected auth header: %v", auth)
	}

	checks := map[string]any{
		"amount":           57.33,
		"currency_code":    "ILS",
		"more_info":        "sub_ref_1",
		"more_info_2":      "42",
		"more_info_3":      "lite",
		"payment_page_uid": "page",
		"create_token":     true,
	}
	for k, want := range checks {
		if got[k] != want {
			t.Errorf("%s: got %v, want %v", k, got[k], want)
		}
	}
}

func TestInitiateChargeErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
		rejected  bool
	}{
		{"results error", http.StatusOK, `{"results":{"status":"error","code":"1-003","description":"terminal disabled"}}`, false, true},
		{"client error", http.StatusBadRequest, `{"results":{"status":"error","code":400,"description":"bad amount"}}`, false, true},
		{"server error", http.StatusServiceUnavailable, `oops`, true, false},
		{"rate limited", http.StatusTooManyRequests, `{}`, true, false},
		{"missing link", http.StatusOK, `{"results":{"status":"success"},"data":{}}`, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newGateway(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := g.InitiateCharge(context.Background(), chargeRequest())
			if err == nil {
				t.Fatal("expected error")
			}
			if got := billing.IsRetryable(err); got != tt.transient {
				t.Errorf("IsRetryable: got %v, want %v (%v)", got, tt.transient, err)
			}
			if got := billing.IsRejected(err); got != tt.rejected {
				t.Errorf("IsRejected: got %v, want %v (%v)", got, tt.rejected, err)
			}
		})
	}
}

func TestInitiateChargeNetworkFailure(t *testing.T) {
	g, err := payplus.New(payplus.Config{
		APIKey: "key", SecretKey: secret, PaymentPageUID: "page",
		BaseURL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = g.InitiateCharge(context.Background(), chargeRequest())
	var transient *billing.GatewayTransientError
	if !errors.As(err, &transient) {
		t.Fatalf("got %v, want GatewayTransientError", err)
	}
}

func TestRefundBoundCheckedLocally(t *testing.T) {
	g, calls := newGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"results":{"status":"success"},"data":{"transaction_uid":"r1","status":"approved"}}`)
	})

	_, err := g.Refund(context.Background(), gateway.RefundRequest{
		Reference:       "rf_2",
		ProviderRef:     "txn_uid",
		Amount:          types.ILS(7000),
		Original:        types.ILS(10000),
		AlreadyRefunded: types.ILS(4000),
	})
	if !billing.IsValidation(err) || !errors.Is(err, billing.ErrRefundExceedsBalance) {
		t.Fatalf("got %v, want validation error wrapping ErrRefundExceedsBalance", err)
	}
	if atomic.LoadInt32(calls) != 0 {
		t.Errorf("provider was called %d times, want 0", *calls)
	}
}

func TestRefund(t *testing.T) {
	var got map[string]any
	g, _ := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Transactions/RefundByTransactionUID" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = io.WriteString(w, `{"results":{"status":"success"},"data":{"transaction_uid":"r1","status":"approved","status_code":"000"}}`)
	})

	res, err := g.Refund(context.Background(), gateway.RefundRequest{
		Reference:   "rf_1",
		ProviderRef: "txn_uid",
		Amount:      types.ILS(4000),
		Original:    types.ILS(10000),
	})
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if !res.Completed || res.ProviderRef != "r1" {
		t.Errorf("unexpected result: %+v", res)
	}
	if got["transaction_uid"] != "txn_uid" || got["amount"] != 40.0 || got["partial_refund"] != true {
		t.Errorf("unexpected body: %v", got)
	}
}

func TestChargeTokenDeclined(t *testing.T) {
	g, _ := newGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"results":{"status":"success"},"data":{"transaction_uid":"t1","status":"rejected","status_code":"033","status_description":"card expired"}}`)
	})

	_, err := g.ChargeToken(context.Background(), gateway.TokenChargeRequest{
		Reference: "renew_1",
		Token:     "tok",
		Amount:    types.ILS(5733),
	})
	var rejected *billing.GatewayRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("got %v, want GatewayRejectedError", err)
	}
	if rejected.Code != "033" || rejected.Reason != "card expired" {
		t.Errorf("unexpected rejection: %+v", rejected)
	}
}

func TestParseNotification(t *testing.T) {
	g, _ := newGateway(t, func(http.ResponseWriter, *http.Request) {})

	approvedPayload := []byte(`{"transaction_uid":"tx_9","status":"approved","status_code":"000","amount":57.33,
		"currency_code":"ILS","more_info":"sub_ref_1","more_info_2":"42","more_info_3":"lite",
		"token":"tok_1","customer_uid":"cus_1","card_information":{"four_digits":"4242","brand_name":"Visa","expiry_month":"12","expiry_year":"29"}}`)
	declinedPayload := []byte(`{"transaction_uid":"tx_10","status":"rejected","status_code":"006","status_description":"declined","more_info":"sub_ref_2"}`)

	tests := []struct {
		name      string
		payload   []byte
		signature string
		wantErr   error
		check     func(t *testing.T, n *gateway.Notification)
	}{
		{
			name:      "approved with token",
			payload:   approvedPayload,
			signature: payplus.Sign(secret, approvedPayload),
			check: func(t *testing.T, n *gateway.Notification) {
				if !n.Approved || n.Reference != "sub_ref_1" || n.ProviderRef != "tx_9" {
					t.Errorf("unexpected notification: %+v", n)
				}
				if !n.Amount.Equal(types.ILS(5733)) {
					t.Errorf("amount: got %v, want %v", n.Amount, types.ILS(5733))
				}
				if n.Token == nil || n.Token.Last4 != "4242" || n.Token.Brand != "visa" || n.Token.ExpYear != 2029 {
					t.Errorf("unexpected token: %+v", n.Token)
				}
			},
		},
		{
			name:      "declined",
			payload:   declinedPayload,
			signature: payplus.Sign(secret, declinedPayload),
			check: func(t *testing.T, n *gateway.Notification) {
				if n.Approved || n.Reason != "declined" || n.Code != "006" || n.Token != nil {
					t.Errorf("unexpected notification: %+v", n)
				}
			},
		},
		{
			name:      "bad signature",
			payload:   approvedPayload,
			signature: payplus.Sign("other", approvedPayload),
			wantErr:   billing.ErrInvalidSignature,
		},
		{
			name:    "missing signature",
			payload: approvedPayload,
			wantErr: billing.ErrInvalidSignature,
		},
		{
			name:      "missing reference",
			payload:   []byte(`{"status":"approved"}`),
			signature: payplus.Sign(secret, []byte(`{"status":"approved"}`)),
			wantErr:   billing.ErrMalformedNotification,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := g.ParseNotification(context.Background(), tt.payload, tt.signature)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("got %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseNotification: %v", err)
			}
			tt.check(t, n)
		})
	}
}
