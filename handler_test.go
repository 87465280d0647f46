package billing_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/xraph/billing"
	"github.com/xraph/billing/callback"
	"github.com/xraph/billing/gateway/fake"
	"github.com/xraph/billing/subscription"
)

func TestCallbackHandler(t *testing.T) {
	h := newHarness(t)
	h.gw.Secret = "s3cret"
	res := h.subscribe("42")
	srv := httptest.NewServer(h.b.CallbackHandler())
	defer srv.Close()

	post := func(t *testing.T, body []byte, signature string) billing.Ack {
		t.Helper()
		req, err := http.NewRequestWithContext(h.ctx, http.MethodPost, srv.URL, bytes.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		if signature != "" {
			req.Header.Set(fake.SignatureHeader, signature)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status code = %d, want 200", resp.StatusCode)
		}
		var ack billing.Ack
		if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
			t.Fatal(err)
		}
		return ack
	}

	t.Run("bad signature", func(t *testing.T) {
		ack := post(t, fake.Approve(res.Reference), "wrong")
		if !ack.Received || ack.Status != callback.StatusFailed {
			t.Errorf("ack = %+v", ack)
		}
		if sub := h.subscription("42"); sub.Status != subscription.StatusTrial {
			t.Errorf("unsigned callback changed status to %q", sub.Status)
		}
	})

	t.Run("approved", func(t *testing.T) {
		ack := post(t, fake.Approve(res.Reference), "s3cret")
		if ack.Status != callback.StatusProcessed || ack.Reference != res.Reference {
			t.Errorf("ack = %+v", ack)
		}
		if sub := h.subscription("42"); sub.Status != subscription.StatusActive {
			t.Errorf("status = %q, want active", sub.Status)
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		resp, err := http.Get(srv.URL)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("status code = %d", resp.StatusCode)
		}
	})

	entries, err := h.b.Callbacks(h.ctx, callback.ListOpts{Status: callback.StatusFailed})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Error == "" {
		t.Errorf("failed callbacks = %+v", entries)
	}
}
