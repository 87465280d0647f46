package billing

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/xraph/billing/gateway"
)

// maxCallbackBytes caps provider callback bodies.
const maxCallbackBytes = 1 << 20

// CallbackHandler returns an http.Handler for provider callbacks. It
// answers 200 for every POST, whatever happened to the callback.
func (b *Billing) CallbackHandler() http.Handler {
	header := ""
	if h, ok := b.gateway.(gateway.SignatureHeaderer); ok {
		header = h.SignatureHeader()
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBytes))
		if err != nil {
			b.logger.Warn("failed to read provider callback", "error", err)
		}

		signature := ""
		if header != "" {
			signature = r.Header.Get(header)
		}

		ack := b.HandleProviderCallback(r.Context(), payload, signature)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(ack) //nolint:errcheck // provider already has its 200
	})
}
