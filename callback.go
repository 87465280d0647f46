package billing

import (
	"context"
	"errors"

	"github.com/xraph/billing/callback"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/types"
)

// Ack is what HandleProviderCallback reports. Providers always receive a
// success response; Status records what the engine did with the callback.
type Ack struct {
	Received  bool            `json:"received"`
	Status    callback.Status `json:"status"`
	Reference string          `json:"reference,omitempty"`
}

// HandleProviderCallback logs the raw callback, verifies and parses it
// through the configured gateway, and reconciles it. It never returns an
// error: internal failures are logged and recorded on the callback entry
// so providers do not retry into a storm.
func (b *Billing) HandleProviderCallback(ctx context.Context, payload []byte, signature string) Ack {
	now := b.clock.Now().UTC()
	entry := &callback.Entry{
		Entity:   types.NewEntityAt(now),
		ID:       id.NewCallbackID(),
		Provider: string(b.gateway.Name()),
		Payload:  payload,
		Status:   callback.StatusReceived,
	}
	logged := true
	if err := b.store.CreateCallback(ctx, entry); err != nil {
		logged = false
		b.logger.Error("failed to log provider callback", "error", err)
	}

	entry.Status, entry.Error = b.processCallback(ctx, entry, payload, signature)

	done := b.clock.Now().UTC()
	entry.ProcessedAt = &done
	entry.Touch(done)
	if logged {
		if err := b.store.UpdateCallback(ctx, entry); err != nil {
			b.logger.Error("failed to update provider callback",
				"callback_id", entry.ID.String(),
				"error", err,
			)
		}
	}
	b.plugins.EmitCallbackProcessed(ctx, entry)

	return Ack{Received: true, Status: entry.Status, Reference: entry.Reference}
}

func (b *Billing) processCallback(ctx context.Context, entry *callback.Entry, payload []byte, signature string) (callback.Status, string) {
	n, err := b.gateway.ParseNotification(ctx, payload, signature)
	if err != nil {
		if errors.Is(err, ErrMalformedNotification) {
			b.logger.Debug("provider callback ignored", "callback_id", entry.ID.String(), "error", err)
			return callback.StatusIgnored, err.Error()
		}
		b.logger.Warn("provider callback rejected", "callback_id", entry.ID.String(), "error", err)
		return callback.StatusFailed, err.Error()
	}
	entry.Reference = n.Reference
	entry.ProviderRef = n.ProviderRef

	err = b.reconciler.Reconcile(ctx, n)
	switch {
	case err == nil:
		return callback.StatusProcessed, ""
	case IsNoop(err):
		b.logger.Debug("provider callback was a no-op",
			"reference", n.Reference,
			"error", err,
		)
		return callback.StatusIgnored, err.Error()
	default:
		b.logger.Error("failed to reconcile provider callback",
			"reference", n.Reference,
			"error", err,
		)
		return callback.StatusFailed, err.Error()
	}
}

// Callbacks lists logged provider callbacks.
func (b *Billing) Callbacks(ctx context.Context, opts callback.ListOpts) ([]*callback.Entry, error) {
	return b.store.ListCallbacks(ctx, opts)
}
