package callback

import (
	"time"

	"github.com/xraph/billing/id"
	"github.com/xraph/billing/types"
)

type Status string

const (
	StatusReceived  Status = "received"
	StatusProcessed Status = "processed"
	StatusIgnored   Status = "ignored"
	StatusFailed    Status = "failed"
)

// Entry is the raw record of one provider callback, written before the
// payload is parsed so rejected or unparseable deliveries stay auditable.
type Entry struct {
	types.Entity
	ID          id.CallbackID `json:"id"`
	Provider    string        `json:"provider"`
	Reference   string        `json:"reference,omitempty"`
	ProviderRef string        `json:"provider_ref,omitempty"`
	Payload     []byte        `json:"payload"`
	Status      Status        `json:"status"`
	Error       string        `json:"error,omitempty"`
	ProcessedAt *time.Time    `json:"processed_at,omitempty"`
}
