package billing

import (
	"context"

	"github.com/xraph/billing/gateway"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/types"
)

type RefundInput struct {
	TransactionID id.TransactionID
	// Amount to refund; the zero value refunds everything left.
	Amount         types.Money
	Reason         string
	IdempotencyKey string
}

type RefundResult struct {
	Refund   *payment.Transaction `json:"refund"`
	Original *payment.Transaction `json:"original"`
	// Pending is true while the provider has not settled the refund.
	Pending bool `json:"pending"`
}

// Refund returns part or all of a completed charge. The amount is reserved
// on the original before the gateway is called. A provider rejection
// releases the reservation; a transient failure keeps it, leaving the
// refund pending for the provider's notification or a retry with the same
// IdempotencyKey.
func (b *Billing) Refund(ctx context.Context, in RefundInput) (*RefundResult, error) {
	refund, original, reused, err := b.ledger.reserveRefund(ctx, RefundAttempt{
		OriginalID: in.TransactionID,
		Amount:     in.Amount,
		Reason:     in.Reason,
		Reference:  in.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	if reused && refund.Status.IsTerminal() {
		return &RefundResult{Refund: refund, Original: original}, nil
	}

	already := types.New(original.RefundedAmount-refund.Amount.Amount, original.Amount.Currency)

	gctx, cancel := context.WithTimeout(ctx, b.gatewayTimeout)
	res, err := b.gateway.Refund(gctx, gateway.RefundRequest{
		Reference:       refund.Reference,
		ProviderRef:     original.ExternalID,
		Amount:          refund.Amount,
		Original:        original.Amount,
		AlreadyRefunded: already,
		Reason:          in.Reason,
	})
	cancel()
	if err != nil {
		return nil, b.gatewayFailed(ctx, refund, "refund", err)
	}

	result := &RefundResult{Refund: refund, Original: original, Pending: !res.Completed}
	if res.Completed {
		if _, err := b.ledger.MarkTerminal(ctx, refund.ID, payment.Outcome{
			Status:     payment.StatusCompleted,
			ExternalID: res.ProviderRef,
		}); err != nil {
			return nil, err
		}
		if refund, err = b.ledger.Transaction(ctx, refund.ID); err != nil {
			return nil, err
		}
		result.Refund = refund
	}

	b.plugins.EmitRefundIssued(ctx, refund, original)
	b.logger.Info("refund issued",
		"transaction_id", original.ID.String(),
		"refund_id", refund.ID.String(),
		"amount", refund.Amount.String(),
		"pending", result.Pending,
	)
	return result, nil
}
