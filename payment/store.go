package payment

import (
	"context"
	"time"

	"github.com/xraph/billing/id"
)

// Store persists the transaction ledger and saved payment tokens.
//
// CompleteTransaction moves a pending row to a terminal status and reports
// whether this call performed the transition. ReserveRefund adds amount to
// the original's RefundedAmount only if the original is a completed charge
// with at least amount left, flipping it to refunded when nothing is left.
// ReleaseRefund undoes a reservation.
type Store interface {
	CreateTransaction(ctx context.Context, t *Transaction) error
	GetTransaction(ctx context.Context, txnID id.TransactionID) (*Transaction, error)
	GetTransactionByReference(ctx context.Context, reference string) (*Transaction, error)
	CompleteTransaction(ctx context.Context, txnID id.TransactionID, outcome Outcome) (bool, error)
	ListTransactions(ctx context.Context, accountID string, opts ListOpts) ([]*Transaction, error)
	HasCompletedCharge(ctx context.Context, accountID string, contexts ...Context) (bool, error)

	ReserveRefund(ctx context.Context, originalID id.TransactionID, amount int64, at time.Time) (*Transaction, error)
	ReleaseRefund(ctx context.Context, originalID id.TransactionID, amount int64, at time.Time) error

	SaveToken(ctx context.Context, t *Token) error
	GetPrimaryToken(ctx context.Context, accountID string) (*Token, error)
}

type ListOpts struct {
	Kind   Kind
	Status Status
	Limit  int
	Offset int
}
