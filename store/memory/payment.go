package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/xraph/billing"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/payment"
)

func cloneTransaction(t *payment.Transaction) *payment.Transaction {
	cp := *t
	cp.Metadata = cloneMeta(t.Metadata)
	return &cp
}

func cloneToken(t *payment.Token) *payment.Token {
	cp := *t
	return &cp
}

// ──────────────────────────────────────────────────
// Transactions
// ──────────────────────────────────────────────────

func (s *Store) CreateTransaction(_ context.Context, t *payment.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transactions[t.ID.String()]; exists {
		return billing.ErrAlreadyExists
	}
	if _, exists := s.references[t.Reference]; exists {
		return billing.ErrDuplicateReference
	}
	if t.ExternalID != "" && s.externalIDTaken(t.ExternalID, t.ID) {
		return billing.ErrDuplicateExternalID
	}
	s.transactions[t.ID.String()] = cloneTransaction(t)
	s.references[t.Reference] = t.ID.String()
	return nil
}

func (s *Store) GetTransaction(_ context.Context, txnID id.TransactionID) (*payment.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := s.transactions[txnID.String()]; ok {
		return cloneTransaction(t), nil
	}
	return nil, billing.ErrTransactionNotFound
}

func (s *Store) GetTransactionByReference(_ context.Context, reference string) (*payment.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if key, ok := s.references[reference]; ok {
		return cloneTransaction(s.transactions[key]), nil
	}
	return nil, billing.ErrTransactionNotFound
}

func (s *Store) CompleteTransaction(_ context.Context, txnID id.TransactionID, outcome payment.Outcome) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transactions[txnID.String()]
	if !ok {
		return false, billing.ErrTransactionNotFound
	}
	if t.Status != payment.StatusPending {
		return false, nil
	}
	if outcome.ExternalID != "" && s.externalIDTaken(outcome.ExternalID, t.ID) {
		return false, billing.ErrDuplicateExternalID
	}

	at := outcome.At
	t.Status = outcome.Status
	if outcome.ExternalID != "" {
		t.ExternalID = outcome.ExternalID
	}
	t.FailureReason = outcome.FailureReason
	t.CompletedAt = &at
	t.UpdatedAt = at
	return true, nil
}

func (s *Store) ListTransactions(_ context.Context, accountID string, opts payment.ListOpts) ([]*payment.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*payment.Transaction, 0)
	for _, t := range s.transactions {
		if t.AccountID != accountID {
			continue
		}
		if opts.Kind != "" && t.Kind != opts.Kind {
			continue
		}
		if opts.Status != "" && t.Status != opts.Status {
			continue
		}
		result = append(result, cloneTransaction(t))
	}
	slices.SortFunc(result, func(a, b *payment.Transaction) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID.String(), a.ID.String())
	})
	return page(result, opts.Limit, opts.Offset), nil
}

func (s *Store) HasCompletedCharge(_ context.Context, accountID string, contexts ...payment.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.transactions {
		if t.AccountID != accountID || t.Kind != payment.KindCharge {
			continue
		}
		if t.Status != payment.StatusCompleted && t.Status != payment.StatusRefunded {
			continue
		}
		if len(contexts) == 0 || slices.Contains(contexts, t.Context) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ReserveRefund(_ context.Context, originalID id.TransactionID, amount int64, at time.Time) (*payment.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transactions[originalID.String()]
	if !ok {
		return nil, billing.ErrTransactionNotFound
	}
	if t.Kind != payment.KindCharge || (t.Status != payment.StatusCompleted && t.Status != payment.StatusRefunded) {
		return nil, billing.ErrNotRefundable
	}
	if amount <= 0 {
		return nil, billing.ErrInvalidAmount
	}
	if t.Amount.Amount-t.RefundedAmount < amount {
		return nil, billing.ErrRefundExceedsBalance
	}

	t.RefundedAmount += amount
	if t.RefundedAmount == t.Amount.Amount {
		t.Status = payment.StatusRefunded
	}
	t.UpdatedAt = at
	return cloneTransaction(t), nil
}

func (s *Store) ReleaseRefund(_ context.Context, originalID id.TransactionID, amount int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transactions[originalID.String()]
	if !ok {
		return billing.ErrTransactionNotFound
	}
	t.RefundedAmount = max(t.RefundedAmount-amount, 0)
	if t.Status == payment.StatusRefunded {
		t.Status = payment.StatusCompleted
	}
	t.UpdatedAt = at
	return nil
}

// externalIDTaken must be called with the lock held.
func (s *Store) externalIDTaken(externalID string, self id.TransactionID) bool {
	for _, t := range s.transactions {
		if t.ExternalID == externalID && t.ID.String() != self.String() {
			return true
		}
	}
	return false
}

// ──────────────────────────────────────────────────
// Tokens
// ──────────────────────────────────────────────────

func (s *Store) SaveToken(_ context.Context, t *payment.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, existing := range s.tokens {
		if existing.AccountID == t.AccountID && existing.Provider == t.Provider && existing.Token == t.Token {
			t.ID = existing.ID
			t.CreatedAt = existing.CreatedAt
			delete(s.tokens, key)
			break
		}
	}
	if t.Primary {
		for _, existing := range s.tokens {
			if existing.AccountID == t.AccountID {
				existing.Primary = false
			}
		}
	}
	s.tokens[t.ID.String()] = cloneToken(t)
	return nil
}

func (s *Store) GetPrimaryToken(_ context.Context, accountID string) (*payment.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tokens {
		if t.AccountID == accountID && t.Primary && t.Active {
			return cloneToken(t), nil
		}
	}
	return nil, billing.ErrTokenNotFound
}
