package memory

import (
	"context"
	"slices"

	"github.com/xraph/billing"
	"github.com/xraph/billing/callback"
)

func cloneCallback(e *callback.Entry) *callback.Entry {
	cp := *e
	cp.Payload = slices.Clone(e.Payload)
	return &cp
}

func (s *Store) CreateCallback(_ context.Context, e *callback.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.callbacks[e.ID.String()]; exists {
		return billing.ErrAlreadyExists
	}
	s.callbacks[e.ID.String()] = cloneCallback(e)
	return nil
}

func (s *Store) UpdateCallback(_ context.Context, e *callback.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.callbacks[e.ID.String()]; !exists {
		return billing.ErrNotFound
	}
	s.callbacks[e.ID.String()] = cloneCallback(e)
	return nil
}

func (s *Store) ListCallbacks(_ context.Context, opts callback.ListOpts) ([]*callback.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*callback.Entry, 0)
	for _, e := range s.callbacks {
		if opts.Reference != "" && e.Reference != opts.Reference {
			continue
		}
		if opts.Status != "" && e.Status != opts.Status {
			continue
		}
		result = append(result, cloneCallback(e))
	}
	slices.SortFunc(result, func(a, b *callback.Entry) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return page(result, opts.Limit, opts.Offset), nil
}
