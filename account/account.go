// Package account describes the store-account collaborator the billing core
// depends on. Accounts are owned elsewhere; billing only reads contact data,
// toggles storefront access, and pushes plan flags.
package account

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when an account id is unknown to the directory.
var ErrNotFound = errors.New("account: not found")

type Account struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone,omitempty"`
	Active bool   `json:"active"`
}

// PlanFlags are the storefront features unlocked by a plan.
type PlanFlags struct {
	PlanName        string `json:"plan_name"`
	CheckoutEnabled bool   `json:"checkout_enabled"`
}

// Directory is implemented by the platform's store-account service.
type Directory interface {
	GetAccount(ctx context.Context, accountID string) (*Account, error)
	SetActive(ctx context.Context, accountID string, active bool) error
	ApplyPlan(ctx context.Context, accountID string, flags PlanFlags) error
}

// MemoryDirectory is an in-process Directory for tests and single-binary
// deployments. Unknown accounts are created on first write.
type MemoryDirectory struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	flags    map[string]PlanFlags
}

func NewMemoryDirectory(accounts ...*Account) *MemoryDirectory {
	d := &MemoryDirectory{
		accounts: make(map[string]*Account),
		flags:    make(map[string]PlanFlags),
	}
	for _, a := range accounts {
		cp := *a
		d.accounts[a.ID] = &cp
	}
	return d
}

func (d *MemoryDirectory) GetAccount(_ context.Context, accountID string) (*Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	a, ok := d.accounts[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (d *MemoryDirectory) SetActive(_ context.Context, accountID string, active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, ok := d.accounts[accountID]
	if !ok {
		a = &Account{ID: accountID}
		d.accounts[accountID] = a
	}
	a.Active = active
	return nil
}

func (d *MemoryDirectory) ApplyPlan(_ context.Context, accountID string, flags PlanFlags) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.flags[accountID] = flags
	return nil
}

// Flags returns the last plan flags pushed for accountID.
func (d *MemoryDirectory) Flags(accountID string) (PlanFlags, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	f, ok := d.flags[accountID]
	return f, ok
}
