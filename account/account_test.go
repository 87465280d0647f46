package account_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/billing/account"
)

func TestMemoryDirectory(t *testing.T) {
	ctx := context.Background()
	dir := account.NewMemoryDirectory(&account.Account{ID: "42", Email: "owner@shop.test", Active: true})

	got, err := dir.GetAccount(ctx, "42")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.Email != "owner@shop.test" || !got.Active {
		t.Errorf("unexpected account: %+v", got)
	}

	if _, err := dir.GetAccount(ctx, "missing"); !errors.Is(err, account.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}

	if err := dir.SetActive(ctx, "42", false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	got, _ = dir.GetAccount(ctx, "42")
	if got.Active {
		t.Error("expected account to be inactive")
	}

	if err := dir.ApplyPlan(ctx, "42", account.PlanFlags{PlanName: "lite", CheckoutEnabled: true}); err != nil {
		t.Fatalf("ApplyPlan: %v", err)
	}
	flags, ok := dir.Flags("42")
	if !ok || flags.PlanName != "lite" || !flags.CheckoutEnabled {
		t.Errorf("unexpected flags: %+v", flags)
	}
}
