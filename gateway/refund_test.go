package gateway_test

import (
	"errors"
	"testing"

	"github.com/xraph/billing/gateway"
	"github.com/xraph/billing/types"
)

func TestCheckRefund(t *testing.T) {
	tests := []struct {
		name     string
		amount   types.Money
		refunded types.Money
		want     error
	}{
		{"full refund", types.ILS(10000), types.ILS(0), nil},
		{"partial", types.ILS(4000), types.ILS(0), nil},
		{"exactly remaining", types.ILS(6000), types.ILS(4000), nil},
		{"above remaining", types.ILS(7000), types.ILS(4000), gateway.ErrRefundExceedsBalance},
		{"nothing left", types.ILS(1), types.ILS(10000), gateway.ErrRefundExceedsBalance},
		{"zero", types.ILS(0), types.ILS(0), gateway.ErrInvalidAmount},
		{"negative", types.ILS(-5), types.ILS(0), gateway.ErrInvalidAmount},
		{"other currency", types.USD(100), types.ILS(0), gateway.ErrCurrencyMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := gateway.CheckRefund(gateway.RefundRequest{
				Amount:          tt.amount,
				Original:        types.ILS(10000),
				AlreadyRefunded: tt.refunded,
			})
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}
