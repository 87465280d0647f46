// Package types provides value types shared by every billing package.
package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is the storefront settlement currency.
const DefaultCurrency = "ils"

// Money is an amount in the smallest currency unit (agorot, cents).
// Arithmetic on Money stays in int64; fractional math (tax, percent
// discounts, provider major-unit amounts) goes through decimal and is
// rounded half away from zero back to minor units.
//
// Examples:
//   - ILS(4900) = ₪49.00
//   - USD(1999) = $19.99
type Money struct {
	Amount   int64  `json:"amount"`   // minor units
	Currency string `json:"currency"` // ISO 4217, lower case
}

// New creates Money in the given currency.
func New(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: strings.ToLower(currency)}
}

// ILS creates a Money value in Israeli new shekels (agorot).
func ILS(agorot int64) Money { return New(agorot, "ils") }

// USD creates a Money value in US dollars (cents).
func USD(cents int64) Money { return New(cents, "usd") }

// EUR creates a Money value in euros (cents).
func EUR(cents int64) Money { return New(cents, "eur") }

// Zero returns a zero amount in currency.
func Zero(currency string) Money { return New(0, currency) }

// FromMajor converts a major-unit decimal (49.5) into minor units (4950).
func FromMajor(major decimal.Decimal, currency string) Money {
	exp := int32(currencyDecimals(currency))
	return New(major.Shift(exp).Round(0).IntPart(), currency)
}

// ParseMajor parses a major-unit string such as "57.33".
func ParseMajor(s, currency string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return FromMajor(d, currency), nil
}

// ──────────────────────────────────────────────────
// Arithmetic
// ──────────────────────────────────────────────────

// Add adds two amounts. Panics on currency mismatch.
func (m Money) Add(other Money) Money {
	m.mustMatch(other)
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}
}

// Subtract subtracts other. Panics on currency mismatch.
func (m Money) Subtract(other Money) Money {
	m.mustMatch(other)
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}
}

// Multiply multiplies by an integer quantity.
func (m Money) Multiply(qty int64) Money {
	return Money{Amount: m.Amount * qty, Currency: m.Currency}
}

// Percent returns pct percent of m, rounded to the nearest minor unit.
// Percent(ILS(4900), 17) is ILS(833).
func (m Money) Percent(pct decimal.Decimal) Money {
	v := decimal.NewFromInt(m.Amount).Mul(pct).Div(decimal.NewFromInt(100)).Round(0)
	return Money{Amount: v.IntPart(), Currency: m.Currency}
}

// Min returns the smaller amount. Panics on currency mismatch.
func (m Money) Min(other Money) Money {
	m.mustMatch(other)
	if other.Amount < m.Amount {
		return other
	}
	return m
}

// ──────────────────────────────────────────────────
// Comparison
// ──────────────────────────────────────────────────

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// IsPositive reports whether the amount is greater than zero.
func (m Money) IsPositive() bool { return m.Amount > 0 }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m.Amount < 0 }

// SameCurrency reports whether both values use the same currency.
func (m Money) SameCurrency(other Money) bool {
	return strings.EqualFold(m.Currency, other.Currency)
}

// Equal reports whether amount and currency match.
func (m Money) Equal(other Money) bool {
	return m.Amount == other.Amount && m.SameCurrency(other)
}

// GreaterThan reports whether m > other. Panics on currency mismatch.
func (m Money) GreaterThan(other Money) bool {
	m.mustMatch(other)
	return m.Amount > other.Amount
}

// ──────────────────────────────────────────────────
// Formatting
// ──────────────────────────────────────────────────

// Major returns the amount in major units as a decimal.
func (m Money) Major() decimal.Decimal {
	return decimal.NewFromInt(m.Amount).Shift(-int32(currencyDecimals(m.Currency)))
}

// FormatMajor renders the major-unit amount without a symbol: "57.33".
func (m Money) FormatMajor() string {
	return m.Major().StringFixed(int32(currencyDecimals(m.Currency)))
}

// String renders the amount with its currency symbol: "₪57.33".
func (m Money) String() string {
	return currencySymbol(m.Currency) + m.FormatMajor()
}

// MarshalJSON adds a display string next to amount and currency.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}{
		Amount:   m.Amount,
		Currency: m.Currency,
		Display:  m.String(),
	})
}

func (m Money) mustMatch(other Money) {
	if !m.SameCurrency(other) {
		panic(fmt.Sprintf("money: currency mismatch: %s != %s", m.Currency, other.Currency))
	}
}

var symbols = map[string]string{
	"ils": "₪",
	"usd": "$",
	"eur": "€",
	"gbp": "£",
	"jpy": "¥",
}

func currencySymbol(currency string) string {
	if sym, ok := symbols[strings.ToLower(currency)]; ok {
		return sym
	}
	return strings.ToUpper(currency) + " "
}

func currencyDecimals(currency string) int {
	switch strings.ToLower(currency) {
	case "jpy", "krw", "vnd", "clp":
		return 0
	default:
		return 2
	}
}
