package types

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMoneyConstructors(t *testing.T) {
	tests := []struct {
		name     string
		money    Money
		amount   int64
		currency string
		display  string
	}{
		{"ILS", ILS(5733), 5733, "ils", "₪57.33"},
		{"USD", USD(4900), 4900, "usd", "$49.00"},
		{"EUR", EUR(19900), 19900, "eur", "€199.00"},
		{"New upper-case currency", New(100, "GBP"), 100, "gbp", "£1.00"},
		{"Zero", Zero("ILS"), 0, "ils", "₪0.00"},
		{"Unknown currency", New(250, "chf"), 250, "chf", "CHF 2.50"},
		{"Zero-decimal currency", New(100, "jpy"), 100, "jpy", "¥100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.money.Amount != tt.amount {
				t.Errorf("Amount: got %d, want %d", tt.money.Amount, tt.amount)
			}
			if tt.money.Currency != tt.currency {
				t.Errorf("Currency: got %s, want %s", tt.money.Currency, tt.currency)
			}
			if tt.money.String() != tt.display {
				t.Errorf("Display: got %s, want %s", tt.money.String(), tt.display)
			}
		})
	}
}

func TestMoneyArithmetic(t *testing.T) {
	tests := []struct {
		name     string
		op       func() Money
		expected Money
	}{
		{"Add", func() Money { return ILS(4900).Add(ILS(833)) }, ILS(5733)},
		{"Subtract", func() Money { return ILS(10000).Subtract(ILS(4000)) }, ILS(6000)},
		{"Multiply", func() Money { return ILS(4900).Multiply(2) }, ILS(9800)},
		{"Min", func() Money { return ILS(4900).Min(ILS(500)) }, ILS(500)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.op(); !got.Equal(tt.expected) {
				t.Errorf("got %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestMoneyPercent(t *testing.T) {
	tests := []struct {
		name     string
		money    Money
		pct      string
		expected Money
	}{
		{"VAT on lite plan", ILS(4900), "17", ILS(833)},
		{"VAT after 10% discount", ILS(4410), "17", ILS(750)},
		{"half rounds away from zero", ILS(50), "1", ILS(1)},
		{"below half rounds down", ILS(49), "1", ILS(0)},
		{"fractional percent", ILS(10000), "12.5", ILS(1250)},
		{"zero percent", ILS(4900), "0", ILS(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.money.Percent(decimal.RequireFromString(tt.pct))
			if !got.Equal(tt.expected) {
				t.Errorf("got %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestFromMajor(t *testing.T) {
	tests := []struct {
		in       string
		currency string
		expected Money
	}{
		{"57.33", "ils", ILS(5733)},
		{"49", "ils", ILS(4900)},
		{"0.005", "ils", ILS(1)},
		{"100", "jpy", New(100, "jpy")},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMajor(tt.in, tt.currency)
			if err != nil {
				t.Fatalf("ParseMajor: %v", err)
			}
			if !got.Equal(tt.expected) {
				t.Errorf("got %v, want %v", got, tt.expected)
			}
		})
	}

	if _, err := ParseMajor("abc", "ils"); err == nil {
		t.Error("expected error for non-numeric input")
	}
}

func TestMoneyFormatMajor(t *testing.T) {
	tests := []struct {
		money    Money
		expected string
	}{
		{ILS(5733), "57.33"},
		{ILS(100), "1.00"},
		{ILS(1), "0.01"},
		{ILS(0), "0.00"},
		{ILS(-4900), "-49.00"},
		{New(12345, "jpy"), "12345"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.money.FormatMajor(); got != tt.expected {
				t.Errorf("FormatMajor: got %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestMoneyCurrencyMismatch(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic for currency mismatch")
		}
	}()

	_ = ILS(100).Add(USD(100))
}

func TestMoneyComparison(t *testing.T) {
	if !ILS(100).GreaterThan(ILS(50)) {
		t.Error("GreaterThan: 100 > 50 should be true")
	}
	if ILS(50).GreaterThan(ILS(50)) {
		t.Error("GreaterThan: 50 > 50 should be false")
	}
	if !New(100, "ILS").Equal(ILS(100)) {
		t.Error("Equal should ignore currency case")
	}
	if ILS(100).Equal(USD(100)) {
		t.Error("Equal should compare currency")
	}
}

func TestMoneyJSON(t *testing.T) {
	data, err := json.Marshal(ILS(5733))
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	expected := `{"amount":5733,"currency":"ils","display":"₪57.33"}`
	if string(data) != expected {
		t.Errorf("JSON: got %s, want %s", string(data), expected)
	}

	var back Money
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if !back.Equal(ILS(5733)) {
		t.Errorf("got %v, want %v", back, ILS(5733))
	}
}
