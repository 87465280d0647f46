package extension

import (
	"testing"
	"time"

	"github.com/xraph/billing/gateway/provider"
)

func TestMergeWithDefaults(t *testing.T) {
	cfg := mergeWithDefaults(Config{TrialDays: 14})
	if cfg.TrialDays != 14 {
		t.Errorf("TrialDays = %d, want 14", cfg.TrialDays)
	}
	def := DefaultConfig()
	if cfg.CallbackPath != def.CallbackPath || cfg.Driver != DriverMemory || cfg.SweepBatchSize != def.SweepBatchSize {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestMergeConfigurations(t *testing.T) {
	yaml := Config{
		Driver:         DriverPostgres,
		GatewayTimeout: 10 * time.Second,
	}
	prog := Config{
		Driver:         DriverSQLite,
		DisableMigrate: true,
		CallbackURL:    "https://example.com/billing/callback",
		Gateway:        provider.Config{Name: "stripe"},
		TrialDays:      30,
		GatewayTimeout: time.Minute,
	}

	got := mergeConfigurations(yaml, prog)

	tests := []struct {
		name string
		ok   bool
	}{
		{"yaml driver wins", got.Driver == DriverPostgres},
		{"yaml timeout wins", got.GatewayTimeout == 10*time.Second},
		{"programmatic flag overrides", got.DisableMigrate},
		{"programmatic url fills gap", got.CallbackURL == prog.CallbackURL},
		{"programmatic gateway fills gap", got.Gateway.Name == "stripe"},
		{"programmatic int fills gap", got.TrialDays == 30},
		{"defaults fill the rest", got.Currency == DefaultConfig().Currency},
	}
	for _, tt := range tests {
		if !tt.ok {
			t.Errorf("%s: %+v", tt.name, got)
		}
	}
}

func TestBuildStore(t *testing.T) {
	e := New(WithDriver("postgres"))
	if _, err := e.buildStore(); err == nil {
		t.Error("postgres without a grove.DB should fail")
	}

	e = New()
	s, err := e.buildStore()
	if err != nil || s == nil {
		t.Fatalf("memory store: %v", err)
	}
}
