package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/evdnx/gogrid/types"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gogrid.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
mode: paper
symbols:
  - symbol: BTC_USDT
    contract_multiplier: 0.0001
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.PollIntervalSec != 30 || cfg.CandleInterval != "5m" || cfg.CandleLimit != 100 {
		t.Fatalf("engine defaults not applied: %+v", cfg)
	}
	if cfg.MaxOpenPositions != 2 {
		t.Fatalf("expected max_open_positions 2, got %d", cfg.MaxOpenPositions)
	}

	s := cfg.Symbols[0]
	if s.Strategy != StrategyGrid {
		t.Fatalf("expected default strategy grid, got %q", s.Strategy)
	}
	if s.Leverage != 7 || s.NumGrids != 10 || s.RangePct != 5.0 {
		t.Fatalf("grid defaults not applied: %+v", s)
	}
	if !s.TrendFilter || !s.RegimeFilter || !s.DynamicSL || !s.TightSL {
		t.Fatalf("default-true gates not applied: %+v", s)
	}
	if s.BaseTakeProfitPct != 3.0 || s.BaseStopLossPct != 2.0 {
		t.Fatalf("exit defaults not applied: %+v", s)
	}
	if s.MinRebalanceInterval().Seconds() != 3600 {
		t.Fatalf("expected 1h min rebalance interval, got %v", s.MinRebalanceInterval())
	}
}

func TestLoadKeepsExplicitFalse(t *testing.T) {
	// An explicit false must survive defaulting; absence must not.
	path := writeConfig(t, `
mode: paper
symbols:
  - symbol: ETH_USDT
    contract_multiplier: 0.01
    trend_filter: false
    num_grids: 30
    range_pct: 10.0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	s := cfg.Symbols[0]
	if s.TrendFilter {
		t.Fatal("explicit trend_filter: false was overridden")
	}
	if !s.RegimeFilter {
		t.Fatal("absent regime_filter lost its default")
	}
	if s.NumGrids != 30 || s.RangePct != 10.0 {
		t.Fatalf("explicit grid values not kept: %+v", s)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("GATE_API_KEY", "env-key")
	t.Setenv("GATE_API_SECRET", "env-secret")
	path := writeConfig(t, `
mode: paper
api_key: file-key
api_secret: file-secret
symbols:
  - symbol: BTC_USDT
    contract_multiplier: 0.0001
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.APIKey != "env-key" || cfg.APISecret != "env-secret" {
		t.Fatalf("environment credentials did not win: %q/%q", cfg.APIKey, cfg.APISecret)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	// Ambient credentials would let the live-mode case pass validation.
	t.Setenv("GATE_API_KEY", "")
	t.Setenv("GATE_API_SECRET", "")
	cases := []struct {
		name string
		body string
	}{
		{"no symbols", "mode: paper\nsymbols: []\n"},
		{"bad mode", "mode: turbo\nsymbols:\n  - symbol: BTC_USDT\n    contract_multiplier: 0.0001\n"},
		{"live without creds", "mode: live\nsymbols:\n  - symbol: BTC_USDT\n    contract_multiplier: 0.0001\n"},
		{"missing multiplier", "mode: paper\nsymbols:\n  - symbol: BTC_USDT\n"},
		{"duplicate symbol", `mode: paper
symbols:
  - symbol: BTC_USDT
    contract_multiplier: 0.0001
  - symbol: BTC_USDT
    contract_multiplier: 0.0001
`},
	}
	for _, tc := range cases {
		path := writeConfig(t, tc.body)
		if _, err := Load(path); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		} else if !types.IsConfig(err) {
			t.Fatalf("%s: expected ConfigError, got %v", tc.name, err)
		}
	}
}

func TestSymbolValidateFirstError(t *testing.T) {
	s := defaultSymbolConfig()
	s.Symbol = "BTC_USDT"
	s.ContractMultiplier = 0.0001
	if err := s.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	s.NumGrids = 1
	if err := s.Validate(); err == nil {
		t.Fatal("expected validation error for num_grids 1")
	}

	s = defaultSymbolConfig()
	s.Symbol = "BTC_USDT"
	s.ContractMultiplier = 0.0001
	s.Strategy = "martingale"
	if err := s.Validate(); err == nil {
		t.Fatal("expected validation error for unknown strategy")
	}

	s = defaultSymbolConfig()
	s.Symbol = "BTC_USDT"
	s.ContractMultiplier = 0.0001
	s.TakeProfitFloorPct = 5.0 // above base TP
	if err := s.Validate(); err == nil {
		t.Fatal("expected validation error for TP floor above base")
	}
}
