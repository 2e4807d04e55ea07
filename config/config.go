package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/evdnx/gogrid/types"
	"gopkg.in/yaml.v3"
)

// Execution modes.
const (
	ModeLive  = "live"
	ModePaper = "paper"
)

// Strategy names accepted in SymbolConfig.Strategy.
const (
	StrategyGrid     = "grid"
	StrategyTrend    = "trend"
	StrategyAdaptive = "adaptive"
)

// Config is the engine-level configuration, loaded once at startup and
// immutable afterwards. Credentials may also come from the environment
// (GATE_API_KEY / GATE_API_SECRET), which takes precedence over the file.
type Config struct {
	Mode    string `yaml:"mode"`    // "live" or "paper"
	Testnet bool   `yaml:"testnet"` // live mode only: use the futures testnet

	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`

	PollIntervalSec  int    `yaml:"poll_interval_sec"`  // default 30
	CandleInterval   string `yaml:"candle_interval"`    // default "5m"
	CandleLimit      int    `yaml:"candle_limit"`       // default 100
	MaxOpenPositions int    `yaml:"max_open_positions"` // default 2, across all symbols

	MetricsAddr string `yaml:"metrics_addr"` // prometheus listen address, default ":9090"
	LogFile     string `yaml:"log_file"`     // optional rotated log file, empty = console only
	TradeLogDir string `yaml:"trade_log_dir"`

	// UseTickerStream keeps a websocket last-price cache between REST polls.
	UseTickerStream bool `yaml:"use_ticker_stream"`

	// PaperBalance seeds the simulated account in paper mode.
	PaperBalance float64 `yaml:"paper_balance"`

	Symbols []SymbolConfig `yaml:"symbols"`
}

// SymbolConfig holds all tunable parameters for one traded contract.
// Immutable after load.
type SymbolConfig struct {
	Symbol             string  `yaml:"symbol"`              // e.g. "BTC_USDT"
	Leverage           float64 `yaml:"leverage"`            // default 7
	ContractMultiplier float64 `yaml:"contract_multiplier"` // base asset per contract, e.g. 0.0001 for BTC_USDT
	Strategy           string  `yaml:"strategy"`            // "grid", "trend" or "adaptive"

	// Grid layout
	NumGrids                int     `yaml:"num_grids"`                  // default 10, levels = NumGrids+1
	RangePct                float64 `yaml:"range_pct"`                  // half-width around the anchor, default ±5%
	ProfitPerGridPct        float64 `yaml:"profit_per_grid_pct"`        // minimum take-profit per rung, default 0.5
	MaxGridPositions        int     `yaml:"max_grid_positions"`         // occupied-level cap, default 5
	RebalanceThresholdPct   float64 `yaml:"rebalance_threshold_pct"`    // default 7
	MinRebalanceIntervalSec int     `yaml:"min_rebalance_interval_sec"` // default 3600

	// Entry gates
	TrendFilter           bool    `yaml:"trend_filter"`             // default true: skip entries when price strays ±3% from SMA20
	RegimeFilter          bool    `yaml:"regime_filter"`            // default true: no grid entries while ADX signals a trend
	ADXThreshold          float64 `yaml:"adx_threshold"`            // default 25
	TightSL               bool    `yaml:"tight_sl"`                 // default true: 1.0-2.0% ATR stop band instead of 2.0-3.5%
	DynamicSL             bool    `yaml:"dynamic_sl"`               // default true: ATR-scaled stop, else rebalance_threshold/2
	AllowShortInDowntrend bool    `yaml:"allow_short_in_downtrend"` // adaptive only, default true

	// Position exit thresholds, all in percent of position margin.
	BaseTakeProfitPct   float64 `yaml:"base_take_profit_pct"`  // default 3, used when a signal carries no TP
	BaseStopLossPct     float64 `yaml:"base_stop_loss_pct"`    // default 2, used when a signal carries no SL
	TakeProfitFloorPct  float64 `yaml:"take_profit_floor_pct"` // default 1, lower bound of the tightening TP
	BreakevenTriggerPct float64 `yaml:"breakeven_trigger_pct"` // default 1.5, peak PnL that arms the break-even stop
	BreakevenOffsetPct  float64 `yaml:"breakeven_offset_pct"`  // default 0.2, locked-in PnL once armed
}

func defaultConfig() Config {
	return Config{
		Mode:             ModePaper,
		PollIntervalSec:  30,
		CandleInterval:   "5m",
		CandleLimit:      100,
		MaxOpenPositions: 2,
		MetricsAddr:      ":9090",
		TradeLogDir:      "trades",
		PaperBalance:     10000,
	}
}

func defaultSymbolConfig() SymbolConfig {
	return SymbolConfig{
		Leverage:                7,
		Strategy:                StrategyGrid,
		NumGrids:                10,
		RangePct:                5.0,
		ProfitPerGridPct:        0.5,
		MaxGridPositions:        5,
		RebalanceThresholdPct:   7.0,
		MinRebalanceIntervalSec: 3600,
		TrendFilter:             true,
		RegimeFilter:            true,
		ADXThreshold:            25,
		TightSL:                 true,
		DynamicSL:               true,
		AllowShortInDowntrend:   true,
		BaseTakeProfitPct:       3.0,
		BaseStopLossPct:         2.0,
		TakeProfitFloorPct:      1.0,
		BreakevenTriggerPct:     1.5,
		BreakevenOffsetPct:      0.2,
	}
}

// UnmarshalYAML decodes over the defaults so absent keys keep them,
// including the default-true booleans.
func (s *SymbolConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw SymbolConfig
	def := raw(defaultSymbolConfig())
	if err := value.Decode(&def); err != nil {
		return err
	}
	*s = SymbolConfig(def)
	return nil
}

// Load reads, defaults, and validates the YAML file at path. Every failure
// comes back as a *types.ConfigError and must halt startup.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.BadConfig(fmt.Errorf("read %s: %w", path, err))
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, types.BadConfig(fmt.Errorf("parse %s: %w", path, err))
	}
	if v := os.Getenv("GATE_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("GATE_API_SECRET"); v != "" {
		cfg.APISecret = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, types.BadConfig(err)
	}
	return &cfg, nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

// Validate checks the engine-level fields and every symbol, returning the
// first problem found.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeLive, ModePaper:
	default:
		return fmt.Errorf("mode %q must be %q or %q", c.Mode, ModeLive, ModePaper)
	}
	if c.Mode == ModeLive && (c.APIKey == "" || c.APISecret == "") {
		return errors.New("live mode requires GATE_API_KEY and GATE_API_SECRET")
	}
	if c.Mode == ModePaper && c.PaperBalance <= 0 {
		return errors.New("paper_balance must be positive in paper mode")
	}
	if c.PollIntervalSec <= 0 {
		return errors.New("poll_interval_sec must be positive")
	}
	if c.CandleInterval == "" {
		return errors.New("candle_interval cannot be empty")
	}
	if c.CandleLimit < 30 {
		return fmt.Errorf("candle_limit (%d) is below the indicator warm-up window", c.CandleLimit)
	}
	if c.MaxOpenPositions < 1 {
		return errors.New("max_open_positions must be at least 1")
	}
	if len(c.Symbols) == 0 {
		return errors.New("at least one symbol is required")
	}
	seen := make(map[string]bool, len(c.Symbols))
	for i := range c.Symbols {
		s := &c.Symbols[i]
		if err := s.Validate(); err != nil {
			return fmt.Errorf("symbols[%d] %s: %w", i, s.Symbol, err)
		}
		if seen[s.Symbol] {
			return fmt.Errorf("duplicate symbol %s", s.Symbol)
		}
		seen[s.Symbol] = true
	}
	return nil
}

func (s *SymbolConfig) MinRebalanceInterval() time.Duration {
	return time.Duration(s.MinRebalanceIntervalSec) * time.Second
}

// Validate checks one symbol's parameters, returning the first problem found.
func (s *SymbolConfig) Validate() error {
	if s.Symbol == "" {
		return errors.New("symbol id cannot be empty")
	}
	if s.ContractMultiplier <= 0 {
		return errors.New("contract_multiplier must be positive")
	}
	if s.Leverage < 1 {
		return fmt.Errorf("leverage (%g) must be at least 1", s.Leverage)
	}
	switch s.Strategy {
	case StrategyGrid, StrategyTrend, StrategyAdaptive:
	default:
		return fmt.Errorf("unknown strategy %q", s.Strategy)
	}
	if s.NumGrids < 2 {
		return fmt.Errorf("num_grids (%d) must be at least 2", s.NumGrids)
	}
	if s.RangePct <= 0 {
		return errors.New("range_pct must be positive")
	}
	if s.ProfitPerGridPct < 0 {
		return errors.New("profit_per_grid_pct cannot be negative")
	}
	if s.MaxGridPositions < 1 {
		return errors.New("max_grid_positions must be at least 1")
	}
	if s.RebalanceThresholdPct <= 0 {
		return errors.New("rebalance_threshold_pct must be positive")
	}
	if s.MinRebalanceIntervalSec < 0 {
		return errors.New("min_rebalance_interval_sec cannot be negative")
	}
	if s.ADXThreshold <= 0 {
		return errors.New("adx_threshold must be positive")
	}
	if s.BaseTakeProfitPct <= 0 {
		return errors.New("base_take_profit_pct must be positive")
	}
	if s.BaseStopLossPct <= 0 {
		return errors.New("base_stop_loss_pct must be positive")
	}
	if s.TakeProfitFloorPct <= 0 || s.TakeProfitFloorPct > s.BaseTakeProfitPct {
		return fmt.Errorf("take_profit_floor_pct (%g) must be in (0, base_take_profit_pct]", s.TakeProfitFloorPct)
	}
	if s.BreakevenTriggerPct < 0 {
		return errors.New("breakeven_trigger_pct cannot be negative")
	}
	if s.BreakevenOffsetPct < 0 || s.BreakevenOffsetPct >= s.BaseStopLossPct {
		return fmt.Errorf("breakeven_offset_pct (%g) must be in [0, base_stop_loss_pct)", s.BreakevenOffsetPct)
	}
	return nil
}
