package strategy

import (
	"fmt"
	"time"

	"github.com/evdnx/goti"
	"github.com/evdnx/gogrid/config"
	"github.com/evdnx/gogrid/indicator"
	"github.com/evdnx/gogrid/logger"
	"github.com/evdnx/gogrid/types"
)

// Market regimes as classified by trend strength.
const (
	RegimeRanging      = "ranging"
	RegimeTrendingUp   = "trending_up"
	RegimeTrendingDown = "trending_down"
)

const (
	adxPeriod = 14
	atrPeriod = 14
)

// Context carries everything a strategy may consult for one evaluation.
// It is assembled by the orchestrator per symbol per cycle.
type Context struct {
	Symbol      string
	Price       float64
	Now         time.Time
	Ind         *indicator.Engine
	HasPosition bool
}

// Strategy turns market context into at most one signal per cycle. The
// orchestrator feeds execution outcomes back through RecordEntry and
// RecordResult so the strategy's bookkeeping (occupied grid levels, entry
// spacing, loss streaks) tracks fills rather than mere signals: a dropped
// or rejected signal leaves no trace and is re-derived next cycle.
type Strategy interface {
	Name() string
	Analyze(ctx Context) (types.Signal, error)
	// RecordEntry is called after an entry order fills. gridLevel is the
	// signal's level, -1 for non-grid entries.
	RecordEntry(gridLevel int, now time.Time)
	// RecordResult is called after a position closes. win reports whether
	// the trade ended with a positive PnL.
	RecordResult(gridLevel int, win bool, now time.Time)
}

// Base bundles the dependencies every concrete strategy shares.
type Base struct {
	Cfg config.SymbolConfig
	Log logger.Logger
}

// SuiteFactory builds the goti indicator suite the trend strategy consults
// as a final confirmation layer before acting on an EMA alignment.
type SuiteFactory func() (*goti.IndicatorSuite, error)

// DefaultSuiteFactory returns the production suite configuration.
func DefaultSuiteFactory() SuiteFactory {
	return func() (*goti.IndicatorSuite, error) {
		return goti.NewIndicatorSuiteWithConfig(goti.DefaultConfig())
	}
}

// New selects the configured strategy variant for one symbol.
func New(cfg config.SymbolConfig, log logger.Logger) (Strategy, error) {
	switch cfg.Strategy {
	case config.StrategyGrid:
		return NewGrid(cfg, log), nil
	case config.StrategyTrend:
		return NewTrend(cfg, log, DefaultSuiteFactory())
	case config.StrategyAdaptive:
		return NewAdaptive(cfg, log, DefaultSuiteFactory())
	default:
		return nil, types.BadConfig(fmt.Errorf("unknown strategy %q", cfg.Strategy))
	}
}

// detectRegime classifies the market by trend strength. Direction comes from
// the directional lines once ADX clears the threshold.
func detectRegime(ind *indicator.Engine, adxThreshold float64) (regime string, adx float64, err error) {
	adx, plusDI, minusDI, err := ind.ADX(adxPeriod)
	if err != nil {
		return "", 0, err
	}
	if adx < adxThreshold {
		return RegimeRanging, adx, nil
	}
	if plusDI > minusDI {
		return RegimeTrendingUp, adx, nil
	}
	return RegimeTrendingDown, adx, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
