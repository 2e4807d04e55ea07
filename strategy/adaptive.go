package strategy

import (
	"time"

	"github.com/evdnx/gogrid/config"
	"github.com/evdnx/gogrid/logger"
	"github.com/evdnx/gogrid/types"
)

// Adaptive classifies the regime every cycle and routes to the strategy
// built for it: a wide, dense grid while the market ranges, the trend
// follower once ADX confirms direction. In a downtrend shorting can be
// disabled, in which case the strategy waits the regime out.
type Adaptive struct {
	Base
	grid   *Grid
	trend  *Trend
	regime string
}

// The embedded grid runs whenever the market ranges, so it carries a wider
// and denser profile than the standalone default and leaves regime
// detection to the wrapper.
func adaptiveGridConfig(cfg config.SymbolConfig) config.SymbolConfig {
	g := cfg
	g.NumGrids = 30
	g.RangePct = 10.0
	g.ProfitPerGridPct = 0.3
	g.MaxGridPositions = 10
	g.RegimeFilter = false
	return g
}

func NewAdaptive(cfg config.SymbolConfig, log logger.Logger, suiteFactory SuiteFactory) (*Adaptive, error) {
	trend, err := NewTrend(cfg, log, suiteFactory)
	if err != nil {
		return nil, err
	}
	return &Adaptive{
		Base:  Base{Cfg: cfg, Log: log},
		grid:  NewGrid(adaptiveGridConfig(cfg), log),
		trend: trend,
	}, nil
}

func (a *Adaptive) Name() string { return config.StrategyAdaptive }

// Grid entries carry their level; everything else belongs to the trend leg.
func (a *Adaptive) RecordEntry(gridLevel int, now time.Time) {
	if gridLevel >= 0 {
		a.grid.RecordEntry(gridLevel, now)
		return
	}
	a.trend.RecordEntry(gridLevel, now)
}

func (a *Adaptive) RecordResult(gridLevel int, win bool, now time.Time) {
	if gridLevel >= 0 {
		a.grid.RecordResult(gridLevel, win, now)
		return
	}
	a.trend.RecordResult(gridLevel, win, now)
}

func (a *Adaptive) Analyze(ctx Context) (types.Signal, error) {
	regime, adx, err := detectRegime(ctx.Ind, a.Cfg.ADXThreshold)
	if err != nil {
		return types.NoSignal("warming up"), nil
	}

	if regime != a.regime {
		a.Log.Info("regime_change",
			logger.String("symbol", ctx.Symbol),
			logger.String("from", a.regime),
			logger.String("to", regime),
			logger.Float64("adx", adx),
		)
		a.regime = regime
	}

	var sig types.Signal
	switch regime {
	case RegimeRanging:
		sig, err = a.grid.Analyze(ctx)
	case RegimeTrendingUp:
		sig, err = a.trend.analyze(ctx, longOnly)
	case RegimeTrendingDown:
		if !a.Cfg.AllowShortInDowntrend {
			sig := types.NoSignal("downtrend, shorts disabled")
			sig.Regime = regime
			return sig, nil
		}
		sig, err = a.trend.analyze(ctx, shortOnly)
	}
	if err != nil {
		return types.NoSignal("strategy error"), err
	}
	sig.Regime = regime
	return sig, nil
}

// Regime returns the last classification, for status output.
func (a *Adaptive) Regime() string { return a.regime }
