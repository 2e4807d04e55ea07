package strategy

import (
	"time"

	"github.com/evdnx/gogrid/config"
	"github.com/evdnx/gogrid/logger"
	"github.com/evdnx/gogrid/types"
)

// Grid places long entries on rungs below the anchor and short entries on
// rungs above it, each targeting the adjacent rung. It never predicts
// direction; volatility inside the range is the edge, so entries are gated
// off when the market is trending or too quiet.
type Grid struct {
	Base
	state GridState
}

const (
	gridMinCandles = 20
	trendPeriod    = 20
	minATRPct      = 0.5
	maxTrendPct    = 3.0
)

func NewGrid(cfg config.SymbolConfig, log logger.Logger) *Grid {
	return &Grid{Base: Base{Cfg: cfg, Log: log}}
}

func (g *Grid) Name() string { return config.StrategyGrid }

// State returns a copy of the grid bookkeeping for status output.
func (g *Grid) State() GridState {
	st := g.state
	st.Levels = append([]float64(nil), g.state.Levels...)
	st.Occupied = make(map[int]bool, len(g.state.Occupied))
	for k, v := range g.state.Occupied {
		st.Occupied[k] = v
	}
	return st
}

// RecordEntry marks the filled level so the same rung is not re-entered
// while its position is open.
func (g *Grid) RecordEntry(gridLevel int, _ time.Time) {
	if gridLevel >= 0 {
		if g.state.Occupied == nil {
			g.state.Occupied = make(map[int]bool)
		}
		g.state.Occupied[gridLevel] = true
	}
}

// RecordResult frees the closed trade's level.
func (g *Grid) RecordResult(gridLevel int, _ bool, _ time.Time) {
	if gridLevel >= 0 {
		delete(g.state.Occupied, gridLevel)
	}
}

func (g *Grid) Analyze(ctx Context) (types.Signal, error) {
	if ctx.Ind.Len() < gridMinCandles {
		return types.NoSignal("warming up"), nil
	}

	// Build or re-anchor the grid. The rebuild cycle itself never enters.
	if !g.state.Initialized() {
		if ctx.HasPosition {
			return types.NoSignal("position open, grid unbuilt"), nil
		}
		g.state.Rebuild(ctx.Price, g.Cfg.NumGrids, g.Cfg.RangePct, ctx.Now)
		g.Log.Info("grid_initialized",
			logger.String("symbol", ctx.Symbol),
			logger.Float64("anchor", g.state.Anchor),
			logger.Float64("low", g.state.Levels[0]),
			logger.Float64("high", g.state.Levels[len(g.state.Levels)-1]),
		)
		return types.Signal{Kind: types.SignalRebalance, GridLevel: -1, Reason: "grid built"}, nil
	}
	if g.shouldRebalance(ctx) {
		drift := g.state.DriftPct(ctx.Price)
		g.state.Rebuild(ctx.Price, g.Cfg.NumGrids, g.Cfg.RangePct, ctx.Now)
		g.Log.Info("grid_rebalanced",
			logger.String("symbol", ctx.Symbol),
			logger.Float64("anchor", g.state.Anchor),
			logger.Float64("drift_pct", drift),
		)
		return types.Signal{Kind: types.SignalRebalance, GridLevel: -1, Reason: "anchor drift"}, nil
	}

	// Regime gate: ADX above threshold means the market trends and rung
	// entries would fight it.
	if g.Cfg.RegimeFilter {
		regime, adx, err := detectRegime(ctx.Ind, g.Cfg.ADXThreshold)
		if err != nil {
			return types.NoSignal("indicators warming up"), nil
		}
		if regime != RegimeRanging {
			g.Log.Info("grid_paused_trending",
				logger.String("symbol", ctx.Symbol),
				logger.String("regime", regime),
				logger.Float64("adx", adx),
			)
			sig := types.NoSignal("trending market")
			sig.Regime = regime
			return sig, nil
		}
	}

	// Trend gate: price stretched beyond ±3% of its SMA20 tends to keep
	// going; both sides are suppressed.
	if g.Cfg.TrendFilter {
		trendPct, err := ctx.Ind.TrendPct(trendPeriod)
		if err != nil {
			return types.NoSignal("indicators warming up"), nil
		}
		if trendPct < -maxTrendPct {
			return types.NoSignal("strong downtrend"), nil
		}
		if trendPct > maxTrendPct {
			return types.NoSignal("strong uptrend"), nil
		}
	}

	level := g.state.LevelFor(ctx.Price)
	if level < 0 {
		return types.NoSignal("grid unbuilt"), nil
	}

	atrPct, err := ctx.Ind.ATRPercent(atrPeriod)
	if err != nil {
		return types.NoSignal("indicators warming up"), nil
	}
	if atrPct < minATRPct {
		return types.NoSignal("volatility too low"), nil
	}

	if ctx.HasPosition {
		return types.NoSignal("position open"), nil
	}
	if len(g.state.Occupied) >= g.Cfg.MaxGridPositions {
		return types.NoSignal("all grid slots occupied"), nil
	}

	mid := g.state.MidIndex()
	switch {
	case level < mid:
		if g.state.Occupied[level] {
			return types.NoSignal("level occupied"), nil
		}
		target := level + 1
		tp := (g.state.Levels[target] - ctx.Price) / ctx.Price * 100
		if tp < g.Cfg.ProfitPerGridPct {
			tp = g.Cfg.ProfitPerGridPct
		}
		sl := g.stopLoss(atrPct)
		g.Log.Info("grid_long",
			logger.String("symbol", ctx.Symbol),
			logger.Int("level", level),
			logger.Float64("price", ctx.Price),
			logger.Float64("target", g.state.Levels[target]),
			logger.Float64("tp_pct", tp),
			logger.Float64("sl_pct", sl),
		)
		return types.Signal{
			Kind:          types.SignalOpenLong,
			Side:          types.Long,
			GridLevel:     level,
			TakeProfitPct: tp,
			StopLossPct:   sl,
			Regime:        RegimeRanging,
			Reason:        "rung below anchor",
		}, nil

	case level > mid:
		if g.state.Occupied[level] {
			return types.NoSignal("level occupied"), nil
		}
		target := level - 1
		tp := (ctx.Price - g.state.Levels[target]) / ctx.Price * 100
		if tp < g.Cfg.ProfitPerGridPct {
			tp = g.Cfg.ProfitPerGridPct
		}
		sl := g.stopLoss(atrPct)
		g.Log.Info("grid_short",
			logger.String("symbol", ctx.Symbol),
			logger.Int("level", level),
			logger.Float64("price", ctx.Price),
			logger.Float64("target", g.state.Levels[target]),
			logger.Float64("tp_pct", tp),
			logger.Float64("sl_pct", sl),
		)
		return types.Signal{
			Kind:          types.SignalOpenShort,
			Side:          types.Short,
			GridLevel:     level,
			TakeProfitPct: tp,
			StopLossPct:   sl,
			Regime:        RegimeRanging,
			Reason:        "rung above anchor",
		}, nil
	}

	return types.NoSignal("middle band"), nil
}

func (g *Grid) shouldRebalance(ctx Context) bool {
	if ctx.HasPosition {
		return false
	}
	if g.state.DriftPct(ctx.Price) < g.Cfg.RebalanceThresholdPct {
		return false
	}
	if g.state.LastRebalance.IsZero() {
		return true
	}
	return ctx.Now.Sub(g.state.LastRebalance) >= g.Cfg.MinRebalanceInterval()
}

// stopLoss scales the stop with recent volatility. With dynamic stops off
// it falls back to half the rebalance threshold so a stop always fires
// before the grid re-anchors away from the position.
func (g *Grid) stopLoss(atrPct float64) float64 {
	if !g.Cfg.DynamicSL {
		return g.Cfg.RebalanceThresholdPct * 0.5
	}
	if g.Cfg.TightSL {
		return clamp(atrPct, 1.0, 2.0)
	}
	return clamp(atrPct*1.5, 2.0, 3.5)
}
