package strategy

import (
	"math"
	"time"

	"github.com/evdnx/goti"
	"github.com/evdnx/gogrid/config"
	"github.com/evdnx/gogrid/logger"
	"github.com/evdnx/gogrid/types"
)

// direction restricts which side the trend strategy may take. The adaptive
// wrapper narrows it to the regime's direction.
type direction int

const (
	bothDirections direction = iota
	longOnly
	shortOnly
)

const (
	fastEMAPeriod  = 12
	slowEMAPeriod  = 26
	momentumPeriod = 10
	minMomentum    = 0.5

	minEntryGap   = 15 * time.Minute
	maxLossStreak = 3
	lossCooldown  = time.Hour
)

// Trend rides EMA alignments: fast above slow with strong ADX and positive
// momentum goes long, the mirror goes short. Targets are wide and stops
// fast, both scaled from ATR. A goti crossover suite gets the final veto.
type Trend struct {
	Base
	suite *goti.IndicatorSuite

	lastBar       time.Time
	lastEntry     time.Time
	lossStreak    int
	cooldownUntil time.Time
}

func NewTrend(cfg config.SymbolConfig, log logger.Logger, suiteFactory SuiteFactory) (*Trend, error) {
	suite, err := suiteFactory()
	if err != nil {
		return nil, err
	}
	return &Trend{Base: Base{Cfg: cfg, Log: log}, suite: suite}, nil
}

func (t *Trend) Name() string { return config.StrategyTrend }

// RecordEntry arms the minimum spacing between entries. It runs on fill,
// not on signal, so a rejected order can be retried next cycle.
func (t *Trend) RecordEntry(_ int, now time.Time) { t.lastEntry = now }

// RecordResult tracks the loss streak; three straight losses put the
// strategy on an hour-long cooldown.
func (t *Trend) RecordResult(_ int, win bool, now time.Time) {
	if win {
		t.lossStreak = 0
		return
	}
	t.lossStreak++
	if t.lossStreak >= maxLossStreak {
		t.cooldownUntil = now.Add(lossCooldown)
		t.Log.Warn("trend_cooldown",
			logger.String("symbol", t.Cfg.Symbol),
			logger.Int("consecutive_losses", t.lossStreak),
			logger.Time("until", t.cooldownUntil),
		)
	}
}

func (t *Trend) Analyze(ctx Context) (types.Signal, error) {
	return t.analyze(ctx, bothDirections)
}

func (t *Trend) analyze(ctx Context, dir direction) (types.Signal, error) {
	t.feedSuite(ctx)

	if !t.cooldownUntil.IsZero() {
		if ctx.Now.Before(t.cooldownUntil) {
			return types.NoSignal("loss cooldown"), nil
		}
		t.cooldownUntil = time.Time{}
		t.lossStreak = 0
		t.Log.Info("trend_cooldown_over", logger.String("symbol", ctx.Symbol))
	}

	fast, err := ctx.Ind.EMA(fastEMAPeriod)
	if err != nil {
		return types.NoSignal("warming up"), nil
	}
	slow, err := ctx.Ind.EMA(slowEMAPeriod)
	if err != nil {
		return types.NoSignal("warming up"), nil
	}
	adx, _, _, err := ctx.Ind.ADX(adxPeriod)
	if err != nil {
		return types.NoSignal("warming up"), nil
	}
	mom, err := ctx.Ind.Momentum(momentumPeriod)
	if err != nil {
		return types.NoSignal("warming up"), nil
	}
	atrPct, err := ctx.Ind.ATRPercent(atrPeriod)
	if err != nil {
		return types.NoSignal("warming up"), nil
	}

	if ctx.HasPosition {
		return types.NoSignal("position open"), nil
	}
	if !t.lastEntry.IsZero() && ctx.Now.Sub(t.lastEntry) < minEntryGap {
		return types.NoSignal("entry spacing"), nil
	}
	if adx <= t.Cfg.ADXThreshold {
		return types.NoSignal("weak trend"), nil
	}

	switch {
	case dir != shortOnly && fast > slow && mom > minMomentum:
		if !t.confirmLong() {
			return types.NoSignal("bearish crossover veto"), nil
		}
		tp, sl := trendTPSL(atrPct)
		t.Log.Info("trend_long",
			logger.String("symbol", ctx.Symbol),
			logger.Float64("fast_ema", fast),
			logger.Float64("slow_ema", slow),
			logger.Float64("adx", adx),
			logger.Float64("momentum", mom),
			logger.Float64("tp_pct", tp),
			logger.Float64("sl_pct", sl),
		)
		return types.Signal{
			Kind:          types.SignalOpenLong,
			Side:          types.Long,
			GridLevel:     -1,
			TakeProfitPct: tp,
			StopLossPct:   sl,
			Regime:        RegimeTrendingUp,
			Reason:        "ema uptrend",
		}, nil

	case dir != longOnly && fast < slow && mom < -minMomentum:
		if !t.confirmShort() {
			return types.NoSignal("bullish crossover veto"), nil
		}
		tp, sl := trendTPSL(atrPct)
		t.Log.Info("trend_short",
			logger.String("symbol", ctx.Symbol),
			logger.Float64("fast_ema", fast),
			logger.Float64("slow_ema", slow),
			logger.Float64("adx", adx),
			logger.Float64("momentum", mom),
			logger.Float64("tp_pct", tp),
			logger.Float64("sl_pct", sl),
		)
		return types.Signal{
			Kind:          types.SignalOpenShort,
			Side:          types.Short,
			GridLevel:     -1,
			TakeProfitPct: tp,
			StopLossPct:   sl,
			Regime:        RegimeTrendingDown,
			Reason:        "ema downtrend",
		}, nil
	}

	return types.NoSignal("no trend alignment"), nil
}

// feedSuite forwards each newly completed bar to the goti suite exactly
// once; re-polls of the forming bar are skipped.
func (t *Trend) feedSuite(ctx Context) {
	if t.suite == nil {
		return
	}
	last, ok := ctx.Ind.Last()
	if !ok || !last.Time.After(t.lastBar) {
		return
	}
	if err := t.suite.Add(last.High, last.Low, last.Close, last.Volume); err != nil {
		t.Log.Warn("suite_add_failed", logger.String("symbol", ctx.Symbol), logger.Err(err))
		return
	}
	t.lastBar = last.Time
}

// confirmLong vetoes a long when the suite's HMA reports a bearish
// crossover. A suite still warming up abstains.
func (t *Trend) confirmLong() bool {
	if t.suite == nil {
		return true
	}
	bearish, err := t.suite.GetHMA().IsBearishCrossover()
	if err != nil {
		return true
	}
	return !bearish
}

func (t *Trend) confirmShort() bool {
	if t.suite == nil {
		return true
	}
	bullish, err := t.suite.GetHMA().IsBullishCrossover()
	if err != nil {
		return true
	}
	return !bullish
}

// trendTPSL derives the exit thresholds from volatility: the target rides
// three ATRs, the stop cuts at one and a half, both bounded and rounded to
// a tenth of a percent.
func trendTPSL(atrPct float64) (tp, sl float64) {
	tp = clamp(atrPct*3.0, 3.0, 10.0)
	sl = clamp(atrPct*1.5, 1.5, 4.0)
	return math.Round(tp*10) / 10, math.Round(sl*10) / 10
}
