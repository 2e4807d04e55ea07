package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/evdnx/gogrid/config"
	"github.com/evdnx/gogrid/logger"
	"github.com/evdnx/gogrid/types"
)

func newAdaptiveForTest(t *testing.T, cfg config.SymbolConfig) *Adaptive {
	t.Helper()
	cfg.Strategy = config.StrategyAdaptive
	a, err := NewAdaptive(cfg, logger.NewNop(), noSuite)
	if err != nil {
		t.Fatalf("NewAdaptive: %v", err)
	}
	return a
}

func TestAdaptiveGridProfile(t *testing.T) {
	a := newAdaptiveForTest(t, baseCfg())

	g := a.grid.Cfg
	if g.NumGrids != 30 || g.RangePct != 10.0 {
		t.Fatalf("expected 30 grids over ±10%%, got %d over ±%v", g.NumGrids, g.RangePct)
	}
	if g.ProfitPerGridPct != 0.3 || g.MaxGridPositions != 10 {
		t.Fatalf("expected 0.3 profit floor and 10 slots, got %v/%d", g.ProfitPerGridPct, g.MaxGridPositions)
	}
	// regime classification belongs to the wrapper, not the embedded grid
	if g.RegimeFilter {
		t.Fatal("embedded grid must not run its own regime filter")
	}
}

func TestAdaptiveRangingRoutesToGrid(t *testing.T) {
	a := newAdaptiveForTest(t, baseCfg())
	ind := engineWith(zigzagBars(40))

	sig, err := a.Analyze(ctxAt(ind, 100, t0))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if sig.Kind != types.SignalRebalance {
		t.Fatalf("expected grid build in a ranging market, got %v (%s)", sig.Kind, sig.Reason)
	}
	if sig.Regime != RegimeRanging {
		t.Fatalf("expected ranging regime stamp, got %q", sig.Regime)
	}

	// the wide profile spans 90..110 in thirds of a percent; 95 lands on
	// level 7 with the next rung at 95.333
	sig, err = a.Analyze(ctxAt(ind, 95, t0.Add(5*time.Minute)))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if sig.Kind != types.SignalOpenLong || sig.GridLevel != 7 {
		t.Fatalf("expected long at level 7, got %v level %d (%s)", sig.Kind, sig.GridLevel, sig.Reason)
	}
	if math.Abs(sig.TakeProfitPct-0.3509) > 0.001 {
		t.Fatalf("expected tp near 0.3509, got %v", sig.TakeProfitPct)
	}
	if sig.Regime != RegimeRanging {
		t.Fatalf("expected ranging regime stamp on entry, got %q", sig.Regime)
	}
}

func TestAdaptiveTrendingUpGoesLong(t *testing.T) {
	a := newAdaptiveForTest(t, baseCfg())
	ind := engineWith(rampBars(28, 100, 1))

	sig, err := a.Analyze(ctxAt(ind, 127, t0.Add(3*time.Hour)))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if sig.Kind != types.SignalOpenLong {
		t.Fatalf("expected trend long in an uptrend, got %v (%s)", sig.Kind, sig.Reason)
	}
	if sig.GridLevel != -1 {
		t.Fatalf("trend leg must not carry a grid level, got %d", sig.GridLevel)
	}
	if sig.Regime != RegimeTrendingUp {
		t.Fatalf("expected trending_up stamp, got %q", sig.Regime)
	}
	if a.Regime() != RegimeTrendingUp {
		t.Fatalf("expected tracked regime trending_up, got %q", a.Regime())
	}
}

func TestAdaptiveDowntrendShorts(t *testing.T) {
	a := newAdaptiveForTest(t, baseCfg())
	ind := engineWith(rampBars(28, 127, -1))

	sig, err := a.Analyze(ctxAt(ind, 100, t0.Add(3*time.Hour)))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if sig.Kind != types.SignalOpenShort {
		t.Fatalf("expected trend short in a downtrend, got %v (%s)", sig.Kind, sig.Reason)
	}
	if sig.Regime != RegimeTrendingDown {
		t.Fatalf("expected trending_down stamp, got %q", sig.Regime)
	}
}

func TestAdaptiveDowntrendShortsDisabled(t *testing.T) {
	cfg := baseCfg()
	cfg.AllowShortInDowntrend = false
	a := newAdaptiveForTest(t, cfg)
	ind := engineWith(rampBars(28, 127, -1))

	sig, err := a.Analyze(ctxAt(ind, 100, t0.Add(3*time.Hour)))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if sig.Kind != types.SignalNone {
		t.Fatalf("expected wait with shorts disabled, got %v", sig.Kind)
	}
	if sig.Reason != "downtrend, shorts disabled" {
		t.Fatalf("unexpected reason %q", sig.Reason)
	}
	if sig.Regime != RegimeTrendingDown {
		t.Fatalf("expected trending_down stamp, got %q", sig.Regime)
	}
}

func TestAdaptiveRecordRouting(t *testing.T) {
	a := newAdaptiveForTest(t, baseCfg())
	now := t0.Add(time.Hour)

	// a fill with a level belongs to the grid leg
	a.RecordEntry(7, now)
	if !a.grid.State().Occupied[7] {
		t.Fatal("expected grid level 7 marked occupied")
	}
	if !a.trend.lastEntry.IsZero() {
		t.Fatal("grid fill must not arm trend entry spacing")
	}

	// a level-less fill belongs to the trend leg
	a.RecordEntry(-1, now)
	if !a.trend.lastEntry.Equal(now) {
		t.Fatalf("expected trend entry time %v, got %v", now, a.trend.lastEntry)
	}

	a.RecordResult(7, true, now)
	if a.grid.State().Occupied[7] {
		t.Fatal("expected grid level 7 freed on close")
	}

	for i := 0; i < 3; i++ {
		a.RecordResult(-1, false, now)
	}
	if a.trend.cooldownUntil.IsZero() {
		t.Fatal("expected trend cooldown after routed losses")
	}
}

func TestAdaptiveRegimeChange(t *testing.T) {
	a := newAdaptiveForTest(t, baseCfg())
	ind := engineWith(rampBars(28, 100, 1))

	if _, err := a.Analyze(ctxAt(ind, 127, t0.Add(3*time.Hour))); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if a.Regime() != RegimeTrendingUp {
		t.Fatalf("expected trending_up, got %q", a.Regime())
	}

	ind.Replace(zigzagBars(40))
	sig, err := a.Analyze(ctxAt(ind, 100, t0.Add(4*time.Hour)))
	if err != nil {
		t.Fatalf("analyze after regime flip: %v", err)
	}
	if a.Regime() != RegimeRanging {
		t.Fatalf("expected ranging after flip, got %q", a.Regime())
	}
	if sig.Kind != types.SignalRebalance {
		t.Fatalf("expected grid build once ranging, got %v (%s)", sig.Kind, sig.Reason)
	}
}

func TestAdaptiveWarmup(t *testing.T) {
	a := newAdaptiveForTest(t, baseCfg())
	ind := engineWith(flatBars(10, 100, 1))

	sig, err := a.Analyze(ctxAt(ind, 100, t0))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if sig.Kind != types.SignalNone || sig.Reason != "warming up" {
		t.Fatalf("expected warm-up hold, got %v (%s)", sig.Kind, sig.Reason)
	}
}
