package position

import (
	"time"

	"github.com/evdnx/gogrid/config"
	"github.com/evdnx/gogrid/risk"
	"github.com/evdnx/gogrid/types"
)

// State of one symbol's position lifecycle. Flat positions hold no record;
// Entering and Exiting exist only while an order is in flight within a
// cycle.
type State string

const (
	StateFlat     State = "flat"
	StateEntering State = "entering"
	StateOpen     State = "open"
	StateExiting  State = "exiting"
)

// Close reasons written to the trade log.
const (
	ReasonTakeProfit = "take_profit"
	ReasonStopLoss   = "stop_loss"
	ReasonBreakEven  = "break_even"
)

// Position is the local record of one open futures position together with
// its dynamic exit bounds. All percentages are PnL as a percent of the
// position margin.
type Position struct {
	Symbol     string
	Side       types.Side
	GridLevel  int
	Contracts  int64
	EntryPrice float64
	Margin     float64
	Leverage   float64
	Regime     string
	OpenedAt   time.Time
	State      State

	// BaseTP is the take-profit bound at entry; it tightens toward TPFloor
	// as PeakPnLPct approaches it. LossBound starts at -SL and only ever
	// rises; once it crosses zero the close reads as break-even.
	BaseTP     float64
	TPFloor    float64
	LossBound  float64
	PeakPnLPct float64

	breakevenTrigger float64
	breakevenOffset  float64
	breakevenArmed   bool
}

// NewFromFill builds the record for a confirmed entry fill. Zero TP/SL on
// the signal fall back to the configured base bounds; the TP floor never
// sits above the bound it tightens toward.
func NewFromFill(sig types.Signal, alloc risk.Allocation, price float64, cfg config.SymbolConfig, now time.Time) *Position {
	tp := sig.TakeProfitPct
	if tp <= 0 {
		tp = cfg.BaseTakeProfitPct
	}
	sl := sig.StopLossPct
	if sl <= 0 {
		sl = cfg.BaseStopLossPct
	}
	floor := cfg.TakeProfitFloorPct
	if floor > tp {
		floor = tp
	}
	return &Position{
		Symbol:           cfg.Symbol,
		Side:             sig.Side,
		GridLevel:        sig.GridLevel,
		Contracts:        alloc.Contracts,
		EntryPrice:       price,
		Margin:           alloc.Margin,
		Leverage:         cfg.Leverage,
		Regime:           sig.Regime,
		OpenedAt:         now,
		State:            StateOpen,
		BaseTP:           tp,
		TPFloor:          floor,
		LossBound:        -sl,
		breakevenTrigger: cfg.BreakevenTriggerPct,
		breakevenOffset:  cfg.BreakevenOffsetPct,
	}
}

// Adopt builds a record for an exchange position that has no local one,
// using the configured base exit bounds. The grid level is unknown, so a
// later close feeds back to the strategy as a trend-style result.
func Adopt(exch types.ExchangePosition, cfg config.SymbolConfig, now time.Time) *Position {
	lev := exch.Leverage
	if lev <= 0 {
		lev = cfg.Leverage
	}
	floor := cfg.TakeProfitFloorPct
	if floor > cfg.BaseTakeProfitPct {
		floor = cfg.BaseTakeProfitPct
	}
	return &Position{
		Symbol:           cfg.Symbol,
		Side:             exch.Side(),
		GridLevel:        -1,
		Contracts:        exch.Contracts(),
		EntryPrice:       exch.EntryPrice,
		Margin:           exch.Margin,
		Leverage:         lev,
		OpenedAt:         now,
		State:            StateOpen,
		BaseTP:           cfg.BaseTakeProfitPct,
		TPFloor:          floor,
		LossBound:        -cfg.BaseStopLossPct,
		breakevenTrigger: cfg.BreakevenTriggerPct,
		breakevenOffset:  cfg.BreakevenOffsetPct,
	}
}

// PnLPct converts exchange-reported unrealised PnL into a percent of the
// position margin. A non-positive margin yields zero rather than a blowup.
func PnLPct(unrealised, margin float64) float64 {
	if margin <= 0 {
		return 0
	}
	return unrealised / margin * 100
}

// Update feeds one cycle's PnL into the dynamic bounds: the running peak,
// and the break-even arm once the peak clears its trigger. The loss bound
// only ever rises.
func (p *Position) Update(pnlPct float64) {
	if pnlPct > p.PeakPnLPct {
		p.PeakPnLPct = pnlPct
	}
	if !p.breakevenArmed && p.breakevenTrigger > 0 && p.PeakPnLPct >= p.breakevenTrigger {
		p.breakevenArmed = true
		if p.breakevenOffset > p.LossBound {
			p.LossBound = p.breakevenOffset
		}
	}
}

// EffectiveTP is the current take-profit bound: it interpolates from BaseTP
// down to TPFloor as the peak approaches BaseTP, and never moves back up
// because the peak never falls.
func (p *Position) EffectiveTP() float64 {
	if p.BaseTP <= 0 {
		return 0
	}
	frac := p.PeakPnLPct / p.BaseTP
	if frac > 1 {
		frac = 1
	}
	if frac < 0 {
		frac = 0
	}
	return p.BaseTP - (p.BaseTP-p.TPFloor)*frac
}

// Exit is a close decision with the bound that triggered it.
type Exit struct {
	Reason string
	PnLPct float64
	EffTP  float64
	Bound  float64
}

// ShouldClose evaluates the exit bounds against the cycle's PnL. Update
// must run first so the bounds reflect the same observation.
func (p *Position) ShouldClose(pnlPct float64) (Exit, bool) {
	effTP := p.EffectiveTP()
	if pnlPct >= effTP {
		return Exit{Reason: ReasonTakeProfit, PnLPct: pnlPct, EffTP: effTP, Bound: effTP}, true
	}
	if pnlPct <= p.LossBound {
		reason := ReasonStopLoss
		if p.LossBound >= 0 {
			reason = ReasonBreakEven
		}
		return Exit{Reason: reason, PnLPct: pnlPct, EffTP: effTP, Bound: p.LossBound}, true
	}
	return Exit{}, false
}
