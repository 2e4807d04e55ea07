package types

import "time"

// Side of a futures position.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// Opposite returns the side that closes s.
func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

// SignalKind classifies the decision a strategy emits for one cycle.
type SignalKind string

const (
	SignalNone      SignalKind = "none"
	SignalOpenLong  SignalKind = "open_long"
	SignalOpenShort SignalKind = "open_short"
	SignalClose     SignalKind = "close"
	SignalRebalance SignalKind = "rebalance"
)

// Signal is produced and consumed within a single cycle; it is never stored.
// TakeProfitPct and StopLossPct are thresholds on unrealized PnL expressed as
// a percentage of the position margin. Zero means "use the configured base".
type Signal struct {
	Kind          SignalKind
	Side          Side
	GridLevel     int
	TakeProfitPct float64
	StopLossPct   float64
	Regime        string
	Reason        string
}

// NoSignal is the per-cycle "do nothing" result with a reason for the log.
func NoSignal(reason string) Signal {
	return Signal{Kind: SignalNone, GridLevel: -1, Reason: reason}
}

// Actionable reports whether the signal asks for an entry.
func (s Signal) Actionable() bool {
	return s.Kind == SignalOpenLong || s.Kind == SignalOpenShort
}

// Candle is one OHLCV bar.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// PriceSample is a last-trade observation.
type PriceSample struct {
	Time time.Time
	Last float64
}

// Balance mirrors the futures account totals reported by the exchange.
type Balance struct {
	Total          float64
	Available      float64
	PositionMargin float64
	OrderMargin    float64
}

// CapitalSnapshot is read fresh from the exchange before every allocation.
// It is never cached across symbols within a cycle: an entry on one symbol
// must be visible to the next symbol's allocation in the same cycle.
type CapitalSnapshot struct {
	Total         float64
	Available     float64
	OpenPositions int
}

// ExchangePosition is the exchange's view of a position. Size is in signed
// contracts: positive long, negative short.
type ExchangePosition struct {
	Symbol        string
	Size          int64
	EntryPrice    float64
	Leverage      float64
	Margin        float64
	UnrealisedPnL float64
}

// Side derives the direction from the sign of Size.
func (p ExchangePosition) Side() Side {
	if p.Size < 0 {
		return Short
	}
	return Long
}

// Contracts returns the unsigned contract count.
func (p ExchangePosition) Contracts() int64 {
	if p.Size < 0 {
		return -p.Size
	}
	return p.Size
}

// Order is a request against the futures account. Contracts is unsigned;
// the transport derives the wire sign from Side.
type Order struct {
	Symbol     string
	Side       Side
	Contracts  int64
	Price      float64 // limit price; 0 = market
	ReduceOnly bool
	ClientID   string
	Comment    string
}

// OrderResult is the exchange acknowledgement of a placed order.
type OrderResult struct {
	ID        string
	FillPrice float64
	Status    string
}
