package indicator

import (
	"errors"

	"github.com/evdnx/gogrid/types"
	talib "github.com/markcheno/go-talib"
)

// ErrNotReady reports that the rolling window is too short for the requested
// indicator. Callers must treat it as "no value" and suppress signals; the
// engine never substitutes a stale or default reading.
var ErrNotReady = errors.New("indicator: not enough candles")

// Engine keeps a bounded rolling OHLCV window for one symbol and derives
// indicator values from it on demand. It is not safe for concurrent use; the
// orchestrator owns one engine per symbol and touches it from a single loop.
type Engine struct {
	max     int
	candles []types.Candle
}

// NewEngine returns an engine holding at most max candles. Oldest candles
// are evicted once the cap is exceeded.
func NewEngine(max int) *Engine {
	if max <= 0 {
		max = 120
	}
	return &Engine{max: max}
}

// Append adds a candle to the window. A candle carrying the same timestamp
// as the newest bar replaces it, so re-polling the currently forming bar
// does not duplicate it.
func (e *Engine) Append(c types.Candle) {
	if n := len(e.candles); n > 0 && e.candles[n-1].Time.Equal(c.Time) {
		e.candles[n-1] = c
		return
	}
	e.candles = append(e.candles, c)
	if len(e.candles) > e.max {
		e.candles = e.candles[len(e.candles)-e.max:]
	}
}

// Replace swaps the whole window for the given history, keeping at most the
// newest max candles. Used when a full candle fetch supersedes the window.
func (e *Engine) Replace(cs []types.Candle) {
	if len(cs) > e.max {
		cs = cs[len(cs)-e.max:]
	}
	e.candles = append(e.candles[:0], cs...)
}

func (e *Engine) Len() int { return len(e.candles) }

// Last returns the newest candle, if any.
func (e *Engine) Last() (types.Candle, bool) {
	if len(e.candles) == 0 {
		return types.Candle{}, false
	}
	return e.candles[len(e.candles)-1], true
}

func (e *Engine) closes() []float64 {
	out := make([]float64, len(e.candles))
	for i, c := range e.candles {
		out[i] = c.Close
	}
	return out
}

func (e *Engine) highsLows() (highs, lows []float64) {
	highs = make([]float64, len(e.candles))
	lows = make([]float64, len(e.candles))
	for i, c := range e.candles {
		highs[i] = c.High
		lows[i] = c.Low
	}
	return highs, lows
}

// RSI returns the smoothed relative strength index of the closes. Needs
// period+1 candles. A window with no losses reads 100.
func (e *Engine) RSI(period int) (float64, error) {
	if len(e.candles) < period+1 {
		return 0, ErrNotReady
	}
	out := talib.Rsi(e.closes(), period)
	return out[len(out)-1], nil
}

// ADX returns trend strength plus the directional lines. talib's Wilder
// smoothing needs two full periods of history before the first stable value.
func (e *Engine) ADX(period int) (adx, plusDI, minusDI float64, err error) {
	if len(e.candles) < 2*period {
		return 0, 0, 0, ErrNotReady
	}
	highs, lows := e.highsLows()
	closes := e.closes()
	adxOut := talib.Adx(highs, lows, closes, period)
	plusOut := talib.PlusDI(highs, lows, closes, period)
	minusOut := talib.MinusDI(highs, lows, closes, period)
	return adxOut[len(adxOut)-1], plusOut[len(plusOut)-1], minusOut[len(minusOut)-1], nil
}

// ATRPercent returns the average true range as a percentage of the last
// close.
func (e *Engine) ATRPercent(period int) (float64, error) {
	if len(e.candles) < period+1 {
		return 0, ErrNotReady
	}
	last := e.candles[len(e.candles)-1].Close
	if last <= 0 {
		return 0, ErrNotReady
	}
	highs, lows := e.highsLows()
	out := talib.Atr(highs, lows, e.closes(), period)
	return out[len(out)-1] / last * 100, nil
}

// EMA returns the exponential moving average of the closes.
func (e *Engine) EMA(period int) (float64, error) {
	if len(e.candles) < period {
		return 0, ErrNotReady
	}
	out := talib.Ema(e.closes(), period)
	return out[len(out)-1], nil
}

// Momentum returns the percent change of the close over the last period
// bars.
func (e *Engine) Momentum(period int) (float64, error) {
	if len(e.candles) < period+1 {
		return 0, ErrNotReady
	}
	out := talib.Roc(e.closes(), period)
	return out[len(out)-1], nil
}

// TrendPct returns how far the last close sits from its simple moving
// average, in percent. Positive means above the average.
func (e *Engine) TrendPct(period int) (float64, error) {
	if len(e.candles) < period {
		return 0, ErrNotReady
	}
	out := talib.Sma(e.closes(), period)
	sma := out[len(out)-1]
	if sma <= 0 {
		return 0, ErrNotReady
	}
	last := e.candles[len(e.candles)-1].Close
	return (last - sma) / sma * 100, nil
}
