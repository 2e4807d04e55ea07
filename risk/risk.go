package risk

import (
	"errors"
	"fmt"
	"math"

	"github.com/evdnx/gogrid/config"
	"github.com/evdnx/gogrid/types"
)

// ErrOverCommit reports a sizing result that would require more margin than
// the account has available. The tier percentages make that impossible with
// consistent inputs, so callers treat it as fatal rather than retrying.
var ErrOverCommit = errors.New("risk: allocation exceeds available balance")

// Allocation is the sized outcome of one entry decision. A zero Contracts
// with a Reason means the entry is skipped this cycle, not failed.
type Allocation struct {
	Pct       float64
	Contracts int64
	Margin    float64
	Notional  float64
	Reason    string
}

// Skipped reports whether the allocation carries no position.
func (a Allocation) Skipped() bool { return a.Contracts == 0 }

// TierPct maps the number of already open positions to the fraction of the
// available balance committed to the next entry: half the account for the
// first position, nearly all of the remainder for the second, nothing
// beyond that.
func TierPct(openPositions int) float64 {
	switch {
	case openPositions <= 0:
		return 0.50
	case openPositions == 1:
		return 0.95
	default:
		return 0
	}
}

// Contracts converts a capital commitment into whole contracts at the given
// price and contract multiplier. Fractional contracts round down; a result
// under one contract is zero, never bumped up.
func Contracts(available, pct, leverage, price, multiplier float64) int64 {
	if price <= 0 || multiplier <= 0 || leverage <= 0 {
		return 0
	}
	raw := available * pct * leverage / (price * multiplier)
	if raw < 1 {
		return 0
	}
	return int64(math.Floor(raw))
}

// Margin is the initial margin a position of the given size requires.
func Margin(contracts int64, price, multiplier, leverage float64) float64 {
	if leverage <= 0 {
		return 0
	}
	return float64(contracts) * multiplier * price / leverage
}

// Plan sizes the next entry for one symbol from a fresh capital snapshot.
// The snapshot must be re-read after every fill so entries earlier in the
// same cycle shrink what later symbols may take.
func Plan(snap types.CapitalSnapshot, cfg config.SymbolConfig, price float64, maxOpen int) (Allocation, error) {
	if price <= 0 {
		return Allocation{}, fmt.Errorf("risk: non-positive price %g for %s", price, cfg.Symbol)
	}
	if snap.OpenPositions >= maxOpen {
		return Allocation{Reason: "position cap reached"}, nil
	}

	pct := TierPct(snap.OpenPositions)
	if pct == 0 {
		return Allocation{Reason: "no capital tier"}, nil
	}

	contracts := Contracts(snap.Available, pct, cfg.Leverage, price, cfg.ContractMultiplier)
	if contracts == 0 {
		return Allocation{Pct: pct, Reason: "allocation below one contract"}, nil
	}

	margin := Margin(contracts, price, cfg.ContractMultiplier, cfg.Leverage)
	if margin > snap.Available {
		return Allocation{}, fmt.Errorf("%w: margin %.4f, available %.4f", ErrOverCommit, margin, snap.Available)
	}

	return Allocation{
		Pct:       pct,
		Contracts: contracts,
		Margin:    margin,
		Notional:  float64(contracts) * cfg.ContractMultiplier * price,
	}, nil
}
