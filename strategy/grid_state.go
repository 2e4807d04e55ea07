package strategy

import (
	"math"
	"time"
)

// GridState is the explicit, inspectable state of one symbol's grid:
// the anchor, NumGrids+1 ascending level prices around it, the set of
// levels currently holding a position, and the last rebalance time.
type GridState struct {
	Anchor        float64      `json:"anchor"`
	Levels        []float64    `json:"levels"`
	Occupied      map[int]bool `json:"occupied"`
	LastRebalance time.Time    `json:"last_rebalance"`
}

// BuildGrid computes numGrids+1 evenly spaced levels spanning anchor±rangePct.
// Level i sits at anchor * (1 + (-rangePct + i*spacing)/100) where spacing is
// 2*rangePct/numGrids percent.
func BuildGrid(anchor float64, numGrids int, rangePct float64) []float64 {
	spacing := 2 * rangePct / float64(numGrids)
	levels := make([]float64, numGrids+1)
	for i := range levels {
		pct := -rangePct + float64(i)*spacing
		levels[i] = anchor * (1 + pct/100)
	}
	return levels
}

// Rebuild re-anchors the grid at price and clears the occupied set.
func (g *GridState) Rebuild(anchor float64, numGrids int, rangePct float64, now time.Time) {
	g.Anchor = anchor
	g.Levels = BuildGrid(anchor, numGrids, rangePct)
	g.Occupied = make(map[int]bool)
	g.LastRebalance = now
}

// Initialized reports whether the grid has been built at least once.
func (g *GridState) Initialized() bool { return len(g.Levels) > 0 }

// LevelFor returns the index of the half-open band [levels[i], levels[i+1])
// containing price. Prices outside the grid clamp to the first or last
// level. Returns -1 on an unbuilt grid.
func (g *GridState) LevelFor(price float64) int {
	n := len(g.Levels)
	if n == 0 {
		return -1
	}
	for i := 0; i < n-1; i++ {
		if g.Levels[i] <= price && price < g.Levels[i+1] {
			return i
		}
	}
	if price < g.Levels[0] {
		return 0
	}
	return n - 1
}

// MidIndex is the middle level: bands below it are long territory, bands
// above it short territory, the band at it neither.
func (g *GridState) MidIndex() int { return len(g.Levels) / 2 }

// DriftPct is the absolute distance of price from the anchor in percent.
func (g *GridState) DriftPct(price float64) float64 {
	if g.Anchor <= 0 {
		return 0
	}
	return math.Abs(price-g.Anchor) / g.Anchor * 100
}
