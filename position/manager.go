package position

import (
	"time"

	"github.com/evdnx/gogrid/config"
	"github.com/evdnx/gogrid/logger"
	"github.com/evdnx/gogrid/types"
)

// Manager owns every live position record and the per-symbol entry
// suspension set. One record per symbol; flat symbols hold none. The
// engine drives it from a single goroutine, so there is no locking.
type Manager struct {
	log       logger.Logger
	positions map[string]*Position
	suspended map[string]bool
}

func NewManager(log logger.Logger) *Manager {
	return &Manager{
		log:       log,
		positions: make(map[string]*Position),
		suspended: make(map[string]bool),
	}
}

// Get returns the live record for symbol, if any.
func (m *Manager) Get(symbol string) (*Position, bool) {
	p, ok := m.positions[symbol]
	return p, ok
}

// Count is the number of open positions across all symbols.
func (m *Manager) Count() int { return len(m.positions) }

// Suspended reports whether entries for symbol are currently blocked by an
// unresolved desync.
func (m *Manager) Suspended(symbol string) bool { return m.suspended[symbol] }

// Track adds the record for a confirmed fill. A second record for the same
// symbol is a bug in the caller's gating; the newer one wins with a log.
func (m *Manager) Track(p *Position) {
	if _, ok := m.positions[p.Symbol]; ok {
		m.log.Error("position_overwrite", logger.String("symbol", p.Symbol))
	}
	m.positions[p.Symbol] = p
}

// Drop removes the record after a confirmed close.
func (m *Manager) Drop(symbol string) {
	delete(m.positions, symbol)
}

// Reconcile aligns the local record for symbol with the exchange's view.
// An untracked exchange position is adopted with base exit bounds. A
// tracked position missing on the exchange is dropped and the symbol's
// entries are suspended until a later pass finds local and exchange state
// in agreement.
func (m *Manager) Reconcile(symbol string, exch *types.ExchangePosition, cfg config.SymbolConfig, now time.Time) error {
	local, tracked := m.positions[symbol]
	present := exch != nil && exch.Size != 0

	switch {
	case !tracked && !present:
		m.liftSuspension(symbol)
		return nil

	case !tracked && present:
		p := Adopt(*exch, cfg, now)
		m.positions[symbol] = p
		m.log.Warn("position_adopted",
			logger.String("symbol", symbol),
			logger.String("side", string(p.Side)),
			logger.Int64("contracts", p.Contracts),
			logger.Float64("entry_price", p.EntryPrice),
			logger.Float64("margin", p.Margin),
		)
		return nil

	case tracked && !present:
		delete(m.positions, symbol)
		m.suspended[symbol] = true
		return types.Desync(symbol, "tracked %s position of %d contracts missing on exchange", local.Side, local.Contracts)

	default:
		// the exchange is authoritative for size and margin
		local.Contracts = exch.Contracts()
		if exch.Margin > 0 {
			local.Margin = exch.Margin
		}
		m.liftSuspension(symbol)
		return nil
	}
}

func (m *Manager) liftSuspension(symbol string) {
	if m.suspended[symbol] {
		delete(m.suspended, symbol)
		m.log.Info("entries_resumed", logger.String("symbol", symbol))
	}
}
