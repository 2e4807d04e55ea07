package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/evdnx/gogrid/types"
)

type mockPosition struct {
	size     int64 // signed contracts
	entry    float64
	margin   float64
	leverage float64
}

// MockExchange implements the exchange client surface in-memory, with the
// same margin accounting as the paper client so multi-entry flows see the
// balance shrink after each fill. Prices, candles, and failures are scripted
// per symbol.
type MockExchange struct {
	mu sync.RWMutex

	available  float64
	prices     map[string]float64
	candles    map[string][]types.Candle
	positions  map[string]*mockPosition
	leverage   map[string]float64
	multiplier map[string]float64

	priceErr   map[string]error
	candleErr  map[string]error
	balanceErr error
	orderErr   error

	orders   []types.Order // captured for assertions
	closures []string
	orderSeq int
}

// NewMockExchange creates a mock holding the supplied free balance and
// contract multipliers.
func NewMockExchange(available float64, multipliers map[string]float64) *MockExchange {
	return &MockExchange{
		available:  available,
		prices:     make(map[string]float64),
		candles:    make(map[string][]types.Candle),
		positions:  make(map[string]*mockPosition),
		leverage:   make(map[string]float64),
		multiplier: multipliers,
		priceErr:   make(map[string]error),
		candleErr:  make(map[string]error),
	}
}

// SetPrice scripts the mark price for a symbol.
func (m *MockExchange) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

// SetCandles scripts the candle history for a symbol.
func (m *MockExchange) SetCandles(symbol string, bars []types.Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles[symbol] = append([]types.Candle(nil), bars...)
}

// SetPosition installs a position the engine did not open, for adoption
// flows. A nil position clears the slot.
func (m *MockExchange) SetPosition(symbol string, size int64, entry, margin, leverage float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if size == 0 {
		delete(m.positions, symbol)
		return
	}
	m.positions[symbol] = &mockPosition{size: size, entry: entry, margin: margin, leverage: leverage}
}

// FailPrice makes GetPrice for the symbol return err until cleared with nil.
func (m *MockExchange) FailPrice(symbol string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.priceErr, symbol)
		return
	}
	m.priceErr[symbol] = err
}

// FailCandles makes GetCandles for the symbol return err until cleared.
func (m *MockExchange) FailCandles(symbol string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.candleErr, symbol)
		return
	}
	m.candleErr[symbol] = err
}

// FailBalance makes GetBalance return err until cleared with nil.
func (m *MockExchange) FailBalance(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balanceErr = err
}

// FailOrders makes PlaceOrder return err until cleared with nil.
func (m *MockExchange) FailOrders(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orderErr = err
}

func (m *MockExchange) GetPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.priceErr[symbol]; err != nil {
		return 0, err
	}
	px, ok := m.prices[symbol]
	if !ok {
		return 0, types.Transient("mock price", fmt.Errorf("no price for %s", symbol))
	}
	return px, nil
}

func (m *MockExchange) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.candleErr[symbol]; err != nil {
		return nil, err
	}
	bars := m.candles[symbol]
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return append([]types.Candle(nil), bars...), nil
}

func (m *MockExchange) GetBalance(ctx context.Context) (types.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.balanceErr != nil {
		return types.Balance{}, m.balanceErr
	}
	var locked float64
	for _, p := range m.positions {
		locked += p.margin
	}
	return types.Balance{
		Total:          m.available + locked,
		Available:      m.available,
		PositionMargin: locked,
	}, nil
}

func (m *MockExchange) GetPositions(ctx context.Context) ([]types.ExchangePosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.ExchangePosition, 0, len(m.positions))
	for sym, p := range m.positions {
		out = append(out, m.snapshotLocked(sym, p))
	}
	return out, nil
}

func (m *MockExchange) GetPosition(ctx context.Context, symbol string) (*types.ExchangePosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[symbol]
	if !ok {
		return nil, nil
	}
	snap := m.snapshotLocked(symbol, p)
	return &snap, nil
}

func (m *MockExchange) snapshotLocked(symbol string, p *mockPosition) types.ExchangePosition {
	unrealised := 0.0
	if px, ok := m.prices[symbol]; ok {
		unrealised = (px - p.entry) * float64(p.size) * m.multiplier[symbol]
	}
	return types.ExchangePosition{
		Symbol:        symbol,
		Size:          p.size,
		EntryPrice:    p.entry,
		Leverage:      p.leverage,
		Margin:        p.margin,
		UnrealisedPnL: unrealised,
	}
}

// PlaceOrder fills instantly at the scripted price and moves margin between
// the free balance and the position, mirroring live fill accounting.
func (m *MockExchange) PlaceOrder(ctx context.Context, order types.Order) (types.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.orderErr != nil {
		return types.OrderResult{}, m.orderErr
	}
	if order.Contracts <= 0 {
		return types.OrderResult{}, types.Rejected("mock order", fmt.Errorf("non-positive contracts %d", order.Contracts))
	}
	px, ok := m.prices[order.Symbol]
	if !ok {
		return types.OrderResult{}, types.Transient("mock order", fmt.Errorf("no price for %s", order.Symbol))
	}
	mult, ok := m.multiplier[order.Symbol]
	if !ok {
		return types.OrderResult{}, types.Rejected("mock order", fmt.Errorf("unknown contract %s", order.Symbol))
	}

	if order.ReduceOnly {
		return m.reduceLocked(order, px, mult)
	}

	size := order.Contracts
	if order.Side == types.Short {
		size = -size
	}
	if p, exists := m.positions[order.Symbol]; exists && (p.size > 0) != (size > 0) {
		return types.OrderResult{}, types.Rejected("mock order", fmt.Errorf("opposite position open on %s", order.Symbol))
	}
	lev := m.leverage[order.Symbol]
	if lev <= 0 {
		lev = 1
	}
	margin := px * float64(abs64(size)) * mult / lev
	if margin > m.available {
		return types.OrderResult{}, types.Rejected("mock order", fmt.Errorf("margin %.4f exceeds available %.4f", margin, m.available))
	}
	m.available -= margin
	if p, exists := m.positions[order.Symbol]; exists {
		total := p.size + size
		p.entry = (p.entry*float64(abs64(p.size)) + px*float64(abs64(size))) / float64(abs64(total))
		p.size = total
		p.margin += margin
	} else {
		m.positions[order.Symbol] = &mockPosition{size: size, entry: px, margin: margin, leverage: lev}
	}
	m.orders = append(m.orders, order)
	return m.ackLocked(px), nil
}

func (m *MockExchange) reduceLocked(order types.Order, px, mult float64) (types.OrderResult, error) {
	p, ok := m.positions[order.Symbol]
	if !ok {
		return types.OrderResult{}, types.Rejected("mock order", fmt.Errorf("reduce-only without position on %s", order.Symbol))
	}
	cover := order.Contracts
	if cover > abs64(p.size) {
		cover = abs64(p.size)
	}
	direction := 1.0
	if p.size < 0 {
		direction = -1
	}
	share := float64(cover) / float64(abs64(p.size))
	pnl := (px - p.entry) * direction * float64(cover) * mult
	released := p.margin * share
	m.available += released + pnl
	p.margin -= released
	if p.size > 0 {
		p.size -= cover
	} else {
		p.size += cover
	}
	if p.size == 0 {
		delete(m.positions, order.Symbol)
	}
	m.orders = append(m.orders, order)
	return m.ackLocked(px), nil
}

func (m *MockExchange) ClosePosition(ctx context.Context, symbol string) (types.OrderResult, error) {
	m.mu.Lock()
	p, ok := m.positions[symbol]
	if !ok {
		m.mu.Unlock()
		return types.OrderResult{}, types.Desync(symbol, "close requested with no open position")
	}
	side := types.Short
	if p.size < 0 {
		side = types.Long
	}
	contracts := abs64(p.size)
	m.closures = append(m.closures, symbol)
	m.mu.Unlock()

	return m.PlaceOrder(ctx, types.Order{
		Symbol:     symbol,
		Side:       side,
		Contracts:  contracts,
		ReduceOnly: true,
	})
}

func (m *MockExchange) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	if leverage <= 0 {
		return types.Rejected("mock leverage", fmt.Errorf("leverage %.2f out of range", leverage))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leverage[symbol] = leverage
	return nil
}

// Available returns the free balance.
func (m *MockExchange) Available() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.available
}

// Leverage returns the last leverage applied to a symbol.
func (m *MockExchange) Leverage(symbol string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.leverage[symbol]
}

// Orders returns a copy of all accepted orders (useful for assertions).
func (m *MockExchange) Orders() []types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Order, len(m.orders))
	copy(out, m.orders)
	return out
}

// Closures returns the symbols ClosePosition was called for, in order.
func (m *MockExchange) Closures() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.closures...)
}

func (m *MockExchange) ackLocked(fill float64) types.OrderResult {
	m.orderSeq++
	return types.OrderResult{
		ID:        fmt.Sprintf("mock-%d", m.orderSeq),
		FillPrice: fill,
		Status:    "finished",
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
