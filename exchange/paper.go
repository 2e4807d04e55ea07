package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/evdnx/gogrid/logger"
	"github.com/evdnx/gogrid/types"
)

type paperPosition struct {
	size       int64 // signed contracts, negative short
	entryPrice float64
	margin     float64
	leverage   float64
}

// PaperClient simulates the futures account in memory: market data reads
// pass through to the wrapped source, mutations settle locally with perfect
// fills at the last seen price. The engine runs the identical code path in
// live and paper mode.
type PaperClient struct {
	data MarketData
	log  logger.Logger

	mu         sync.Mutex
	available  float64
	positions  map[string]*paperPosition
	lastPrice  map[string]float64
	leverage   map[string]float64
	multiplier map[string]float64
	orderSeq   int64
}

func NewPaperClient(data MarketData, startBalance float64, multipliers map[string]float64, log logger.Logger) *PaperClient {
	m := make(map[string]float64, len(multipliers))
	for k, v := range multipliers {
		m[k] = v
	}
	return &PaperClient{
		data:       data,
		log:        log,
		available:  startBalance,
		positions:  make(map[string]*paperPosition),
		lastPrice:  make(map[string]float64),
		leverage:   make(map[string]float64),
		multiplier: m,
	}
}

func (c *PaperClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	px, err := c.data.GetPrice(ctx, symbol)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.lastPrice[symbol] = px
	c.mu.Unlock()
	return px, nil
}

func (c *PaperClient) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error) {
	return c.data.GetCandles(ctx, symbol, interval, limit)
}

func (c *PaperClient) GetBalance(context.Context) (types.Balance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var margin float64
	for _, p := range c.positions {
		margin += p.margin
	}
	return types.Balance{
		Total:          c.available + margin,
		Available:      c.available,
		PositionMargin: margin,
	}, nil
}

func (c *PaperClient) GetPositions(context.Context) ([]types.ExchangePosition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.ExchangePosition, 0, len(c.positions))
	for symbol, p := range c.positions {
		out = append(out, c.exportLocked(symbol, p))
	}
	return out, nil
}

func (c *PaperClient) GetPosition(_ context.Context, symbol string) (*types.ExchangePosition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.positions[symbol]
	if !ok {
		return nil, nil
	}
	pos := c.exportLocked(symbol, p)
	return &pos, nil
}

func (c *PaperClient) exportLocked(symbol string, p *paperPosition) types.ExchangePosition {
	return types.ExchangePosition{
		Symbol:        symbol,
		Size:          p.size,
		EntryPrice:    p.entryPrice,
		Leverage:      p.leverage,
		Margin:        p.margin,
		UnrealisedPnL: c.markLocked(symbol, p),
	}
}

func (c *PaperClient) markLocked(symbol string, p *paperPosition) float64 {
	px, ok := c.lastPrice[symbol]
	if !ok {
		return 0
	}
	return (px - p.entryPrice) * float64(p.size) * c.multiplier[symbol]
}

// PlaceOrder fills instantly at the last seen price. Opening commits
// margin at the symbol's leverage; a reduce-only order realises PnL on the
// covered contracts and releases their margin.
func (c *PaperClient) PlaceOrder(ctx context.Context, order types.Order) (types.OrderResult, error) {
	if order.Contracts <= 0 {
		return types.OrderResult{}, types.Rejected("paper_order", errors.New("zero size"))
	}
	px, err := c.fillPrice(ctx, order.Symbol)
	if err != nil {
		return types.OrderResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	mult, ok := c.multiplier[order.Symbol]
	if !ok {
		return types.OrderResult{}, types.Rejected("paper_order", fmt.Errorf("unknown contract %s", order.Symbol))
	}
	signed := order.Contracts
	if order.Side == types.Short {
		signed = -signed
	}

	if order.ReduceOnly {
		if err := c.reduceLocked(order.Symbol, signed, px, mult); err != nil {
			return types.OrderResult{}, err
		}
		return c.ackLocked(px), nil
	}

	pos := c.positions[order.Symbol]
	if pos != nil && (pos.size > 0) != (signed > 0) {
		return types.OrderResult{}, types.Rejected("paper_order", errors.New("opposite side already open"))
	}

	lev := c.leverage[order.Symbol]
	if lev <= 0 {
		lev = 1
	}
	margin := float64(order.Contracts) * mult * px / lev
	if margin > c.available {
		return types.OrderResult{}, types.Rejected("paper_order",
			fmt.Errorf("insufficient margin: need %.4f, available %.4f", margin, c.available))
	}
	c.available -= margin

	if pos == nil {
		c.positions[order.Symbol] = &paperPosition{size: signed, entryPrice: px, margin: margin, leverage: lev}
	} else {
		total := pos.size + signed
		pos.entryPrice = (pos.entryPrice*float64(abs64(pos.size)) + px*float64(order.Contracts)) / float64(abs64(total))
		pos.size = total
		pos.margin += margin
	}
	return c.ackLocked(px), nil
}

// reduceLocked covers part of an open position, realising PnL and margin
// proportionally to the covered contracts.
func (c *PaperClient) reduceLocked(symbol string, signed int64, px, mult float64) error {
	pos := c.positions[symbol]
	if pos == nil {
		return types.Rejected("paper_order", fmt.Errorf("no position to reduce on %s", symbol))
	}
	if (pos.size > 0) == (signed > 0) {
		return types.Rejected("paper_order", errors.New("reduce order on same side"))
	}
	cover := abs64(signed)
	if cover > abs64(pos.size) {
		cover = abs64(pos.size)
	}

	share := float64(cover) / float64(abs64(pos.size))
	direction := float64(1)
	if pos.size < 0 {
		direction = -1
	}
	pnl := (px - pos.entryPrice) * direction * float64(cover) * mult
	released := pos.margin * share

	c.available += released + pnl
	pos.margin -= released
	if pos.size > 0 {
		pos.size -= cover
	} else {
		pos.size += cover
	}
	if pos.size == 0 {
		delete(c.positions, symbol)
	}
	return nil
}

func (c *PaperClient) ClosePosition(ctx context.Context, symbol string) (types.OrderResult, error) {
	c.mu.Lock()
	pos, ok := c.positions[symbol]
	var contracts int64
	var side types.Side
	if ok {
		contracts = abs64(pos.size)
		side = types.Long
		if pos.size > 0 {
			side = types.Short
		}
	}
	c.mu.Unlock()
	if !ok {
		return types.OrderResult{}, types.Desync(symbol, "close requested with no paper position")
	}
	return c.PlaceOrder(ctx, types.Order{
		Symbol:     symbol,
		Side:       side,
		Contracts:  contracts,
		ReduceOnly: true,
	})
}

func (c *PaperClient) SetLeverage(_ context.Context, symbol string, leverage float64) error {
	if leverage <= 0 {
		return fmt.Errorf("paper: leverage must be positive, got %g", leverage)
	}
	c.mu.Lock()
	c.leverage[symbol] = leverage
	c.mu.Unlock()
	return nil
}

func (c *PaperClient) fillPrice(ctx context.Context, symbol string) (float64, error) {
	c.mu.Lock()
	px, ok := c.lastPrice[symbol]
	c.mu.Unlock()
	if ok && px > 0 {
		return px, nil
	}
	return c.GetPrice(ctx, symbol)
}

func (c *PaperClient) ackLocked(px float64) types.OrderResult {
	c.orderSeq++
	return types.OrderResult{
		ID:        "paper-" + strconv.FormatInt(c.orderSeq, 10),
		FillPrice: px,
		Status:    "finished",
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
