// Package exchange provides the execution boundary: a Client interface the
// engine trades through, its Gate.io USDT-futures implementation, a paper
// variant that settles in memory against live market data, and an optional
// websocket last-price cache.
package exchange

import (
	"context"

	"github.com/evdnx/gogrid/types"
)

// Client is everything the engine needs from a futures venue. All calls are
// context-bound; implementations map failures onto the shared error
// taxonomy so the engine can route them without knowing the transport.
type Client interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetBalance(ctx context.Context) (types.Balance, error)
	GetPositions(ctx context.Context) ([]types.ExchangePosition, error)
	GetPosition(ctx context.Context, symbol string) (*types.ExchangePosition, error)
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error)
	PlaceOrder(ctx context.Context, order types.Order) (types.OrderResult, error)
	ClosePosition(ctx context.Context, symbol string) (types.OrderResult, error)
	SetLeverage(ctx context.Context, symbol string, leverage float64) error
}

// MarketData is the read-only slice of Client that PaperClient forwards to
// for prices and candles.
type MarketData interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error)
}

var (
	_ Client = (*GateClient)(nil)
	_ Client = (*PaperClient)(nil)
	_ Client = (*StreamingClient)(nil)
)
