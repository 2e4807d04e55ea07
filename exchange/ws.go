package exchange

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/evdnx/gogrid/logger"
	"github.com/evdnx/gogrid/types"
)

const (
	mainnetWSURL = "wss://fx-ws.gateio.ws/v4/ws/" + settle
	testnetWSURL = "wss://fx-ws-testnet.gateapi.io/v4/ws/" + settle

	tickerMaxAge  = 15 * time.Second
	wsPingEvery   = 10 * time.Second
	wsDialTimeout = 10 * time.Second
)

// TickerStream keeps a last-price cache fed by the futures.tickers channel.
// Price answers only while the cached sample is fresh, so a wedged socket
// degrades to REST instead of serving stale marks. The stream reconnects
// forever with capped backoff until its context ends.
type TickerStream struct {
	url     string
	symbols []string
	log     logger.Logger

	mu     sync.RWMutex
	prices map[string]types.PriceSample

	now func() time.Time
}

func NewTickerStream(testnet bool, symbols []string, log logger.Logger) *TickerStream {
	u := mainnetWSURL
	if testnet {
		u = testnetWSURL
	}
	return &TickerStream{
		url:     u,
		symbols: symbols,
		log:     log,
		prices:  make(map[string]types.PriceSample),
		now:     time.Now,
	}
}

// Price returns the cached last price if a sample newer than the staleness
// bound exists.
func (s *TickerStream) Price(symbol string) (float64, bool) {
	s.mu.RLock()
	sample, ok := s.prices[symbol]
	s.mu.RUnlock()
	if !ok || s.now().Sub(sample.Time) > tickerMaxAge {
		return 0, false
	}
	return sample.Last, true
}

func (s *TickerStream) store(symbol string, last float64, at time.Time) {
	s.mu.Lock()
	s.prices[symbol] = types.PriceSample{Time: at, Last: last}
	s.mu.Unlock()
}

// Run dials, subscribes and pumps updates until ctx is done. Each drop
// backs off 1s, 2s, 4s... capped at a minute, then redials.
func (s *TickerStream) Run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoffDelay(attempt)):
			}
		}
		attempt++

		if err := s.session(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("ticker_stream_dropped", logger.Err(err))
			continue
		}
		// clean shutdown
		if ctx.Err() != nil {
			return
		}
		attempt = 0
	}
}

type wsRequest struct {
	Time    int64    `json:"time"`
	Channel string   `json:"channel"`
	Event   string   `json:"event,omitempty"`
	Payload []string `json:"payload,omitempty"`
}

type wsMessage struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Result  json.RawMessage `json:"result"`
}

type wsTicker struct {
	Contract string          `json:"contract"`
	Last     decimal.Decimal `json:"last"`
}

func (s *TickerStream) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: wsDialTimeout}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := wsRequest{
		Time:    s.now().Unix(),
		Channel: "futures.tickers",
		Event:   "subscribe",
		Payload: s.symbols,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}
	s.log.Info("ticker_stream_connected", logger.Int("symbols", len(s.symbols)))

	// closing the connection on ctx cancel unblocks the read loop
	done := make(chan struct{})
	defer close(done)
	go func() {
		ping := time.NewTicker(wsPingEvery)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			case <-ping.C:
				_ = conn.WriteJSON(wsRequest{Time: s.now().Unix(), Channel: "futures.ping"})
			}
		}
	}()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.Channel != "futures.tickers" || msg.Event != "update" {
			continue
		}
		s.apply(msg.Result)
	}
}

// apply decodes a tickers update; the result arrives as an array in the
// current protocol but older frames carried a single object.
func (s *TickerStream) apply(result json.RawMessage) {
	at := s.now()
	var many []wsTicker
	if err := json.Unmarshal(result, &many); err == nil {
		for _, t := range many {
			s.store(t.Contract, t.Last.InexactFloat64(), at)
		}
		return
	}
	var one wsTicker
	if err := json.Unmarshal(result, &one); err == nil && one.Contract != "" {
		s.store(one.Contract, one.Last.InexactFloat64(), at)
	}
}

// StreamingClient overlays a websocket price cache on a Client: GetPrice
// serves from the cache while fresh and falls back to the wrapped client,
// everything else passes through.
type StreamingClient struct {
	Client
	stream *TickerStream
}

func NewStreamingClient(inner Client, stream *TickerStream) *StreamingClient {
	return &StreamingClient{Client: inner, stream: stream}
}

func (c *StreamingClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if px, ok := c.stream.Price(symbol); ok {
		return px, nil
	}
	return c.Client.GetPrice(ctx, symbol)
}
