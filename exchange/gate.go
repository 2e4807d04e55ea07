package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/evdnx/gogrid/logger"
	"github.com/evdnx/gogrid/types"
)

const (
	mainnetHost = "https://api.gateio.ws"
	testnetHost = "https://api-testnet.gateapi.io"
	apiPrefix   = "/api/v4"
	settle      = "usdt"

	maxGetAttempts = 5
	baseBackoff    = time.Second
	maxBackoff     = 60 * time.Second
)

// GateClient talks to Gate.io USDT-settled futures over the v4 REST API.
// Idempotent reads retry in-call with capped exponential backoff; mutations
// are sent exactly once and their outcome reported as-is.
type GateClient struct {
	host    string
	key     string
	secret  string
	http    *http.Client
	log     logger.Logger
	now     func() time.Time
	backoff func(attempt int) time.Duration
}

func NewGateClient(key, secret string, testnet bool, log logger.Logger) *GateClient {
	host := mainnetHost
	if testnet {
		host = testnetHost
	}
	return &GateClient{
		host:    host,
		key:     key,
		secret:  secret,
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     log,
		now:     time.Now,
		backoff: backoffDelay,
	}
}

// apiError is a non-2xx response that is neither a server fault nor a rate
// limit. Order endpoints translate it into an OrderError.
type apiError struct {
	Op     string
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Op, e.Status, e.Body)
}

// sign produces the APIv4 signature: HMAC-SHA512 over
// method\npath\nquery\nSHA512(body)\ntimestamp, hex encoded.
func (c *GateClient) sign(method, path, query, body, ts string) string {
	payload := sha512.Sum512([]byte(body))
	msg := method + "\n" + path + "\n" + query + "\n" + hex.EncodeToString(payload[:]) + "\n" + ts
	mac := hmac.New(sha512.New, []byte(c.secret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

func backoffDelay(attempt int) time.Duration {
	d := baseBackoff << (attempt - 1)
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// do runs one API call. With retry set, transient failures are retried with
// capped exponential backoff until the attempts run out; anything else
// returns immediately.
func (c *GateClient) do(ctx context.Context, op, method, path string, query url.Values, body, out any, retry bool) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
	}

	attempts := 1
	if retry {
		attempts = maxGetAttempts
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return types.Transient(op, ctx.Err())
			case <-time.After(c.backoff(attempt)):
			}
			c.log.Warn("gate_retry", logger.String("op", op), logger.Int("attempt", attempt+1), logger.Err(lastErr))
		}
		err := c.once(ctx, op, method, path, query, payload, out)
		if err == nil {
			return nil
		}
		if !types.IsTransient(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (c *GateClient) once(ctx context.Context, op, method, path string, query url.Values, payload []byte, out any) error {
	q := ""
	if len(query) > 0 {
		q = query.Encode()
	}
	u := c.host + apiPrefix + path
	if q != "" {
		u += "?" + q
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	ts := strconv.FormatInt(c.now().Unix(), 10)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("KEY", c.key)
	req.Header.Set("Timestamp", ts)
	req.Header.Set("SIGN", c.sign(method, apiPrefix+path, q, string(payload), ts))

	resp, err := c.http.Do(req)
	if err != nil {
		return types.Transient(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return types.Transient(op, err)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return types.Transient(op, &apiError{Op: op, Status: resp.StatusCode, Body: truncateBody(data)})
	}
	if resp.StatusCode >= 300 {
		return &apiError{Op: op, Status: resp.StatusCode, Body: truncateBody(data)}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
	}
	return nil
}

func truncateBody(b []byte) string {
	const max = 256
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}

// Wire shapes. Gate encodes most numbers as decimal strings; shopspring
// handles both string and bare-number forms.

type gateAccount struct {
	Total          decimal.Decimal `json:"total"`
	Available      decimal.Decimal `json:"available"`
	PositionMargin decimal.Decimal `json:"position_margin"`
	OrderMargin    decimal.Decimal `json:"order_margin"`
}

type gateTicker struct {
	Contract string          `json:"contract"`
	Last     decimal.Decimal `json:"last"`
}

type gatePosition struct {
	Contract      string          `json:"contract"`
	Size          int64           `json:"size"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	Leverage      decimal.Decimal `json:"leverage"`
	Margin        decimal.Decimal `json:"margin"`
	UnrealisedPnL decimal.Decimal `json:"unrealised_pnl"`
}

type gateCandle struct {
	T int64           `json:"t"`
	V int64           `json:"v"`
	O decimal.Decimal `json:"o"`
	H decimal.Decimal `json:"h"`
	L decimal.Decimal `json:"l"`
	C decimal.Decimal `json:"c"`
}

type gateOrderRequest struct {
	Contract   string `json:"contract"`
	Size       int64  `json:"size"`
	Price      string `json:"price"`
	TIF        string `json:"tif"`
	Text       string `json:"text,omitempty"`
	ReduceOnly bool   `json:"reduce_only,omitempty"`
}

type gateOrderResponse struct {
	ID        int64           `json:"id"`
	Status    string          `json:"status"`
	FillPrice decimal.Decimal `json:"fill_price"`
}

func (p gatePosition) toExchangePosition() types.ExchangePosition {
	return types.ExchangePosition{
		Symbol:        p.Contract,
		Size:          p.Size,
		EntryPrice:    p.EntryPrice.InexactFloat64(),
		Leverage:      p.Leverage.InexactFloat64(),
		Margin:        p.Margin.InexactFloat64(),
		UnrealisedPnL: p.UnrealisedPnL.InexactFloat64(),
	}
}

func (c *GateClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	q := url.Values{"contract": {symbol}}
	var tickers []gateTicker
	if err := c.do(ctx, "get_price", http.MethodGet, "/futures/"+settle+"/tickers", q, nil, &tickers, true); err != nil {
		return 0, err
	}
	if len(tickers) == 0 {
		return 0, fmt.Errorf("get_price: no ticker for %s", symbol)
	}
	return tickers[0].Last.InexactFloat64(), nil
}

func (c *GateClient) GetBalance(ctx context.Context) (types.Balance, error) {
	var acct gateAccount
	if err := c.do(ctx, "get_balance", http.MethodGet, "/futures/"+settle+"/accounts", nil, nil, &acct, true); err != nil {
		return types.Balance{}, err
	}
	return types.Balance{
		Total:          acct.Total.InexactFloat64(),
		Available:      acct.Available.InexactFloat64(),
		PositionMargin: acct.PositionMargin.InexactFloat64(),
		OrderMargin:    acct.OrderMargin.InexactFloat64(),
	}, nil
}

func (c *GateClient) GetPositions(ctx context.Context) ([]types.ExchangePosition, error) {
	var raw []gatePosition
	if err := c.do(ctx, "get_positions", http.MethodGet, "/futures/"+settle+"/positions", nil, nil, &raw, true); err != nil {
		return nil, err
	}
	out := make([]types.ExchangePosition, 0, len(raw))
	for _, p := range raw {
		if p.Size == 0 {
			continue
		}
		out = append(out, p.toExchangePosition())
	}
	return out, nil
}

func (c *GateClient) GetPosition(ctx context.Context, symbol string) (*types.ExchangePosition, error) {
	positions, err := c.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		if p.Symbol == symbol {
			pos := p
			return &pos, nil
		}
	}
	return nil, nil
}

func (c *GateClient) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error) {
	q := url.Values{
		"contract": {symbol},
		"interval": {interval},
		"limit":    {strconv.Itoa(limit)},
	}
	var raw []gateCandle
	if err := c.do(ctx, "get_candles", http.MethodGet, "/futures/"+settle+"/candlesticks", q, nil, &raw, true); err != nil {
		return nil, err
	}
	out := make([]types.Candle, 0, len(raw))
	for _, k := range raw {
		out = append(out, types.Candle{
			Time:   time.Unix(k.T, 0).UTC(),
			Open:   k.O.InexactFloat64(),
			High:   k.H.InexactFloat64(),
			Low:    k.L.InexactFloat64(),
			Close:  k.C.InexactFloat64(),
			Volume: float64(k.V),
		})
	}
	return out, nil
}

// PlaceOrder submits a futures order. Size goes on the wire signed by side;
// a zero price means market execution via IOC at price "0". Client ids use
// the required "t-" prefix.
func (c *GateClient) PlaceOrder(ctx context.Context, order types.Order) (types.OrderResult, error) {
	size := order.Contracts
	if order.Side == types.Short {
		size = -size
	}
	req := gateOrderRequest{
		Contract:   order.Symbol,
		Size:       size,
		Price:      "0",
		TIF:        "ioc",
		ReduceOnly: order.ReduceOnly,
	}
	if order.Price > 0 {
		req.Price = strconv.FormatFloat(order.Price, 'f', -1, 64)
		req.TIF = "gtc"
	}
	if order.ClientID != "" {
		req.Text = "t-" + order.ClientID
	} else {
		req.Text = "t-" + uuid.NewString()
	}

	var resp gateOrderResponse
	err := c.do(ctx, "place_order", http.MethodPost, "/futures/"+settle+"/orders", nil, req, &resp, false)
	if err != nil {
		var ae *apiError
		if errors.As(err, &ae) && ae.Status >= 400 && ae.Status < 500 {
			return types.OrderResult{}, types.Rejected("place_order", err)
		}
		return types.OrderResult{}, err
	}
	return types.OrderResult{
		ID:        strconv.FormatInt(resp.ID, 10),
		FillPrice: resp.FillPrice.InexactFloat64(),
		Status:    resp.Status,
	}, nil
}

// ClosePosition flattens the symbol with a reduce-only market order on the
// opposite side, sized from the exchange's own view of the position.
func (c *GateClient) ClosePosition(ctx context.Context, symbol string) (types.OrderResult, error) {
	pos, err := c.GetPosition(ctx, symbol)
	if err != nil {
		return types.OrderResult{}, err
	}
	if pos == nil || pos.Size == 0 {
		return types.OrderResult{}, types.Desync(symbol, "close requested with no exchange position")
	}
	return c.PlaceOrder(ctx, types.Order{
		Symbol:     symbol,
		Side:       pos.Side().Opposite(),
		Contracts:  pos.Contracts(),
		ReduceOnly: true,
	})
}

func (c *GateClient) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	q := url.Values{"leverage": {strconv.FormatFloat(leverage, 'f', -1, 64)}}
	path := "/futures/" + settle + "/positions/" + symbol + "/leverage"
	return c.do(ctx, "set_leverage", http.MethodPost, path, q, nil, nil, false)
}
