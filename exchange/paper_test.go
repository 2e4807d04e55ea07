package exchange

import (
	"context"
	"math"
	"testing"

	"github.com/evdnx/gogrid/logger"
	"github.com/evdnx/gogrid/types"
)

type dataStub struct {
	price float64
	err   error
}

func (d *dataStub) GetPrice(context.Context, string) (float64, error) { return d.price, d.err }
func (d *dataStub) GetCandles(context.Context, string, string, int) ([]types.Candle, error) {
	return nil, nil
}

func newPaper(t *testing.T, price float64) (*PaperClient, *dataStub) {
	t.Helper()
	data := &dataStub{price: price}
	c := NewPaperClient(data, 1000, map[string]float64{"BTC_USDT": 0.0001}, logger.NewNop())
	return c, data
}

func TestPaperOpenCommitsMargin(t *testing.T) {
	ctx := context.Background()
	c, _ := newPaper(t, 50000)

	if err := c.SetLeverage(ctx, "BTC_USDT", 7); err != nil {
		t.Fatalf("SetLeverage: %v", err)
	}
	if _, err := c.GetPrice(ctx, "BTC_USDT"); err != nil {
		t.Fatalf("GetPrice: %v", err)
	}

	res, err := c.PlaceOrder(ctx, types.Order{Symbol: "BTC_USDT", Side: types.Long, Contracts: 700})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if res.FillPrice != 50000 {
		t.Fatalf("expected fill at 50000, got %v", res.FillPrice)
	}

	bal, err := c.GetBalance(ctx)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	// 700 contracts * 0.0001 * 50000 / 7 = 500 margin committed
	if math.Abs(bal.Available-500) > 1e-6 || math.Abs(bal.PositionMargin-500) > 1e-6 {
		t.Fatalf("unexpected balance %+v", bal)
	}

	pos, err := c.GetPosition(ctx, "BTC_USDT")
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if pos == nil || pos.Size != 700 || pos.EntryPrice != 50000 {
		t.Fatalf("unexpected position %+v", pos)
	}
	if math.Abs(pos.Margin-500) > 1e-6 || pos.Leverage != 7 {
		t.Fatalf("unexpected margin/leverage %v/%v", pos.Margin, pos.Leverage)
	}
}

func TestPaperCloseRealisesProfit(t *testing.T) {
	ctx := context.Background()
	c, data := newPaper(t, 50000)
	c.SetLeverage(ctx, "BTC_USDT", 7)
	c.GetPrice(ctx, "BTC_USDT")
	if _, err := c.PlaceOrder(ctx, types.Order{Symbol: "BTC_USDT", Side: types.Long, Contracts: 700}); err != nil {
		t.Fatalf("open: %v", err)
	}

	// +2% move: (51000-50000) * 700 * 0.0001 = 70 USDT
	data.price = 51000
	c.GetPrice(ctx, "BTC_USDT")

	pos, _ := c.GetPosition(ctx, "BTC_USDT")
	if math.Abs(pos.UnrealisedPnL-70) > 1e-6 {
		t.Fatalf("expected unrealised 70, got %v", pos.UnrealisedPnL)
	}

	if _, err := c.ClosePosition(ctx, "BTC_USDT"); err != nil {
		t.Fatalf("close: %v", err)
	}
	bal, _ := c.GetBalance(ctx)
	if math.Abs(bal.Available-1070) > 1e-6 {
		t.Fatalf("expected 1070 after banking the move, got %v", bal.Available)
	}
	if pos, _ := c.GetPosition(ctx, "BTC_USDT"); pos != nil {
		t.Fatalf("position still present after close: %+v", pos)
	}
}

func TestPaperShortGainsOnDrop(t *testing.T) {
	ctx := context.Background()
	c, data := newPaper(t, 50000)
	c.SetLeverage(ctx, "BTC_USDT", 7)
	c.GetPrice(ctx, "BTC_USDT")
	if _, err := c.PlaceOrder(ctx, types.Order{Symbol: "BTC_USDT", Side: types.Short, Contracts: 700}); err != nil {
		t.Fatalf("open short: %v", err)
	}

	data.price = 49000
	c.GetPrice(ctx, "BTC_USDT")

	pos, _ := c.GetPosition(ctx, "BTC_USDT")
	if pos == nil || pos.Size != -700 {
		t.Fatalf("unexpected short position %+v", pos)
	}
	if math.Abs(pos.UnrealisedPnL-70) > 1e-6 {
		t.Fatalf("expected +70 on the drop, got %v", pos.UnrealisedPnL)
	}
}

func TestPaperPartialReduce(t *testing.T) {
	ctx := context.Background()
	c, data := newPaper(t, 50000)
	c.GetPrice(ctx, "BTC_USDT") // leverage defaults to 1

	if _, err := c.PlaceOrder(ctx, types.Order{Symbol: "BTC_USDT", Side: types.Long, Contracts: 10}); err != nil {
		t.Fatalf("open: %v", err)
	}
	data.price = 51000
	c.GetPrice(ctx, "BTC_USDT")

	if _, err := c.PlaceOrder(ctx, types.Order{Symbol: "BTC_USDT", Side: types.Short, Contracts: 4, ReduceOnly: true}); err != nil {
		t.Fatalf("reduce: %v", err)
	}

	pos, _ := c.GetPosition(ctx, "BTC_USDT")
	if pos == nil || pos.Size != 6 {
		t.Fatalf("expected 6 contracts left, got %+v", pos)
	}
	// released 40% of the 50 margin plus 0.4 realised pnl
	bal, _ := c.GetBalance(ctx)
	if math.Abs(bal.Available-970.4) > 1e-6 {
		t.Fatalf("expected 970.4 available, got %v", bal.Available)
	}
	if math.Abs(pos.Margin-30) > 1e-6 {
		t.Fatalf("expected 30 margin left, got %v", pos.Margin)
	}
}

func TestPaperRejectsInsufficientMargin(t *testing.T) {
	ctx := context.Background()
	c, _ := newPaper(t, 50000)
	c.GetPrice(ctx, "BTC_USDT")

	// at 1x leverage 2000 contracts need 10000 margin against 1000
	_, err := c.PlaceOrder(ctx, types.Order{Symbol: "BTC_USDT", Side: types.Long, Contracts: 2000})
	if err == nil {
		t.Fatal("expected rejection")
	}
	if !types.IsOrderError(err) {
		t.Fatalf("expected OrderError, got %v", err)
	}

	// nothing was committed
	bal, _ := c.GetBalance(ctx)
	if bal.Available != 1000 {
		t.Fatalf("balance changed on rejected order: %v", bal.Available)
	}
}

func TestPaperRejectsReduceWithoutPosition(t *testing.T) {
	ctx := context.Background()
	c, _ := newPaper(t, 50000)
	c.GetPrice(ctx, "BTC_USDT")

	_, err := c.PlaceOrder(ctx, types.Order{Symbol: "BTC_USDT", Side: types.Short, Contracts: 1, ReduceOnly: true})
	if !types.IsOrderError(err) {
		t.Fatalf("expected OrderError, got %v", err)
	}
}

func TestPaperRejectsOppositeSide(t *testing.T) {
	ctx := context.Background()
	c, _ := newPaper(t, 50000)
	c.GetPrice(ctx, "BTC_USDT")
	if _, err := c.PlaceOrder(ctx, types.Order{Symbol: "BTC_USDT", Side: types.Long, Contracts: 5}); err != nil {
		t.Fatalf("open: %v", err)
	}

	_, err := c.PlaceOrder(ctx, types.Order{Symbol: "BTC_USDT", Side: types.Short, Contracts: 5})
	if !types.IsOrderError(err) {
		t.Fatalf("expected OrderError for opposite side, got %v", err)
	}
}

func TestPaperCloseWithoutPositionIsDesync(t *testing.T) {
	ctx := context.Background()
	c, _ := newPaper(t, 50000)

	_, err := c.ClosePosition(ctx, "BTC_USDT")
	if !types.IsDesync(err) {
		t.Fatalf("expected StateDesyncError, got %v", err)
	}
}

func TestPaperUnknownContractRejected(t *testing.T) {
	ctx := context.Background()
	c, _ := newPaper(t, 50000)
	c.GetPrice(ctx, "DOGE_USDT")

	_, err := c.PlaceOrder(ctx, types.Order{Symbol: "DOGE_USDT", Side: types.Long, Contracts: 1})
	if !types.IsOrderError(err) {
		t.Fatalf("expected OrderError for unknown contract, got %v", err)
	}
}
