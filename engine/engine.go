// Package engine drives the trading loop. Each cycle it refreshes market
// data, reconciles local positions against the exchange, closes what hit an
// exit bound, and only then lets strategies open anything new.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/evdnx/gogrid/config"
	"github.com/evdnx/gogrid/exchange"
	"github.com/evdnx/gogrid/indicator"
	"github.com/evdnx/gogrid/logger"
	"github.com/evdnx/gogrid/metrics"
	"github.com/evdnx/gogrid/position"
	"github.com/evdnx/gogrid/risk"
	"github.com/evdnx/gogrid/strategy"
	"github.com/evdnx/gogrid/tradelog"
	"github.com/evdnx/gogrid/types"
)

// symbolState is the per-contract slice of the engine: its configuration,
// its strategy instance, and its rolling candle window.
type symbolState struct {
	cfg   config.SymbolConfig
	strat strategy.Strategy
	ind   *indicator.Engine
}

// Engine owns one client, one position manager, and one strategy per
// symbol. It is single-threaded: everything happens inside Run's loop, so
// none of the state it touches needs locking.
type Engine struct {
	cfg     *config.Config
	client  exchange.Client
	log     logger.Logger
	trades  *tradelog.Writer
	mgr     *position.Manager
	symbols []*symbolState
	cycles  int64

	now func() time.Time
}

func New(cfg *config.Config, client exchange.Client, trades *tradelog.Writer, log logger.Logger) (*Engine, error) {
	e := &Engine{
		cfg:    cfg,
		client: client,
		log:    log,
		trades: trades,
		mgr:    position.NewManager(log),
		now:    time.Now,
	}
	for _, sc := range cfg.Symbols {
		st, err := strategy.New(sc, log)
		if err != nil {
			return nil, err
		}
		e.symbols = append(e.symbols, &symbolState{
			cfg:   sc,
			strat: st,
			ind:   indicator.NewEngine(cfg.CandleLimit),
		})
	}
	return e, nil
}

// Run applies leverage, verifies the account, adopts whatever is already
// open, then cycles until ctx is cancelled. Cancellation is only observed
// between cycles; a cycle that has started always completes.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.startup(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(e.cfg.PollInterval())
	defer ticker.Stop()
	for {
		if err := e.runCycle(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			e.log.Info("engine_stopped", logger.Int("open_positions", e.mgr.Count()))
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Engine) startup(ctx context.Context) error {
	for _, s := range e.symbols {
		if err := e.client.SetLeverage(ctx, s.cfg.Symbol, s.cfg.Leverage); err != nil {
			return fmt.Errorf("engine: set leverage %s: %w", s.cfg.Symbol, err)
		}
	}
	bal, err := e.client.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("engine: read balance: %w", err)
	}
	if bal.Available <= 0 {
		return fmt.Errorf("engine: account has no available balance (total %.4f)", bal.Total)
	}
	metrics.AvailableBalance.Set(bal.Available)
	e.log.Info("engine_started",
		logger.String("mode", e.cfg.Mode),
		logger.Int("symbols", len(e.symbols)),
		logger.Float64("available", bal.Available),
	)

	// Positions left over from a previous run are adopted before the first
	// decision so the capital math starts from reality.
	for _, s := range e.symbols {
		exch, err := e.client.GetPosition(ctx, s.cfg.Symbol)
		if err != nil {
			return fmt.Errorf("engine: initial reconcile %s: %w", s.cfg.Symbol, err)
		}
		if err := e.mgr.Reconcile(s.cfg.Symbol, exch, s.cfg, e.now()); err != nil {
			return fmt.Errorf("engine: initial reconcile %s: %w", s.cfg.Symbol, err)
		}
	}
	metrics.PositionsOpen.Set(float64(e.mgr.Count()))
	return nil
}

// runCycle walks the symbols in configured order. Per-symbol failures skip
// that symbol; only capital invariant violations abort the run.
func (e *Engine) runCycle(ctx context.Context) error {
	start := e.now()
	e.cycles++
	for _, s := range e.symbols {
		if err := e.step(ctx, s); err != nil {
			return err
		}
	}
	metrics.Cycles.Inc()
	metrics.PositionsOpen.Set(float64(e.mgr.Count()))
	if bal, err := e.client.GetBalance(ctx); err == nil {
		metrics.AvailableBalance.Set(bal.Available)
	}
	elapsed := e.now().Sub(start)
	metrics.CycleSeconds.Set(elapsed.Seconds())
	e.log.Info("cycle_complete",
		logger.Int64("cycle", e.cycles),
		logger.Duration("elapsed", elapsed),
		logger.Int("open_positions", e.mgr.Count()),
	)
	return nil
}

func (e *Engine) step(ctx context.Context, s *symbolState) error {
	sym := s.cfg.Symbol

	price, err := e.client.GetPrice(ctx, sym)
	if err != nil {
		return e.skipSymbol(sym, "price", err)
	}
	bars, err := e.client.GetCandles(ctx, sym, e.cfg.CandleInterval, e.cfg.CandleLimit)
	if err != nil {
		return e.skipSymbol(sym, "candles", err)
	}
	s.ind.Replace(bars)
	now := e.now()

	exch, err := e.client.GetPosition(ctx, sym)
	if err != nil {
		return e.skipSymbol(sym, "position", err)
	}
	err = e.mgr.Reconcile(sym, exch, s.cfg, now)
	if err != nil && !types.IsDesync(err) {
		return err
	}
	if types.IsDesync(err) {
		e.log.Warn("entries_suspended", logger.String("symbol", sym), logger.Err(err))
	}
	metrics.EntriesSuspended.WithLabelValues(sym).Set(boolToGauge(e.mgr.Suspended(sym)))

	// A position in the book always takes priority over new entries.
	if pos, ok := e.mgr.Get(sym); ok {
		return e.manage(ctx, s, pos, exch, price, now)
	}
	if e.mgr.Suspended(sym) {
		return nil
	}
	return e.tryEnter(ctx, s, price, now)
}

// manage runs the exit bounds for one open position and closes it when one
// trips. The entry path is never reached in the same cycle.
func (e *Engine) manage(ctx context.Context, s *symbolState, pos *position.Position, exch *types.ExchangePosition, price float64, now time.Time) error {
	sym := s.cfg.Symbol
	pnlPct := position.PnLPct(exch.UnrealisedPnL, pos.Margin)
	pos.Update(pnlPct)
	exit, ok := pos.ShouldClose(pnlPct)
	if !ok {
		e.log.Info("position_status",
			logger.String("symbol", sym),
			logger.String("side", string(pos.Side)),
			logger.Float64("price", price),
			logger.Float64("pnl_pct", pnlPct),
			logger.Float64("take_profit_pct", pos.EffectiveTP()),
			logger.Float64("loss_bound_pct", pos.LossBound),
		)
		return nil
	}

	pos.State = position.StateExiting
	res, err := e.client.ClosePosition(ctx, sym)
	if err != nil {
		pos.State = position.StateOpen
		metrics.OrderErrors.WithLabelValues(sym, errorKind(err)).Inc()
		e.log.Error("close_failed",
			logger.String("symbol", sym),
			logger.String("reason", exit.Reason),
			logger.Err(err),
		)
		// The position stays tracked; reconcile or the next cycle's exit
		// check picks it up again.
		return nil
	}

	exitPrice := res.FillPrice
	if exitPrice <= 0 {
		exitPrice = price
	}
	e.mgr.Drop(sym)
	s.strat.RecordResult(pos.GridLevel, pnlPct > 0, now)

	priceMove := 0.0
	if pos.Leverage > 0 {
		priceMove = pnlPct / pos.Leverage
	}
	e.trades.Exit(tradelog.ExitRecord{
		Symbol:       sym,
		Side:         string(pos.Side),
		Reason:       exit.Reason,
		EntryPrice:   pos.EntryPrice,
		ExitPrice:    exitPrice,
		Contracts:    pos.Contracts,
		PnLUSDT:      exch.UnrealisedPnL,
		PnLPct:       pnlPct,
		PriceMovePct: priceMove,
		HoldingSecs:  now.Sub(pos.OpenedAt).Seconds(),
	})
	e.log.Info("position_closed",
		logger.String("symbol", sym),
		logger.String("side", string(pos.Side)),
		logger.String("reason", exit.Reason),
		logger.Float64("pnl_pct", pnlPct),
		logger.Float64("pnl_usdt", exch.UnrealisedPnL),
		logger.Float64("exit_price", exitPrice),
	)
	return nil
}

// tryEnter asks the strategy for a signal and executes it against a fresh
// capital snapshot. Earlier entries in the same cycle have already reduced
// the available balance the snapshot reports.
func (e *Engine) tryEnter(ctx context.Context, s *symbolState, price float64, now time.Time) error {
	sym := s.cfg.Symbol
	sig, err := s.strat.Analyze(strategy.Context{
		Symbol: sym,
		Price:  price,
		Now:    now,
		Ind:    s.ind,
	})
	if err != nil {
		e.log.Warn("analyze_failed", logger.String("symbol", sym), logger.Err(err))
		return nil
	}
	metrics.Signals.WithLabelValues(sym, string(sig.Kind)).Inc()

	switch {
	case sig.Kind == types.SignalRebalance:
		e.trades.Rebalance(tradelog.RebalanceRecord{Symbol: sym, Anchor: price, Reason: sig.Reason})
		return nil
	case !sig.Actionable():
		return nil
	}

	bal, err := e.client.GetBalance(ctx)
	if err != nil {
		return e.skipSymbol(sym, "balance", err)
	}
	snap := types.CapitalSnapshot{
		Total:         bal.Total,
		Available:     bal.Available,
		OpenPositions: e.mgr.Count(),
	}
	alloc, err := risk.Plan(snap, s.cfg, price, e.cfg.MaxOpenPositions)
	if err != nil {
		return fmt.Errorf("engine: %s allocation: %w", sym, err)
	}
	if alloc.Skipped() {
		e.log.Info("entry_skipped",
			logger.String("symbol", sym),
			logger.String("reason", alloc.Reason),
			logger.Float64("available", snap.Available),
			logger.Int("open_positions", snap.OpenPositions),
		)
		e.trades.Skip(tradelog.SkipRecord{Symbol: sym, Side: string(sig.Side), Reason: alloc.Reason})
		return nil
	}

	res, err := e.client.PlaceOrder(ctx, types.Order{
		Symbol:    sym,
		Side:      sig.Side,
		Contracts: alloc.Contracts,
		Comment:   sig.Reason,
	})
	if err != nil {
		metrics.OrderErrors.WithLabelValues(sym, errorKind(err)).Inc()
		e.log.Error("order_failed",
			logger.String("symbol", sym),
			logger.String("side", string(sig.Side)),
			logger.Int64("contracts", alloc.Contracts),
			logger.Err(err),
		)
		// Dropped, not retried. If the setup still holds next cycle the
		// strategy re-derives the same signal.
		return nil
	}

	fill := res.FillPrice
	if fill <= 0 {
		fill = price
	}
	pos := position.NewFromFill(sig, alloc, fill, s.cfg, now)
	e.mgr.Track(pos)
	s.strat.RecordEntry(sig.GridLevel, now)
	metrics.OrdersSubmitted.WithLabelValues(sym).Inc()

	e.trades.Entry(tradelog.EntryRecord{
		Symbol:        sym,
		Side:          string(sig.Side),
		Strategy:      s.strat.Name(),
		Regime:        sig.Regime,
		GridLevel:     sig.GridLevel,
		Price:         fill,
		Contracts:     alloc.Contracts,
		Margin:        alloc.Margin,
		Leverage:      s.cfg.Leverage,
		TakeProfitPct: pos.BaseTP,
		StopLossPct:   -pos.LossBound,
		Reason:        sig.Reason,
	})
	e.log.Info("position_opened",
		logger.String("symbol", sym),
		logger.String("side", string(sig.Side)),
		logger.String("strategy", s.strat.Name()),
		logger.Int("grid_level", sig.GridLevel),
		logger.Int64("contracts", alloc.Contracts),
		logger.Float64("fill_price", fill),
		logger.Float64("margin", alloc.Margin),
	)
	return nil
}

// skipSymbol swallows transient errors so one flaky symbol cannot stall the
// rest of the cycle. Anything else is a real fault and stops the engine.
func (e *Engine) skipSymbol(sym, op string, err error) error {
	if types.IsTransient(err) {
		e.log.Warn("symbol_skipped",
			logger.String("symbol", sym),
			logger.String("op", op),
			logger.Err(err),
		)
		return nil
	}
	return fmt.Errorf("engine: %s %s: %w", sym, op, err)
}

func errorKind(err error) string {
	switch {
	case types.IsTransient(err):
		return "transient"
	case types.IsOrderError(err):
		return "rejected"
	case types.IsDesync(err):
		return "desync"
	default:
		return "other"
	}
}

func boolToGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
