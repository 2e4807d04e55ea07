package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evdnx/gogrid/config"
	"github.com/evdnx/gogrid/engine"
	"github.com/evdnx/gogrid/exchange"
	"github.com/evdnx/gogrid/logger"
	"github.com/evdnx/gogrid/tradelog"
)

func main() {
	_ = godotenv.Load()

	cfgPath := flag.String("config", "config.yaml", "path to the YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logger.NewZapLogger(cfg.LogFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := buildClient(ctx, cfg, log)

	trades, err := tradelog.NewWriter(cfg.TradeLogDir, log)
	if err != nil {
		log.Error("trade_log_init_failed", logger.Err(err))
		os.Exit(1)
	}
	eng, err := engine.New(cfg, client, trades, log)
	if err != nil {
		log.Error("engine_init_failed", logger.Err(err))
		os.Exit(1)
	}

	srv := serveMetrics(cfg.MetricsAddr, log)

	err = eng.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	logSessionSummary(trades, log)

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("engine_failed", logger.Err(err))
		os.Exit(1)
	}
}

// buildClient wires the execution backend for the configured mode. Paper
// mode still reads real market data through the Gate client; only the
// account is simulated.
func buildClient(ctx context.Context, cfg *config.Config, log logger.Logger) exchange.Client {
	gate := exchange.NewGateClient(cfg.APIKey, cfg.APISecret, cfg.Testnet, log)

	var client exchange.Client = gate
	if cfg.Mode == config.ModePaper {
		multipliers := make(map[string]float64, len(cfg.Symbols))
		for _, s := range cfg.Symbols {
			multipliers[s.Symbol] = s.ContractMultiplier
		}
		client = exchange.NewPaperClient(gate, cfg.PaperBalance, multipliers, log)
	}

	if cfg.UseTickerStream {
		symbols := make([]string, len(cfg.Symbols))
		for i, s := range cfg.Symbols {
			symbols[i] = s.Symbol
		}
		stream := exchange.NewTickerStream(cfg.Testnet, symbols, log)
		go stream.Run(ctx)
		client = exchange.NewStreamingClient(client, stream)
	}
	return client
}

func serveMetrics(addr string, log logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Info("metrics_listening", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics_server_failed", logger.Err(err))
		}
	}()
	return srv
}

func logSessionSummary(trades *tradelog.Writer, log logger.Logger) {
	sum, err := trades.Summary()
	if err != nil {
		log.Warn("session_summary_failed", logger.Err(err))
		return
	}
	log.Info("session_summary",
		logger.String("date", sum.Date),
		logger.Int("entries", sum.Entries),
		logger.Int("exits", sum.Exits),
		logger.Float64("win_rate", sum.WinRate()),
		logger.Float64("total_pnl", sum.TotalPnL),
	)
	for _, s := range sum.Symbols {
		log.Info("symbol_summary",
			logger.String("symbol", s.Symbol),
			logger.Int("entries", s.Entries),
			logger.Int("exits", s.Exits),
			logger.Int("take_profits", s.TakeProfits),
			logger.Int("stop_losses", s.StopLosses),
			logger.Int("break_evens", s.BreakEvens),
			logger.Float64("pnl", s.TotalPnL),
		)
	}
}
