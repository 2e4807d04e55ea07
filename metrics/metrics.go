package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Cycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gogrid_cycles_total",
			Help: "Completed orchestrator cycles.",
		},
	)

	Signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gogrid_signals_total",
			Help: "Signals produced, by symbol and kind.",
		},
		[]string{"symbol", "kind"},
	)

	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gogrid_orders_submitted_total",
			Help: "Orders accepted by the exchange, by symbol.",
		},
		[]string{"symbol"},
	)

	OrderErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gogrid_order_errors_total",
			Help: "Failed exchange calls, by symbol and error kind.",
		},
		[]string{"symbol", "kind"},
	)

	PositionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gogrid_positions_open",
			Help: "Open positions across all symbols.",
		},
	)

	AvailableBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gogrid_available_balance",
			Help: "Available futures account balance in the settle currency.",
		},
	)

	CycleSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gogrid_cycle_seconds",
			Help: "Wall time of the last completed cycle.",
		},
	)

	EntriesSuspended = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gogrid_entries_suspended",
			Help: "1 while entries for the symbol are suspended after a desync.",
		},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(Cycles, Signals, OrdersSubmitted, OrderErrors,
		PositionsOpen, AvailableBalance, CycleSeconds, EntriesSuspended)
}
