// Package tradelog writes the audit trail of every trading decision to
// day-partitioned JSONL files and aggregates them back into a summary.
package tradelog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evdnx/gogrid/logger"
)

const (
	actionEntry     = "entry"
	actionExit      = "exit"
	actionSkip      = "skip"
	actionRebalance = "rebalance"
)

// EntryRecord captures a confirmed fill with the full decision context.
type EntryRecord struct {
	ID            string    `json:"id"`
	Time          time.Time `json:"time"`
	Action        string    `json:"action"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Strategy      string    `json:"strategy,omitempty"`
	Regime        string    `json:"regime,omitempty"`
	GridLevel     int       `json:"grid_level"`
	Price         float64   `json:"price"`
	Contracts     int64     `json:"contracts"`
	Margin        float64   `json:"margin"`
	Leverage      float64   `json:"leverage"`
	TakeProfitPct float64   `json:"take_profit_pct"`
	StopLossPct   float64   `json:"stop_loss_pct"`
	Reason        string    `json:"reason,omitempty"`
}

// ExitRecord captures a confirmed close. PnLPct is against the position
// margin; PriceMovePct is the same move de-levered.
type ExitRecord struct {
	ID           string    `json:"id"`
	Time         time.Time `json:"time"`
	Action       string    `json:"action"`
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"`
	Reason       string    `json:"reason"`
	EntryPrice   float64   `json:"entry_price"`
	ExitPrice    float64   `json:"exit_price"`
	Contracts    int64     `json:"contracts"`
	PnLUSDT      float64   `json:"pnl_usdt"`
	PnLPct       float64   `json:"pnl_pct"`
	PriceMovePct float64   `json:"price_move_pct"`
	HoldingSecs  float64   `json:"holding_secs"`
}

// SkipRecord captures an actionable signal that was not executed.
type SkipRecord struct {
	ID     string    `json:"id"`
	Time   time.Time `json:"time"`
	Action string    `json:"action"`
	Symbol string    `json:"symbol"`
	Side   string    `json:"side,omitempty"`
	Reason string    `json:"reason"`
}

// RebalanceRecord captures a grid re-anchoring.
type RebalanceRecord struct {
	ID     string    `json:"id"`
	Time   time.Time `json:"time"`
	Action string    `json:"action"`
	Symbol string    `json:"symbol"`
	Anchor float64   `json:"anchor"`
	Reason string    `json:"reason,omitempty"`
}

// Writer appends records to trades_YYYY-MM-DD.jsonl under its directory.
// Append failures are logged and swallowed: the audit trail must never take
// the engine down with it.
type Writer struct {
	dir string
	log logger.Logger
	now func() time.Time
	mu  sync.Mutex
}

func NewWriter(dir string, log logger.Logger) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("tradelog: create dir: %w", err)
	}
	return &Writer{dir: dir, log: log, now: time.Now}, nil
}

func (w *Writer) Entry(rec EntryRecord) {
	rec.ID = uuid.NewString()
	rec.Time = w.now().UTC()
	rec.Action = actionEntry
	w.append(rec.Time, rec)
}

func (w *Writer) Exit(rec ExitRecord) {
	rec.ID = uuid.NewString()
	rec.Time = w.now().UTC()
	rec.Action = actionExit
	w.append(rec.Time, rec)
}

func (w *Writer) Skip(rec SkipRecord) {
	rec.ID = uuid.NewString()
	rec.Time = w.now().UTC()
	rec.Action = actionSkip
	w.append(rec.Time, rec)
}

func (w *Writer) Rebalance(rec RebalanceRecord) {
	rec.ID = uuid.NewString()
	rec.Time = w.now().UTC()
	rec.Action = actionRebalance
	w.append(rec.Time, rec)
}

func (w *Writer) fileFor(day time.Time) string {
	return filepath.Join(w.dir, "trades_"+day.Format("2006-01-02")+".jsonl")
}

func (w *Writer) append(day time.Time, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.log.Error("tradelog_encode_failed", logger.Err(err))
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.fileFor(day), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		w.log.Error("tradelog_open_failed", logger.Err(err))
		return
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		w.log.Error("tradelog_write_failed", logger.Err(err))
	}
}

// SymbolSummary aggregates one symbol's day.
type SymbolSummary struct {
	Symbol      string
	Entries     int
	Exits       int
	Wins        int
	TakeProfits int
	StopLosses  int
	BreakEvens  int
	TotalPnL    float64
}

// Summary aggregates one day of records.
type Summary struct {
	Date     string
	Entries  int
	Exits    int
	Wins     int
	TotalPnL float64
	Symbols  map[string]*SymbolSummary
}

// WinRate is the fraction of exits that banked a positive PnL.
func (s Summary) WinRate() float64 {
	if s.Exits == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Exits)
}

// record is the decode superset for summary aggregation.
type record struct {
	Action  string  `json:"action"`
	Symbol  string  `json:"symbol"`
	Reason  string  `json:"reason"`
	PnLUSDT float64 `json:"pnl_usdt"`
}

// Summary re-reads today's file and aggregates it. A missing file is an
// empty day, not an error; malformed lines are skipped.
func (w *Writer) Summary() (Summary, error) {
	day := w.now().UTC()
	sum := Summary{
		Date:    day.Format("2006-01-02"),
		Symbols: make(map[string]*SymbolSummary),
	}

	f, err := os.Open(w.fileFor(day))
	if err != nil {
		if os.IsNotExist(err) {
			return sum, nil
		}
		return sum, fmt.Errorf("tradelog: open summary source: %w", err)
	}
	defer f.Close()

	sym := func(name string) *SymbolSummary {
		s := sum.Symbols[name]
		if s == nil {
			s = &SymbolSummary{Symbol: name}
			sum.Symbols[name] = s
		}
		return s
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var rec record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		switch rec.Action {
		case actionEntry:
			sum.Entries++
			sym(rec.Symbol).Entries++
		case actionExit:
			s := sym(rec.Symbol)
			sum.Exits++
			s.Exits++
			sum.TotalPnL += rec.PnLUSDT
			s.TotalPnL += rec.PnLUSDT
			if rec.PnLUSDT > 0 {
				sum.Wins++
				s.Wins++
			}
			switch rec.Reason {
			case "take_profit":
				s.TakeProfits++
			case "stop_loss":
				s.StopLosses++
			case "break_even":
				s.BreakEvens++
			}
		}
	}
	if err := sc.Err(); err != nil {
		return sum, fmt.Errorf("tradelog: scan summary source: %w", err)
	}
	return sum, nil
}
