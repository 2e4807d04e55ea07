package logger

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestZapLoggerWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	l, err := NewZapLogger(path)
	if err != nil {
		t.Fatalf("NewZapLogger: %v", err)
	}

	l.Info("order_placed",
		String("symbol", "BTC_USDT"),
		Int64("contracts", 700),
		Float64("price", 50000),
	)
	l.Error("order_failed", Err(errors.New("boom")))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "order_placed" || entry["symbol"] != "BTC_USDT" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatal("expected ts key in log entry")
	}

	if err := json.Unmarshal([]byte(lines[1]), &entry); err != nil {
		t.Fatalf("error line is not JSON: %v", err)
	}
	if entry["level"] != "error" || entry["error"] != "boom" {
		t.Fatalf("unexpected error entry %v", entry)
	}
}

func TestZapLoggerConsoleOnly(t *testing.T) {
	l, err := NewZapLogger("")
	if err != nil {
		t.Fatalf("NewZapLogger without file: %v", err)
	}
	l.Info("starting") // must not panic without a file sink
}

func TestNopDiscards(t *testing.T) {
	l := NewNop()
	l.Info("ignored")
	l.Warn("ignored")
	l.Error("ignored", Err(errors.New("x")))
}
