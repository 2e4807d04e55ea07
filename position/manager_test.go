package position

import (
	"testing"

	"github.com/evdnx/gogrid/logger"
	"github.com/evdnx/gogrid/types"
)

func TestReconcileAdoptsUntracked(t *testing.T) {
	m := NewManager(logger.NewNop())
	exch := &types.ExchangePosition{
		Symbol: "BTC_USDT", Size: 700, EntryPrice: 50000, Leverage: 7, Margin: 500,
	}

	if err := m.Reconcile("BTC_USDT", exch, symCfg(), t0); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	p, ok := m.Get("BTC_USDT")
	if !ok {
		t.Fatal("expected adopted position")
	}
	if p.Side != types.Long || p.Contracts != 700 || p.EntryPrice != 50000 {
		t.Fatalf("unexpected adopted record %+v", p)
	}
	if m.Count() != 1 {
		t.Fatalf("expected count 1, got %d", m.Count())
	}
}

func TestReconcileDropsMissingAndSuspends(t *testing.T) {
	m := NewManager(logger.NewNop())
	m.Track(openLong(0, 0))

	err := m.Reconcile("BTC_USDT", nil, symCfg(), t0)
	if err == nil {
		t.Fatal("expected desync error for vanished position")
	}
	if !types.IsDesync(err) {
		t.Fatalf("expected StateDesyncError, got %v", err)
	}
	if _, ok := m.Get("BTC_USDT"); ok {
		t.Fatal("expected local record dropped")
	}
	if !m.Suspended("BTC_USDT") {
		t.Fatal("expected entries suspended after desync")
	}

	// the next clean pass lifts the suspension
	if err := m.Reconcile("BTC_USDT", nil, symCfg(), t0); err != nil {
		t.Fatalf("clean reconcile: %v", err)
	}
	if m.Suspended("BTC_USDT") {
		t.Fatal("expected suspension lifted on clean pass")
	}
}

func TestReconcileAdoptionKeepsSuspensionUntilClean(t *testing.T) {
	m := NewManager(logger.NewNop())
	m.Track(openLong(0, 0))

	// position vanishes: drop and suspend
	if err := m.Reconcile("BTC_USDT", nil, symCfg(), t0); err == nil {
		t.Fatal("expected desync error")
	}

	// it reappears: adopt, but the pass found a discrepancy so the
	// suspension stays
	exch := &types.ExchangePosition{Symbol: "BTC_USDT", Size: 700, EntryPrice: 50000, Margin: 500}
	if err := m.Reconcile("BTC_USDT", exch, symCfg(), t0); err != nil {
		t.Fatalf("adopting reconcile: %v", err)
	}
	if !m.Suspended("BTC_USDT") {
		t.Fatal("adoption must not lift the suspension")
	}

	// tracked and present agree: now the suspension lifts
	if err := m.Reconcile("BTC_USDT", exch, symCfg(), t0); err != nil {
		t.Fatalf("clean reconcile: %v", err)
	}
	if m.Suspended("BTC_USDT") {
		t.Fatal("expected suspension lifted once state agrees")
	}
}

func TestReconcileTakesExchangeSize(t *testing.T) {
	m := NewManager(logger.NewNop())
	m.Track(openLong(0, 0)) // 700 contracts, margin 500

	exch := &types.ExchangePosition{Symbol: "BTC_USDT", Size: 650, EntryPrice: 50000, Margin: 470}
	if err := m.Reconcile("BTC_USDT", exch, symCfg(), t0); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	p, _ := m.Get("BTC_USDT")
	if p.Contracts != 650 || p.Margin != 470 {
		t.Fatalf("expected exchange numbers 650/470, got %d/%v", p.Contracts, p.Margin)
	}
}

func TestTrackDropCount(t *testing.T) {
	m := NewManager(logger.NewNop())
	p1 := openLong(0, 0)
	p2 := openLong(0, 0)
	p2.Symbol = "ETH_USDT"

	m.Track(p1)
	m.Track(p2)
	if m.Count() != 2 {
		t.Fatalf("expected 2 positions, got %d", m.Count())
	}

	m.Drop("BTC_USDT")
	if m.Count() != 1 {
		t.Fatalf("expected 1 position after drop, got %d", m.Count())
	}
	if _, ok := m.Get("BTC_USDT"); ok {
		t.Fatal("dropped symbol still tracked")
	}
}
