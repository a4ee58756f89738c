package risk

import (
	"strings"
	"testing"
	"time"
)

func TestAdmissionCleared(t *testing.T) {
	p := NewPortfolio(PortfolioConfig{}, time.Now())
	ok, reason := p.CheckCanTrade(time.Now())
	if !ok || reason != "admission_cleared" {
		t.Fatalf("fresh portfolio should admit: %v %s", ok, reason)
	}
}

// Three -800 trades breach the 2% cap on 100k; the next admission check
// trips the kill switch and everything after is rejected.
func TestDailyLossCapTripsKillSwitch(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	p := NewPortfolio(PortfolioConfig{}, now)

	for i := 0; i < 3; i++ {
		// Small gaps keep all trades on the same day without arming cooldown
		// into the assertion window.
		p.RecordTradeResult(-800, now)
	}

	// Consecutive-loss cooldown armed at 3 losses; step past it so only the
	// loss cap is in play.
	later := now.Add(31 * time.Minute)
	ok, reason := p.CheckCanTrade(later)
	if ok || reason != "daily_loss_cap" {
		t.Fatalf("want daily_loss_cap rejection, got %v %s", ok, reason)
	}
	if !p.KillSwitchActive() {
		t.Fatal("breaching the cap must trip the kill switch")
	}

	ok, reason = p.CheckCanTrade(later)
	if ok || reason != "kill_switch_active" {
		t.Fatalf("kill switch must hold, got %v %s", ok, reason)
	}
}

func TestConsecutiveLossCooldown(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	cfg := PortfolioConfig{Capital: 1000000} // big capital keeps the loss cap out of play
	p := NewPortfolio(cfg, now)

	for i := 0; i < 3; i++ {
		p.RecordTradeResult(-500, now)
	}
	ok, reason := p.CheckCanTrade(now.Add(time.Minute))
	if ok || !strings.HasPrefix(reason, "cooldown_active_") {
		t.Fatalf("want cooldown rejection, got %v %s", ok, reason)
	}

	ok, _ = p.CheckCanTrade(now.Add(31 * time.Minute))
	if !ok {
		t.Fatal("cooldown should expire after the configured window")
	}

	// A win resets the streak.
	p.RecordTradeResult(-500, now.Add(32*time.Minute))
	p.RecordTradeResult(400, now.Add(33*time.Minute))
	if st := p.Snapshot(); st.ConsecutiveLosses != 0 {
		t.Fatalf("win should reset streak, got %d", st.ConsecutiveLosses)
	}
}

func TestDailyTradeCap(t *testing.T) {
	now := time.Now()
	p := NewPortfolio(PortfolioConfig{Capital: 1000000}, now)

	for i := 0; i < 6; i++ {
		p.RecordTradeResult(100, now)
	}
	ok, reason := p.CheckCanTrade(now)
	if ok || reason != "daily_trade_cap" {
		t.Fatalf("want daily_trade_cap, got %v %s", ok, reason)
	}
}

func TestDayRollCarriesPnLIntoCapital(t *testing.T) {
	now := time.Date(2026, 8, 28, 11, 0, 0, 0, time.UTC)
	p := NewPortfolio(PortfolioConfig{}, now)
	p.RecordTradeResult(1500, now)

	nextDay := now.Add(24 * time.Hour)
	ok, _ := p.CheckCanTrade(nextDay)
	if !ok {
		t.Fatal("new day should admit")
	}
	st := p.Snapshot()
	if st.Capital != 101500 {
		t.Fatalf("capital should carry P&L across the day: %f", st.Capital)
	}
	if st.DailyPnL != 0 || st.TradeCount != 0 {
		t.Fatalf("daily counters should reset: %+v", st)
	}
}

func TestRestoreGuardsZeroCapital(t *testing.T) {
	p := NewPortfolio(PortfolioConfig{}, time.Now())
	p.Restore(PortfolioState{Version: 1, Date: "2026-08-28"})
	if st := p.Snapshot(); st.Capital != 100000 {
		t.Fatalf("restore with zero capital should fall back to config, got %f", st.Capital)
	}
}
