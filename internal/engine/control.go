package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/arjunmehta14/options-engine/internal/observ"
	"github.com/arjunmehta14/options-engine/internal/perf"
	"github.com/arjunmehta14/options-engine/internal/profile"
	"github.com/arjunmehta14/options-engine/internal/risk"
	"github.com/arjunmehta14/options-engine/internal/signal"
)

// Control surface: everything the HTTP layer exposes goes through these
// methods so transport stays a thin shell.

// Status summarizes the engine for the status endpoint.
func (rt *Runtime) Status() map[string]any {
	rt.stateMu.Lock()
	lastRegime := rt.lastRegime
	lastSignal := rt.lastSignal
	date := rt.sessionDate
	rt.stateMu.Unlock()

	rt.mu.Lock()
	auto := rt.autoTrade
	meta := rt.meta
	rt.mu.Unlock()

	out := map[string]any{
		"symbol":       rt.cfg.Trading.Symbol,
		"session_date": date,
		"auto_trade":   auto,
		"portfolio":    rt.portfolio.Snapshot(),
		"regime":       lastRegime,
		"signal": map[string]any{
			"direction":     string(lastSignal.Direction),
			"confidence":    lastSignal.Confidence,
			"filtered":      lastSignal.Filtered,
			"filter_reason": lastSignal.FilterReason,
			"entry_mode":    string(lastSignal.EntryMode),
		},
	}
	if st := rt.trades.State(); st != nil && st.Status != risk.StatusClosed {
		trade := map[string]any{"risk": st}
		if meta != nil {
			trade["side"] = string(meta.Side)
			trade["strike"] = meta.Strike
			trade["lots"] = meta.Lots
			trade["booked_pnl"] = meta.BookedPnL
			trade["last_premium"] = meta.LastPremium
		}
		out["active_trade"] = trade
	}
	return out
}

// Diagnostics exposes the internals an operator reaches for when the engine
// misbehaves: feed health, bandit arms, market snapshot.
func (rt *Runtime) Diagnostics() map[string]any {
	ind := rt.marketStore.Snapshot()
	out := map[string]any{
		"feed_health":   rt.feed.Health(),
		"bandit_arms":   rt.selector.Arms(),
		"indicators":    ind,
		"candle_window": rt.marketStore.Len(),
	}
	rt.mu.Lock()
	if n := len(rt.icebergLog); n > 0 {
		tail := n - 5
		if tail < 0 {
			tail = 0
		}
		out["recent_orders"] = rt.icebergLog[tail:]
	}
	rt.mu.Unlock()
	return out
}

// AutoTrade reports the current auto-trade switch.
func (rt *Runtime) AutoTrade() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.autoTrade
}

// SetAutoTrade flips the auto-trade switch.
func (rt *Runtime) SetAutoTrade(on bool) {
	rt.mu.Lock()
	rt.autoTrade = on
	rt.mu.Unlock()
	observ.Log("auto_trade_toggled", map[string]any{"enabled": on})
}

// PlaceTrade opens a position manually in the given direction. Admission
// control and contract validation still apply; only the signal gate is
// bypassed.
func (rt *Runtime) PlaceTrade(ctx context.Context, direction string, lots int) error {
	now := time.Now()
	if !rt.cal.IsOpen(now) {
		return fmt.Errorf("session closed")
	}
	if rt.cal.PastSquareOff(now) {
		return fmt.Errorf("past square-off")
	}

	var dir signal.Direction
	switch strings.ToUpper(direction) {
	case "BULL", "CE", "LONG":
		dir = signal.Bull
	case "BEAR", "PE", "SHORT":
		dir = signal.Bear
	default:
		return fmt.Errorf("unknown direction %q", direction)
	}

	bar, err := rt.feed.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("price fetch: %w", err)
	}
	ind := rt.marketStore.Snapshot()
	if ind.Spot == 0 {
		ind.Spot = bar.Last
	}
	optSnap := rt.optSource.Snapshot(ctx, 1.0)

	rt.stateMu.Lock()
	res := rt.lastRegime
	rt.stateMu.Unlock()

	params := rt.selector.SelectProfile(res.RecommendedProfile)
	sig := signal.Signal{
		Direction:     dir,
		Confidence:    100,
		BreakoutLevel: ind.Spot,
		EntryMode:     signal.ModeConfirm,
	}
	if err := rt.openPosition(ctx, now, sig, params, res, ind, optSnap, lots); err != nil {
		return err
	}
	if st := rt.trades.State(); st == nil || st.Status == risk.StatusClosed {
		return fmt.Errorf("trade rejected by admission or contract checks")
	}
	return nil
}

// CloseTrade force-closes the open position at the last simulated premium.
func (rt *Runtime) CloseTrade() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	st := rt.trades.State()
	if st == nil || st.Status == risk.StatusClosed {
		return fmt.Errorf("no open trade")
	}
	premium := st.EntryPremium
	if rt.meta != nil && rt.meta.LastPremium > 0 {
		premium = rt.meta.LastPremium
	}
	action, err := rt.trades.CloseManual(risk.ExitManual, premium)
	if err != nil {
		return err
	}
	rt.finalizeLocked(action, time.Now())
	return nil
}

// ResetPortfolio wipes daily counters and the kill switch (operator action).
func (rt *Runtime) ResetPortfolio() {
	rt.portfolio.Reset(time.Now())
	rt.persistAll()
}

// ResetLearning wipes the bandit back to a cold start.
func (rt *Runtime) ResetLearning() {
	rt.selector.Reset()
	rt.persistAll()
}

// ForceProfile pins profile selection ("" unpins).
func (rt *Runtime) ForceProfile(id string) error {
	return rt.selector.ForceProfile(profile.ID(id))
}

// Report computes the daily performance report (today when date is empty).
func (rt *Runtime) Report(date string) perf.DailyReport {
	if date == "" {
		date = rt.cal.DateKey(time.Now())
	}
	return rt.metrics.DailyReport(date)
}
