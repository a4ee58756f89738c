package risk

import (
	"testing"
	"time"

	"github.com/arjunmehta14/options-engine/internal/profile"
	"github.com/arjunmehta14/options-engine/internal/signal"
)

func openBalanced(t *testing.T, tm *TradeManager, entry float64, qty int) *TrailState {
	t.Helper()
	p := profile.Library()[profile.Balanced]
	st, err := tm.Open("T1", signal.Bull, entry, 23120, 23100, 23020, 0, 300000, qty, p, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return st
}

// tick keeps spot well beyond the breakout level and volume healthy so only
// the premium path drives the outcome.
func holdTick(premium float64) Tick {
	return Tick{Premium: premium, Spot: 23150, VWAP: 23020, PremiumATR: 4, Volume: 280000, MinuteOfDay: 11 * 60}
}

func TestOpenSetsPercentStop(t *testing.T) {
	tm := NewTradeManager(Config{})
	st := openBalanced(t, tm, 100, 600)
	if st.InitialSL != 90 { // balanced SLPct 0.10
		t.Fatalf("initial SL want 90, got %f", st.InitialSL)
	}
	if st.TP1 != 112 { // balanced TP1Pct 0.12
		t.Fatalf("TP1 want 112, got %f", st.TP1)
	}
	if st.Status != StatusOpen {
		t.Fatalf("want OPEN, got %s", st.Status)
	}
}

func TestOpenATRStop(t *testing.T) {
	tm := NewTradeManager(Config{})
	p := profile.Library()[profile.Aggressive] // SLMode atr, mult 1.8
	st, err := tm.Open("T2", signal.Bull, 100, 23120, 23100, 23020, 5, 300000, 600, p, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if st.InitialSL != 91 { // 100 - 5*1.8
		t.Fatalf("ATR stop want 91, got %f", st.InitialSL)
	}
}

func TestSecondOpenRejectedWhileOpen(t *testing.T) {
	tm := NewTradeManager(Config{})
	openBalanced(t, tm, 100, 600)
	p := profile.Library()[profile.Balanced]
	if _, err := tm.Open("T3", signal.Bull, 100, 23120, 23100, 23020, 0, 300000, 600, p, time.Now()); err == nil {
		t.Fatal("second open must be rejected while a trade is live")
	}
}

func TestStopLossExit(t *testing.T) {
	tm := NewTradeManager(Config{})
	openBalanced(t, tm, 100, 600)

	action, err := tm.UpdateTick(holdTick(89.5))
	if err != nil {
		t.Fatal(err)
	}
	if action.Type != ActionExit || action.Reason != ExitSLHit {
		t.Fatalf("want SL exit, got %+v", action)
	}
	if action.Quantity != 600 {
		t.Fatalf("full quantity exits on SL, got %d", action.Quantity)
	}
}

func TestTP1BooksHalfAndMovesStopToBreakeven(t *testing.T) {
	tm := NewTradeManager(Config{})
	openBalanced(t, tm, 100, 600)

	action, err := tm.UpdateTick(holdTick(113)) // +13% clears TP1 at 112
	if err != nil {
		t.Fatal(err)
	}
	if action.Type != ActionBookTP1 {
		t.Fatalf("want BOOK_TP1, got %+v", action)
	}
	if action.Quantity != 300 { // balanced BookFraction 0.5
		t.Fatalf("book quantity want 300, got %d", action.Quantity)
	}

	st := tm.State()
	if !st.TP1Hit || st.Status != StatusTrailing {
		t.Fatalf("state should be TRAILING after TP1: %+v", st)
	}
	if st.RemainingQty != 300 {
		t.Fatalf("remaining want 300, got %d", st.RemainingQty)
	}
	if st.CurrentSL < 100 {
		t.Fatalf("stop must be at least breakeven after TP1, got %f", st.CurrentSL)
	}
}

// The trailing stop only ratchets up and never crosses the live premium.
func TestTrailingStopMonotonic(t *testing.T) {
	tm := NewTradeManager(Config{})
	openBalanced(t, tm, 100, 600)
	if _, err := tm.UpdateTick(holdTick(113)); err != nil {
		t.Fatal(err)
	}

	prevSL := tm.State().CurrentSL
	for _, premium := range []float64{115, 118, 117, 121, 120, 125} {
		action, err := tm.UpdateTick(holdTick(premium))
		if err != nil {
			t.Fatal(err)
		}
		if action.Type == ActionExit {
			t.Fatalf("runner should survive this path, exited at %f: %+v", premium, action)
		}
		st := tm.State()
		if st.CurrentSL < prevSL {
			t.Fatalf("stop loosened from %f to %f", prevSL, st.CurrentSL)
		}
		if st.CurrentSL >= premium {
			t.Fatalf("stop %f crossed premium %f", st.CurrentSL, premium)
		}
		prevSL = st.CurrentSL
	}

	// Falling through the trail closes the runner as TRAILING_SL.
	st := tm.State()
	action, err := tm.UpdateTick(holdTick(st.CurrentSL - 0.5))
	if err != nil {
		t.Fatal(err)
	}
	if action.Type != ActionExit || action.Reason != ExitTrailingSL {
		t.Fatalf("want trailing exit, got %+v", action)
	}
}

func TestLateSessionTightensTrail(t *testing.T) {
	tm := NewTradeManager(Config{})
	openBalanced(t, tm, 100, 600)
	if _, err := tm.UpdateTick(holdTick(113)); err != nil {
		t.Fatal(err)
	}

	early := holdTick(120)
	if _, err := tm.UpdateTick(early); err != nil {
		t.Fatal(err)
	}
	earlySL := tm.State().CurrentSL

	late := holdTick(120)
	late.MinuteOfDay = 14*60 + 45
	if _, err := tm.UpdateTick(late); err != nil {
		t.Fatal(err)
	}
	if lateSL := tm.State().CurrentSL; lateSL <= earlySL {
		t.Fatalf("late session should tighten the trail: %f <= %f", lateSL, earlySL)
	}
}

// Fake breakout: premium stalls, then spot drops back through the breakout
// level. The zone re-entry fires before the stop-loss is reached.
func TestMomentumFailureZoneReentry(t *testing.T) {
	tm := NewTradeManager(Config{})
	openBalanced(t, tm, 100, 600)

	for _, premium := range []float64{101, 100.5, 100.2} {
		if _, err := tm.UpdateTick(holdTick(premium)); err != nil {
			t.Fatal(err)
		}
	}

	reentry := holdTick(99) // premium still above SL 90
	reentry.Spot = 23088    // back below the 23100 breakout level
	action, err := tm.UpdateTick(reentry)
	if err != nil {
		t.Fatal(err)
	}
	if action.Type != ActionExit || action.Reason != ExitMomentumFailure {
		t.Fatalf("want momentum-failure exit, got %+v", action)
	}
}

func TestMomentumFailureStaleWithVWAPRecross(t *testing.T) {
	tm := NewTradeManager(Config{})
	openBalanced(t, tm, 100, 600) // entry above VWAP

	// Premium never makes a new peak; spot slips under a rising VWAP while
	// staying above the breakout level, so only the stale path can fire.
	ticks := []Tick{
		{Premium: 101, Spot: 23150, VWAP: 23020, Volume: 280000, MinuteOfDay: 11 * 60},
		{Premium: 100.5, Spot: 23150, VWAP: 23020, Volume: 280000, MinuteOfDay: 11 * 60},
		{Premium: 100.4, Spot: 23125, VWAP: 23130, Volume: 280000, MinuteOfDay: 11 * 60}, // recross
		{Premium: 100.3, Spot: 23150, VWAP: 23020, Volume: 280000, MinuteOfDay: 11 * 60},
	}
	var last Action
	for _, tk := range ticks {
		a, err := tm.UpdateTick(tk)
		if err != nil {
			t.Fatal(err)
		}
		last = a
		if a.Type == ActionExit {
			break
		}
	}
	if last.Type != ActionExit || last.Reason != ExitMomentumFailure {
		t.Fatalf("stale premium with VWAP recross should exit, got %+v", last)
	}
}

func TestMomentumFailureVolumeCollapse(t *testing.T) {
	tm := NewTradeManager(Config{})
	openBalanced(t, tm, 100, 600) // entry volume 300000

	tk := holdTick(100.5)
	tk.Volume = 100000 // 0.33x entry, below the 0.4 collapse ratio
	action, err := tm.UpdateTick(tk)
	if err != nil {
		t.Fatal(err)
	}
	if action.Type != ActionExit || action.Reason != ExitMomentumFailure {
		t.Fatalf("volume collapse with stagnant premium should exit, got %+v", action)
	}
}

func TestMomentumFailureDisabledAfterTP1(t *testing.T) {
	tm := NewTradeManager(Config{})
	openBalanced(t, tm, 100, 600)
	if _, err := tm.UpdateTick(holdTick(113)); err != nil {
		t.Fatal(err)
	}

	// Zone re-entry after TP1 must not trigger momentum failure; the trail
	// owns the runner now.
	reentry := holdTick(112)
	reentry.Spot = 23088
	action, err := tm.UpdateTick(reentry)
	if err != nil {
		t.Fatal(err)
	}
	if action.Type == ActionExit && action.Reason == ExitMomentumFailure {
		t.Fatalf("momentum failure must be disabled post-TP1, got %+v", action)
	}
}

func TestCloseManualAndRestore(t *testing.T) {
	tm := NewTradeManager(Config{})
	openBalanced(t, tm, 100, 600)

	action, err := tm.CloseManual(ExitTimeSquareOff, 104)
	if err != nil {
		t.Fatal(err)
	}
	if action.Reason != ExitTimeSquareOff || action.Quantity != 600 || action.Price != 104 {
		t.Fatalf("unexpected square-off action %+v", action)
	}
	if _, err := tm.CloseManual(ExitManual, 104); err == nil {
		t.Fatal("closing a closed trade must error")
	}

	// A persisted open state round-trips through Restore.
	tm2 := NewTradeManager(Config{})
	st := openBalanced(t, tm2, 100, 600)
	tm3 := NewTradeManager(Config{})
	tm3.Restore(*st)
	got := tm3.State()
	if got == nil || got.TradeID != st.TradeID || got.CurrentSL != st.CurrentSL {
		t.Fatalf("restore mismatch: %+v vs %+v", got, st)
	}
}

func TestFullBookAtTargetExitsAsTP1(t *testing.T) {
	tm := NewTradeManager(Config{})
	p := profile.Library()[profile.Balanced]
	p.BookFraction = 1.0
	if _, err := tm.Open("T9", signal.Bull, 100, 23120, 23100, 23020, 0, 300000, 600, p, time.Now()); err != nil {
		t.Fatal(err)
	}

	action, err := tm.UpdateTick(holdTick(113))
	if err != nil {
		t.Fatal(err)
	}
	if action.Type != ActionExit || action.Reason != ExitTP1 {
		t.Fatalf("booking the whole position at target want %s exit, got %+v", ExitTP1, action)
	}
	if action.Quantity != 600 {
		t.Fatalf("whole position exits at target, got %d", action.Quantity)
	}
	if got := tm.State().Status; got != StatusClosed {
		t.Fatalf("state should close after the full booking, got %s", got)
	}
}
