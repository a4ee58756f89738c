package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/arjunmehta14/options-engine/internal/adapters"
	"github.com/arjunmehta14/options-engine/internal/config"
	"github.com/arjunmehta14/options-engine/internal/execution"
	"github.com/arjunmehta14/options-engine/internal/market"
	"github.com/arjunmehta14/options-engine/internal/observ"
	"github.com/arjunmehta14/options-engine/internal/options"
	"github.com/arjunmehta14/options-engine/internal/perf"
	"github.com/arjunmehta14/options-engine/internal/profile"
	"github.com/arjunmehta14/options-engine/internal/regime"
	"github.com/arjunmehta14/options-engine/internal/risk"
	"github.com/arjunmehta14/options-engine/internal/signal"
	"github.com/arjunmehta14/options-engine/internal/store"
)

const avgVolumeLookback = 20

// tradeMeta carries the open position's context that isn't risk state:
// which contract, which regime/profile opened it, booked partials and costs.
type tradeMeta struct {
	TradeID     string            `json:"trade_id"`
	Side        market.OptionSide `json:"side"`
	Strike      float64           `json:"strike"`
	Regime      regime.Regime     `json:"regime"`
	Profile     profile.ID        `json:"profile"`
	Direction   signal.Direction  `json:"direction"`
	Lots        int               `json:"lots"`
	IV          float64           `json:"iv"`
	BookedPnL   float64           `json:"booked_pnl"`
	LastPremium float64           `json:"last_premium"`
}

// ledgerDoc is the persisted trade ledger document.
type ledgerDoc struct {
	Version     int                    `json:"version"`
	Portfolio   risk.PortfolioState    `json:"portfolio"`
	ActiveTrade *risk.TrailState       `json:"active_trade,omitempty"`
	ActiveMeta  *tradeMeta             `json:"active_meta,omitempty"`
	IcebergLog  []execution.FillResult `json:"iceberg_log"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// Runtime sequences the whole engine: a slow signal loop that may open at
// most one position per cycle and a fast risk loop that manages and closes
// it. One mutex guards trade open/close/modify; network fetches stay outside
// the critical section.
type Runtime struct {
	cfg config.Root
	cal *Calendar

	feed      *adapters.FallbackChain
	optSource *adapters.CachedOptionsSource

	marketStore *market.Store
	optionStore *market.OptionStore
	classifier  *regime.Classifier
	momentum    *signal.Engine
	selector    *profile.Selector
	trades      *risk.TradeManager
	portfolio   *risk.Portfolio
	executor    *execution.Executor
	metrics     *perf.Engine
	snapshots   *store.Store

	mu         sync.Mutex // trade boundary
	sim        *options.Simulator
	meta       *tradeMeta
	autoTrade  bool
	icebergLog []execution.FillResult

	stateMu     sync.Mutex // last-decision diagnostics, session bookkeeping
	lastRegime  regime.Result
	lastSignal  signal.Signal
	sessionDate string
	eodFlushed  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires the runtime from config and collaborators.
func New(cfg config.Root, feed *adapters.FallbackChain, optSource *adapters.CachedOptionsSource, snapshots *store.Store) *Runtime {
	now := time.Now()
	rt := &Runtime{
		cfg:         cfg,
		cal:         NewCalendar(cfg.Session),
		feed:        feed,
		optSource:   optSource,
		marketStore: market.NewStore(market.DefaultWindow),
		optionStore: market.NewOptionStore(market.DefaultWindow),
		classifier:  regime.New(cfg.Regime),
		momentum:    signal.NewEngine(cfg.Signal),
		selector:    profile.NewSelector(cfg.Bandit.Exploration, cfg.Bandit.FoldEvery),
		trades:      risk.NewTradeManager(cfg.Risk),
		portfolio:   risk.NewPortfolio(cfg.Portfolio, now),
		executor:    execution.NewExecutor(cfg.Iceberg),
		metrics:     perf.NewEngine(),
		snapshots:   snapshots,
		autoTrade:   cfg.Trading.AutoTrade,
	}
	rt.restore()
	return rt
}

// restore reloads the three persisted documents; a cold start is fine.
func (rt *Runtime) restore() {
	var ledger ledgerDoc
	if err := rt.snapshots.Load(store.DocLedger, &ledger); err == nil {
		rt.portfolio.Restore(ledger.Portfolio)
		rt.icebergLog = ledger.IcebergLog
		if ledger.ActiveTrade != nil && ledger.ActiveTrade.Status != risk.StatusClosed {
			rt.trades.Restore(*ledger.ActiveTrade)
			rt.meta = ledger.ActiveMeta
			if rt.meta != nil {
				sim, err := options.NewSimulator(rt.meta.Side, ledger.ActiveTrade.EntrySpot, rt.meta.Strike, rt.meta.IV, rt.cfg.Trading.DTEDays)
				if err == nil {
					rt.sim = sim
				}
			}
			observ.Log("active_trade_restored", map[string]any{"trade_id": ledger.ActiveTrade.TradeID})
		}
	}
	var learning profile.SnapshotState
	if err := rt.snapshots.Load(store.DocLearning, &learning); err == nil {
		rt.selector.Restore(learning)
	}
	var metrics perf.SnapshotState
	if err := rt.snapshots.Load(store.DocMetrics, &metrics); err == nil {
		rt.metrics.Restore(metrics)
	}
}

// Start launches the two loops.
func (rt *Runtime) Start(ctx context.Context) {
	ctx, rt.cancel = context.WithCancel(ctx)
	rt.wg.Add(2)
	go rt.loop(ctx, time.Duration(rt.cfg.Trading.SignalIntervalSec)*time.Second, "signal", rt.signalCycle)
	go rt.loop(ctx, time.Duration(rt.cfg.Trading.RiskIntervalSec)*time.Second, "risk", rt.riskCycle)
	observ.Log("runtime_started", map[string]any{
		"signal_interval_sec": rt.cfg.Trading.SignalIntervalSec,
		"risk_interval_sec":   rt.cfg.Trading.RiskIntervalSec,
	})
}

// Stop cancels the loops, squares off any open position and flushes state.
func (rt *Runtime) Stop() {
	if rt.cancel != nil {
		rt.cancel()
	}
	rt.wg.Wait()

	rt.mu.Lock()
	if st := rt.trades.State(); st != nil && st.Status != risk.StatusClosed {
		premium := st.EntryPremium
		if rt.meta != nil && rt.meta.LastPremium > 0 {
			premium = rt.meta.LastPremium
		}
		if action, err := rt.trades.CloseManual(risk.ExitTimeSquareOff, premium); err == nil {
			rt.finalizeLocked(action, time.Now())
		}
	}
	rt.mu.Unlock()

	rt.selector.FlushDay()
	rt.persistAll()
	observ.Log("runtime_stopped", nil)
}

// loop runs fn on a fixed cadence. A panic or error aborts only that
// iteration; the loop logs and carries on next tick.
func (rt *Runtime) loop(ctx context.Context, interval time.Duration, name string, fn func(context.Context, time.Time) error) {
	defer rt.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rt.runCycle(ctx, name, now, fn)
		}
	}
}

func (rt *Runtime) runCycle(ctx context.Context, name string, now time.Time, fn func(context.Context, time.Time) error) {
	defer func() {
		if r := recover(); r != nil {
			observ.IncCounter("loop_panics_total", map[string]string{"loop": name})
			observ.Log("loop_panic", map[string]any{"loop": name, "panic": fmt.Sprint(r)})
		}
	}()
	start := time.Now()
	if err := fn(ctx, now); err != nil {
		observ.IncCounter("loop_cycle_errors_total", map[string]string{"loop": name})
		observ.LogError("loop_cycle_error", err, map[string]any{"loop": name})
	}
	observ.Observe("loop_cycle_seconds", time.Since(start).Seconds(), map[string]string{"loop": name})
}

// signalCycle builds a candle, classifies the regime, selects a profile,
// evaluates momentum and may open a position.
func (rt *Runtime) signalCycle(ctx context.Context, now time.Time) error {
	if !rt.cal.IsOpen(now) {
		rt.afterHours(now)
		return nil
	}
	rt.rollSession(now)

	// Network fetches happen before the trade lock.
	bar, err := rt.feed.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("price fetch: %w", err)
	}
	candle := barToCandle(bar)
	if err := rt.marketStore.AddCandle(candle); err != nil {
		return fmt.Errorf("add candle: %w", err)
	}

	ind := rt.marketStore.Snapshot()
	avgVol := rt.avgVolume()
	volRatio := 1.0
	if avgVol > 0 {
		volRatio = float64(candle.Volume) / avgVol
	}
	optSnap := rt.optSource.Snapshot(ctx, volRatio)

	rt.stateMu.Lock()
	lastConf := rt.lastSignal.Confidence
	rt.stateMu.Unlock()

	res := rt.classifier.Classify(regime.Input{
		Spot:             ind.Spot,
		VWAP:             ind.VWAP,
		VWAPSlope:        ind.VWAPSlope,
		ATR:              ind.ATR,
		MinuteOfDay:      rt.cal.MinuteOfDay(now),
		ThreeCandleRange: rt.threeCandleRange(),
		SignalConfidence: lastConf,
	})
	observ.SetGauge("regime_trading_allowed", boolGauge(res.TradingAllowed), map[string]string{"regime": string(res.Regime)})

	params := rt.selector.SelectProfile(res.RecommendedProfile)

	sig := rt.momentum.Evaluate(signal.Input{
		Ind:           ind,
		LastCandle:    candle,
		AvgVolume:     avgVol,
		IsOptions:     true,
		CEOIChangePct: optSnap.CEOIChangePct,
		PEOIChangePct: optSnap.PEOIChangePct,
		SpreadPct:     optSnap.SpreadPct,
	}, params)

	rt.stateMu.Lock()
	rt.lastRegime = res
	rt.lastSignal = sig
	rt.stateMu.Unlock()

	if !res.TradingAllowed {
		return nil
	}
	if sig.Filtered || sig.Direction == signal.None {
		return nil
	}
	if sig.Confidence < params.ConfidenceFloor {
		observ.IncCounter("signals_below_floor_total", map[string]string{"profile": string(params.ID)})
		return nil
	}

	rt.mu.Lock()
	auto := rt.autoTrade
	rt.mu.Unlock()
	if !auto {
		observ.Log("signal_not_traded_auto_off", map[string]any{
			"direction": string(sig.Direction), "confidence": sig.Confidence,
		})
		return nil
	}

	return rt.openPosition(ctx, now, sig, params, res, ind, optSnap, 0)
}

// openPosition runs admission control, prices the contract, executes the
// entry iceberg and initializes risk state, all under the trade lock.
func (rt *Runtime) openPosition(ctx context.Context, now time.Time, sig signal.Signal, params profile.Params, res regime.Result, ind market.Indicators, optSnap *adapters.OptionsSnapshot, lots int) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if st := rt.trades.State(); st != nil && st.Status != risk.StatusClosed {
		return nil // at most one open position by design
	}
	if ok, reason := rt.portfolio.CheckCanTrade(now); !ok {
		observ.IncCounter("trade_rejections_total", map[string]string{"reason": reason})
		observ.Log("trade_rejected", map[string]any{"reason": reason})
		return nil
	}

	side := market.SideCall
	if sig.Direction == signal.Bear {
		side = market.SidePut
	}
	strike := math.Round(ind.Spot/rt.cfg.Trading.StrikeStep) * rt.cfg.Trading.StrikeStep

	sim, err := options.NewSimulator(side, ind.Spot, strike, optSnap.IV, rt.cfg.Trading.DTEDays)
	if err != nil {
		return fmt.Errorf("price contract: %w", err)
	}
	premium, _, greeks := sim.State()
	if premium < 5 {
		observ.Log("trade_rejected", map[string]any{"reason": "premium_too_cheap", "premium": premium})
		return nil
	}
	if greeks.Delta < 0.2 || greeks.Delta > 0.9 {
		observ.Log("trade_rejected", map[string]any{"reason": "delta_out_of_range", "delta": greeks.Delta})
		return nil
	}

	if lots <= 0 {
		lots = rt.cfg.Trading.QuantityLots
	}
	qty := lots * rt.cfg.Iceberg.LotSize
	tradeID := fmt.Sprintf("%s-%s-%d", rt.cfg.Trading.Symbol, side, now.Unix())

	order, err := rt.executor.NewOptionsIceberg(tradeID, rt.cfg.Trading.Symbol, execution.SideBuy, qty, premium, now)
	if err != nil {
		return fmt.Errorf("build iceberg: %w", err)
	}
	fill, err := rt.executor.Execute(ctx, order, paperFill, nil)
	if err != nil {
		return fmt.Errorf("execute iceberg: %w", err)
	}
	rt.icebergLog = append(rt.icebergLog, *fill)
	if fill.FilledQty == 0 {
		observ.Log("trade_rejected", map[string]any{"reason": "entry_unfilled"})
		return nil
	}

	entry := fill.AvgFillPrice
	premATR := rt.optionStore.PremiumATR(side, 0)
	st, err := rt.trades.Open(tradeID, sig.Direction, entry, ind.Spot, sig.BreakoutLevel, ind.VWAP, premATR, rt.lastCandleVolume(), fill.FilledQty, params, now)
	if err != nil {
		return fmt.Errorf("open risk state: %w", err)
	}
	rt.sim = sim
	rt.meta = &tradeMeta{
		TradeID:     tradeID,
		Side:        side,
		Strike:      strike,
		Regime:      res.Regime,
		Profile:     params.ID,
		Direction:   sig.Direction,
		Lots:        lots,
		IV:          sim.IV,
		LastPremium: entry,
	}

	observ.IncCounter("trades_opened_total", map[string]string{
		"regime": string(res.Regime), "profile": string(params.ID), "mode": string(sig.EntryMode),
	})
	observ.Log("trade_opened", map[string]any{
		"trade_id": tradeID, "side": string(side), "strike": strike,
		"entry": entry, "qty": fill.FilledQty, "sl": st.CurrentSL, "tp1": st.TP1,
		"confidence": sig.Confidence, "entry_mode": string(sig.EntryMode),
	})
	rt.persistLedgerLocked()
	return nil
}

// riskCycle ticks the premium simulator and the trade state machine for the
// open position, executing exits.
func (rt *Runtime) riskCycle(ctx context.Context, now time.Time) error {
	if rt.trades.State() == nil {
		return nil
	}

	bar, err := rt.feed.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("price fetch: %w", err)
	}
	ind := rt.marketStore.Snapshot()
	avgVol := rt.avgVolume()
	volRatio := 1.0
	if avgVol > 0 {
		volRatio = float64(bar.Volume) / avgVol
	}

	rt.stateMu.Lock()
	isBreakout := !rt.lastSignal.Filtered && rt.lastSignal.Direction != signal.None
	isChop := !rt.lastRegime.TradingAllowed && rt.lastRegime.Regime != regime.EventSpike
	rt.stateMu.Unlock()

	rt.mu.Lock()
	defer rt.mu.Unlock()

	st := rt.trades.State()
	if st == nil || st.Status == risk.StatusClosed || rt.sim == nil || rt.meta == nil {
		return nil
	}

	elapsed := float64(rt.cfg.Trading.RiskIntervalSec)
	premium := rt.sim.Tick(bar.Last, elapsed, 0, volRatio, isBreakout, isChop)
	rt.recordPremiumCandleLocked(premium, bar)
	rt.meta.LastPremium = premium

	// Forced square-off and the kill switch trump the state machine.
	if rt.cal.PastSquareOff(now) {
		if action, err := rt.trades.CloseManual(risk.ExitTimeSquareOff, premium); err == nil {
			rt.finalizeLocked(action, now)
		}
		return nil
	}
	if rt.portfolio.KillSwitchActive() {
		if action, err := rt.trades.CloseManual(risk.ExitDailyLossCap, premium); err == nil {
			rt.finalizeLocked(action, now)
		}
		return nil
	}

	action, err := rt.trades.UpdateTick(risk.Tick{
		Premium:     premium,
		Spot:        bar.Last,
		VWAP:        ind.VWAP,
		PremiumATR:  rt.optionStore.PremiumATR(rt.meta.Side, 0),
		Volume:      bar.Volume,
		MinuteOfDay: rt.cal.MinuteOfDay(now),
	})
	if err != nil {
		return err
	}

	switch action.Type {
	case risk.ActionBookTP1:
		rt.meta.BookedPnL += (action.Price - st.EntryPremium) * float64(action.Quantity)
		rt.persistLedgerLocked()
	case risk.ActionExit:
		rt.finalizeLocked(action, now)
	}
	return nil
}

// finalizeLocked settles a closed position: realized P&L, portfolio
// counters, metrics record, bandit reward, persistence. Caller holds mu.
func (rt *Runtime) finalizeLocked(action risk.Action, now time.Time) {
	st := rt.trades.State()
	if st == nil || rt.meta == nil {
		return
	}
	gross := rt.meta.BookedPnL + (action.Price-st.EntryPremium)*float64(action.Quantity)
	costs := rt.cfg.Trading.CostPerLot * float64(rt.meta.Lots) * 2
	pnl := gross - costs

	rt.portfolio.RecordTradeResult(pnl, now)
	rt.metrics.Record(perf.TradeRecord{
		TradeID:      st.TradeID,
		Symbol:       rt.cfg.Trading.Symbol,
		Regime:       rt.meta.Regime,
		Profile:      rt.meta.Profile,
		Direction:    rt.meta.Direction,
		EntryPremium: st.EntryPremium,
		ExitPremium:  action.Price,
		Quantity:     st.Quantity,
		PnL:          pnl,
		MFE:          st.MFE,
		MAE:          st.MAE,
		Costs:        costs,
		ExitReason:   action.Reason,
		OpenedAt:     st.OpenedAt,
		ClosedAt:     now,
	})
	rt.selector.RecordTradeResult(rt.meta.Profile, pnl, st.MAE*float64(st.Quantity))

	observ.IncCounter("trades_closed_total", map[string]string{
		"reason": string(action.Reason), "profile": string(rt.meta.Profile),
	})
	observ.Log("trade_settled", map[string]any{
		"trade_id": st.TradeID, "pnl": pnl, "gross": gross, "costs": costs,
		"reason": string(action.Reason),
	})

	rt.trades.Clear()
	rt.sim = nil
	rt.meta = nil
	rt.persistAllLocked()
}

// afterHours flushes learning and squares off anything left open once the
// session window has closed.
func (rt *Runtime) afterHours(now time.Time) {
	rt.mu.Lock()
	if st := rt.trades.State(); st != nil && st.Status != risk.StatusClosed {
		premium := st.EntryPremium
		if rt.meta != nil && rt.meta.LastPremium > 0 {
			premium = rt.meta.LastPremium
		}
		if action, err := rt.trades.CloseManual(risk.ExitTimeSquareOff, premium); err == nil {
			rt.finalizeLocked(action, now)
		}
	}
	rt.mu.Unlock()

	rt.stateMu.Lock()
	flushed := rt.eodFlushed
	rt.eodFlushed = true
	date := rt.sessionDate
	rt.stateMu.Unlock()
	if !flushed && date != "" {
		rt.selector.FlushDay()
		rt.metrics.DailyReport(date)
		rt.persistAll()
		observ.Log("end_of_day_flush", map[string]any{"date": date})
	}
}

// rollSession re-arms stores and signal state on the first cycle of a new
// trading day.
func (rt *Runtime) rollSession(now time.Time) {
	date := rt.cal.DateKey(now)
	rt.stateMu.Lock()
	if rt.sessionDate == date {
		rt.stateMu.Unlock()
		return
	}
	rt.sessionDate = date
	rt.eodFlushed = false
	rt.stateMu.Unlock()

	rt.marketStore.ResetSession(rt.cal.SessionStart(now))
	rt.optionStore.Reset()
	rt.momentum.ResetSession()
	observ.Log("session_started", map[string]any{"date": date})
}

// recordPremiumCandleLocked appends a per-tick premium candle so the option
// store's ATR proxy tracks the live contract. Caller holds mu.
func (rt *Runtime) recordPremiumCandleLocked(premium float64, bar *adapters.PriceBar) {
	prev := rt.meta.LastPremium
	if prev <= 0 {
		prev = premium
	}
	spread := rt.sim.SpreadPct() / 100 * premium
	_ = rt.optionStore.AddCandle(rt.meta.Side, market.PremiumCandle{
		Timestamp: bar.Timestamp,
		Open:      prev,
		High:      math.Max(prev, premium),
		Low:       math.Min(prev, premium),
		Close:     premium,
		Volume:    bar.Volume,
		Bid:       premium - spread/2,
		Ask:       premium + spread/2,
		IV:        rt.sim.IV,
	})
}

func (rt *Runtime) threeCandleRange() float64 {
	cs := rt.marketStore.Candles(3)
	if len(cs) == 0 {
		return 0
	}
	hi, lo := cs[0].High, cs[0].Low
	for _, c := range cs {
		if c.High > hi {
			hi = c.High
		}
		if c.Low < lo {
			lo = c.Low
		}
	}
	return hi - lo
}

func (rt *Runtime) avgVolume() float64 {
	cs := rt.marketStore.Candles(avgVolumeLookback)
	if len(cs) == 0 {
		return 0
	}
	var sum float64
	for _, c := range cs {
		sum += float64(c.Volume)
	}
	return sum / float64(len(cs))
}

func (rt *Runtime) lastCandleVolume() int64 {
	cs := rt.marketStore.Candles(1)
	if len(cs) == 0 {
		return 0
	}
	return cs[0].Volume
}

// persistAll / persistLedger write the three documents best-effort; a failed
// write is logged and retried on the next successful cycle.
func (rt *Runtime) persistAll() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.persistAllLocked()
}

func (rt *Runtime) persistAllLocked() {
	rt.persistLedgerLocked()
	budget := time.Duration(rt.cfg.Store.WriteBudgetMs) * time.Millisecond
	if err := rt.snapshots.SaveTimed(store.DocLearning, rt.selector.Snapshot(), budget); err != nil {
		observ.LogError("persist_failed", err, map[string]any{"doc": store.DocLearning})
	}
	if err := rt.snapshots.SaveTimed(store.DocMetrics, rt.metrics.Snapshot(), budget); err != nil {
		observ.LogError("persist_failed", err, map[string]any{"doc": store.DocMetrics})
	}
}

func (rt *Runtime) persistLedgerLocked() {
	doc := ledgerDoc{
		Version:    1,
		Portfolio:  rt.portfolio.Snapshot(),
		IcebergLog: rt.icebergLog,
		UpdatedAt:  time.Now().UTC(),
	}
	if st := rt.trades.State(); st != nil && st.Status != risk.StatusClosed {
		doc.ActiveTrade = st
		doc.ActiveMeta = rt.meta
	}
	budget := time.Duration(rt.cfg.Store.WriteBudgetMs) * time.Millisecond
	if err := rt.snapshots.SaveTimed(store.DocLedger, doc, budget); err != nil {
		observ.LogError("persist_failed", err, map[string]any{"doc": store.DocLedger})
	}
}

// paperFill fills a slice at its offered price (paper trading fill model).
func paperFill(_ context.Context, _ *execution.IcebergOrder, slice execution.Slice) (int, float64, error) {
	return slice.Quantity, slice.Price, nil
}

func barToCandle(b *adapters.PriceBar) market.Candle {
	c := market.Candle{
		Timestamp: b.Timestamp,
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Last,
		Volume:    b.Volume,
	}
	if c.Open <= 0 {
		c.Open = b.Last
	}
	if c.High <= 0 || c.High < c.Close {
		c.High = math.Max(c.Open, c.Close)
	}
	if c.Low <= 0 || c.Low > c.Close {
		c.Low = math.Min(c.Open, c.Close)
	}
	return c
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
