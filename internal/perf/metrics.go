package perf

import (
	"sync"
	"time"

	"github.com/arjunmehta14/options-engine/internal/profile"
	"github.com/arjunmehta14/options-engine/internal/regime"
	"github.com/arjunmehta14/options-engine/internal/risk"
	"github.com/arjunmehta14/options-engine/internal/signal"
)

// TradeRecord is one closed trade. Append-only.
type TradeRecord struct {
	TradeID      string           `json:"trade_id"`
	Symbol       string           `json:"symbol"`
	Regime       regime.Regime    `json:"regime"`
	Profile      profile.ID       `json:"profile"`
	Direction    signal.Direction `json:"direction"`
	EntryPremium float64          `json:"entry_premium"`
	ExitPremium  float64          `json:"exit_premium"`
	Quantity     int              `json:"quantity"`
	PnL          float64          `json:"pnl"`
	MFE          float64          `json:"mfe"`
	MAE          float64          `json:"mae"`
	CaptureRatio float64          `json:"capture_ratio"`
	Costs        float64          `json:"costs"`
	ExitReason   risk.ExitReason  `json:"exit_reason"`
	OpenedAt     time.Time        `json:"opened_at"`
	ClosedAt     time.Time        `json:"closed_at"`
	HoldSeconds  int              `json:"hold_seconds"`
}

// GroupStats aggregates trades for one regime or profile bucket.
type GroupStats struct {
	Trades  int     `json:"trades"`
	Wins    int     `json:"wins"`
	PnL     float64 `json:"pnl"`
	WinRate float64 `json:"win_rate"`
}

// DailyReport is the on-demand aggregation of the day's records.
type DailyReport struct {
	Date           string                    `json:"date"`
	Trades         int                       `json:"trades"`
	Wins           int                       `json:"wins"`
	Losses         int                       `json:"losses"`
	WinRate        float64                   `json:"win_rate"`
	GrossPnL       float64                   `json:"gross_pnl"`
	NetPnL         float64                   `json:"net_pnl"`
	TotalCosts     float64                   `json:"total_costs"`
	ProfitFactor   float64                   `json:"profit_factor"`
	AvgCapture     float64                   `json:"avg_capture"`
	MaxDrawdown    float64                   `json:"max_drawdown"`
	AvgHoldSeconds int                       `json:"avg_hold_seconds"`
	ByRegime       map[regime.Regime]GroupStats `json:"by_regime"`
	ByProfile      map[profile.ID]GroupStats    `json:"by_profile"`
	ByExitReason   map[risk.ExitReason]int      `json:"by_exit_reason"`
	GeneratedAt    time.Time                 `json:"generated_at"`
}

// Engine records trade outcomes and produces the daily report used both for
// operational reporting and as the bandit reward source.
type Engine struct {
	mu      sync.Mutex
	records []TradeRecord
	last    *DailyReport
}

// NewEngine creates an empty metrics engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Record appends a closed-trade record, deriving the capture ratio when
// unset (realized P&L per unit over the best unrealized excursion).
func (e *Engine) Record(r TradeRecord) {
	if r.CaptureRatio == 0 && r.MFE > 0 && r.Quantity > 0 {
		r.CaptureRatio = (r.PnL / float64(r.Quantity)) / r.MFE
	}
	if r.HoldSeconds == 0 && !r.OpenedAt.IsZero() && !r.ClosedAt.IsZero() {
		r.HoldSeconds = int(r.ClosedAt.Sub(r.OpenedAt).Seconds())
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, r)
}

// Records returns a copy of all records.
func (e *Engine) Records() []TradeRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]TradeRecord, len(e.records))
	copy(out, e.records)
	return out
}

// DailyReport aggregates the records for the given date (all records when
// date is empty) and caches the result as the last computed report.
func (e *Engine) DailyReport(date string) DailyReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	rep := DailyReport{
		Date:         date,
		ByRegime:     map[regime.Regime]GroupStats{},
		ByProfile:    map[profile.ID]GroupStats{},
		ByExitReason: map[risk.ExitReason]int{},
		GeneratedAt:  time.Now().UTC(),
	}

	var grossProfit, grossLoss, captureSum, holdSum float64
	var captured int
	var running, peak float64

	for _, r := range e.records {
		if date != "" && r.ClosedAt.Format("2006-01-02") != date {
			continue
		}
		rep.Trades++
		rep.GrossPnL += r.PnL + r.Costs
		rep.NetPnL += r.PnL
		rep.TotalCosts += r.Costs
		holdSum += float64(r.HoldSeconds)
		if r.PnL >= 0 {
			rep.Wins++
			grossProfit += r.PnL
		} else {
			rep.Losses++
			grossLoss -= r.PnL
		}
		if r.CaptureRatio != 0 {
			captureSum += r.CaptureRatio
			captured++
		}

		running += r.PnL
		if running > peak {
			peak = running
		}
		if dd := peak - running; dd > rep.MaxDrawdown {
			rep.MaxDrawdown = dd
		}

		rs := rep.ByRegime[r.Regime]
		rs.Trades++
		rs.PnL += r.PnL
		if r.PnL >= 0 {
			rs.Wins++
		}
		rs.WinRate = float64(rs.Wins) / float64(rs.Trades)
		rep.ByRegime[r.Regime] = rs

		ps := rep.ByProfile[r.Profile]
		ps.Trades++
		ps.PnL += r.PnL
		if r.PnL >= 0 {
			ps.Wins++
		}
		ps.WinRate = float64(ps.Wins) / float64(ps.Trades)
		rep.ByProfile[r.Profile] = ps

		rep.ByExitReason[r.ExitReason]++
	}

	if rep.Trades > 0 {
		rep.WinRate = float64(rep.Wins) / float64(rep.Trades)
		rep.AvgHoldSeconds = int(holdSum / float64(rep.Trades))
	}
	if captured > 0 {
		rep.AvgCapture = captureSum / float64(captured)
	}
	switch {
	case grossLoss > 0:
		rep.ProfitFactor = grossProfit / grossLoss
	case grossProfit > 0:
		// No losing trades; keep the value finite so the report encodes.
		rep.ProfitFactor = grossProfit
	}

	e.last = &rep
	return rep
}

// LastReport returns the most recently computed report, or nil.
func (e *Engine) LastReport() *DailyReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return nil
	}
	cp := *e.last
	return &cp
}

// SnapshotState is the persisted metrics document body.
type SnapshotState struct {
	Version int           `json:"version"`
	Records []TradeRecord `json:"records"`
	Last    *DailyReport  `json:"last_report,omitempty"`
}

// Snapshot exports records and the last report for persistence.
func (e *Engine) Snapshot() SnapshotState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := SnapshotState{Version: 1, Records: make([]TradeRecord, len(e.records)), Last: e.last}
	copy(out.Records, e.records)
	return out
}

// Restore replaces records from a persisted snapshot.
func (e *Engine) Restore(snap SnapshotState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records[:0], snap.Records...)
	e.last = snap.Last
}
