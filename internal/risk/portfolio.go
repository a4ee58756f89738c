package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/arjunmehta14/options-engine/internal/observ"
)

// PortfolioConfig holds the portfolio-level admission thresholds.
type PortfolioConfig struct {
	Capital              float64 `yaml:"capital"`
	DailyLossCapPct      float64 `yaml:"daily_loss_cap_pct"`
	MaxTradesPerDay      int     `yaml:"max_trades_per_day"`
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
	CooldownMinutes      int     `yaml:"cooldown_minutes"`
}

// Normalize fills defaults for unset fields.
func (c PortfolioConfig) Normalize() PortfolioConfig {
	if c.Capital == 0 {
		c.Capital = 100000
	}
	if c.DailyLossCapPct == 0 {
		c.DailyLossCapPct = 2.0
	}
	if c.MaxTradesPerDay == 0 {
		c.MaxTradesPerDay = 6
	}
	if c.MaxConsecutiveLosses == 0 {
		c.MaxConsecutiveLosses = 3
	}
	if c.CooldownMinutes == 0 {
		c.CooldownMinutes = 30
	}
	return c
}

// PortfolioState is the process-wide daily risk state. It persists across
// restarts via snapshot and resets once per trading day.
type PortfolioState struct {
	Version           int       `json:"version"`
	Date              string    `json:"date"`
	Capital           float64   `json:"capital"`
	DailyPnL          float64   `json:"daily_pnl"`
	TradeCount        int       `json:"trade_count"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	CooldownUntil     time.Time `json:"cooldown_until"`
	KillSwitch        bool      `json:"kill_switch"`
	KillReason        string    `json:"kill_reason,omitempty"`
}

// Portfolio enforces portfolio-level admission control: kill switch, daily
// loss cap, consecutive-loss cooldown and the daily trade-count cap.
type Portfolio struct {
	mu    sync.Mutex
	cfg   PortfolioConfig
	state PortfolioState
}

// NewPortfolio creates portfolio risk state for the given day.
func NewPortfolio(cfg PortfolioConfig, now time.Time) *Portfolio {
	cfg = cfg.Normalize()
	return &Portfolio{
		cfg: cfg,
		state: PortfolioState{
			Version: 1,
			Date:    now.Format("2006-01-02"),
			Capital: cfg.Capital,
		},
	}
}

// CheckCanTrade decides whether a new position may open. The returned reason
// is a structured rejection string when not allowed. Crossing the daily loss
// cap here trips the kill switch as a side effect.
func (p *Portfolio) CheckCanTrade(now time.Time) (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.rollDayLocked(now)

	if p.state.KillSwitch {
		return false, "kill_switch_active"
	}

	capAmount := p.state.Capital * p.cfg.DailyLossCapPct / 100
	if p.state.DailyPnL <= -capAmount {
		p.state.KillSwitch = true
		p.state.KillReason = "daily_loss_cap"
		observ.IncCounter("kill_switch_trips_total", map[string]string{"cause": "daily_loss_cap"})
		observ.Log("kill_switch_tripped", map[string]any{
			"daily_pnl": p.state.DailyPnL, "cap": capAmount,
		})
		return false, "daily_loss_cap"
	}

	if now.Before(p.state.CooldownUntil) {
		remaining := int(p.state.CooldownUntil.Sub(now).Seconds())
		return false, fmt.Sprintf("cooldown_active_%ds", remaining)
	}

	if p.state.TradeCount >= p.cfg.MaxTradesPerDay {
		return false, "daily_trade_cap"
	}

	return true, "admission_cleared"
}

// RecordTradeResult folds a closed trade into daily counters, advancing the
// consecutive-loss count and arming the cooldown when it hits the limit.
func (p *Portfolio) RecordTradeResult(pnl float64, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.rollDayLocked(now)

	p.state.DailyPnL += pnl
	p.state.TradeCount++

	if pnl < 0 {
		p.state.ConsecutiveLosses++
		if p.state.ConsecutiveLosses >= p.cfg.MaxConsecutiveLosses {
			p.state.CooldownUntil = now.Add(time.Duration(p.cfg.CooldownMinutes) * time.Minute)
			observ.IncCounter("loss_cooldowns_armed_total", nil)
			observ.Log("loss_cooldown_armed", map[string]any{
				"consecutive_losses": p.state.ConsecutiveLosses,
				"until":              p.state.CooldownUntil,
			})
		}
	} else {
		p.state.ConsecutiveLosses = 0
	}

	observ.SetGauge("portfolio_daily_pnl", p.state.DailyPnL, nil)
	observ.SetGauge("portfolio_trade_count", float64(p.state.TradeCount), nil)
}

// rollDayLocked resets daily state on the first touch of a new trading day.
func (p *Portfolio) rollDayLocked(now time.Time) {
	today := now.Format("2006-01-02")
	if p.state.Date == today {
		return
	}
	// Carry realized P&L into capital across the day boundary.
	p.state.Capital += p.state.DailyPnL
	p.state = PortfolioState{
		Version: p.state.Version,
		Date:    today,
		Capital: p.state.Capital,
	}
	observ.Log("portfolio_day_reset", map[string]any{"date": today, "capital": p.state.Capital})
}

// KillSwitchActive reports the kill switch flag.
func (p *Portfolio) KillSwitchActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.KillSwitch
}

// Reset clears the day's risk state but keeps capital (manual operator
// action through the control surface).
func (p *Portfolio) Reset(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = PortfolioState{
		Version: p.state.Version + 1,
		Date:    now.Format("2006-01-02"),
		Capital: p.state.Capital,
	}
	observ.Log("portfolio_reset", map[string]any{"capital": p.state.Capital})
}

// Snapshot returns a copy of the current state for persistence.
func (p *Portfolio) Snapshot() PortfolioState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Restore replaces state from a persisted snapshot.
func (p *Portfolio) Restore(st PortfolioState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st.Capital <= 0 {
		st.Capital = p.cfg.Capital
	}
	p.state = st
}
