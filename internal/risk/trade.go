package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/arjunmehta14/options-engine/internal/observ"
	"github.com/arjunmehta14/options-engine/internal/profile"
	"github.com/arjunmehta14/options-engine/internal/signal"
)

// ExitReason is the terminal reason a position closed.
type ExitReason string

const (
	ExitNone            ExitReason = ""
	ExitSLHit           ExitReason = "SL_HIT"
	ExitTP1             ExitReason = "TP1_HIT"
	ExitTrailingSL      ExitReason = "TRAILING_SL"
	ExitMomentumFailure ExitReason = "MOMENTUM_FAILURE"
	ExitTimeSquareOff   ExitReason = "TIME_SQUAREOFF"
	ExitDailyLossCap    ExitReason = "DAILY_LOSS_CAP"
	ExitCooldown        ExitReason = "COOLDOWN"
	ExitManual          ExitReason = "MANUAL"
)

// TradeStatus is the per-trade state machine position.
type TradeStatus string

const (
	StatusOpen     TradeStatus = "OPEN"
	StatusTrailing TradeStatus = "TRAILING"
	StatusClosed   TradeStatus = "CLOSED"
)

// ActionType is what the tick decided.
type ActionType string

const (
	ActionHold    ActionType = "HOLD"
	ActionBookTP1 ActionType = "BOOK_TP1"
	ActionExit    ActionType = "EXIT"
)

// Action is the outcome of one UpdateTick.
type Action struct {
	Type     ActionType
	Reason   ExitReason
	Quantity int     // quantity to book/exit
	Price    float64 // premium the action fires at
}

// TrailState is the serializable per-open-position risk state. Owned
// exclusively by the trade manager; one instance per open trade.
type TrailState struct {
	TradeID       string           `json:"trade_id"`
	Direction     signal.Direction `json:"direction"`
	EntryPremium  float64          `json:"entry_premium"`
	EntrySpot     float64          `json:"entry_spot"`
	BreakoutLevel float64          `json:"breakout_level"`
	EntryVolume   int64            `json:"entry_volume"`
	Quantity      int              `json:"quantity"`
	RemainingQty  int              `json:"remaining_qty"`
	Peak          float64          `json:"peak"`
	Trough        float64          `json:"trough"`
	MFE           float64          `json:"mfe"`
	MAE           float64          `json:"mae"`
	InitialSL     float64          `json:"initial_sl"`
	CurrentSL     float64          `json:"current_sl"`
	TP1           float64          `json:"tp1"`
	TP1Hit        bool             `json:"tp1_hit"`
	StaleTicks    int              `json:"stale_ticks"`
	Status        TradeStatus      `json:"status"`
	OpenedAt      time.Time        `json:"opened_at"`
	Profile       profile.Params   `json:"profile"`
}

// Config holds the trade-level risk thresholds.
type Config struct {
	// Momentum-failure detection
	StaleTickLimit       int     `yaml:"stale_tick_limit"`
	VolumeCollapseRatio  float64 `yaml:"volume_collapse_ratio"`
	StagnantBandPct      float64 `yaml:"stagnant_band_pct"`
	ZoneReentryBufferPct float64 `yaml:"zone_reentry_buffer_pct"`

	// Late-session trailing tightening
	LateSessionStartMin int     `yaml:"late_session_start_min"`
	LateTrailFactor     float64 `yaml:"late_trail_factor"`
}

// Normalize fills defaults for unset fields.
func (c Config) Normalize() Config {
	if c.StaleTickLimit == 0 {
		c.StaleTickLimit = 3
	}
	if c.VolumeCollapseRatio == 0 {
		c.VolumeCollapseRatio = 0.4
	}
	if c.StagnantBandPct == 0 {
		c.StagnantBandPct = 0.03
	}
	if c.ZoneReentryBufferPct == 0 {
		c.ZoneReentryBufferPct = 0.0005
	}
	if c.LateSessionStartMin == 0 {
		c.LateSessionStartMin = 14*60 + 30
	}
	if c.LateTrailFactor == 0 {
		c.LateTrailFactor = 0.6
	}
	return c
}

// Tick is the per-tick market context fed to the trade manager. Premium is
// the option premium; the position is always long premium, so the stop sits
// below entry and the target above regardless of direction.
type Tick struct {
	Premium     float64
	Spot        float64
	VWAP        float64
	PremiumATR  float64
	Volume      int64
	MinuteOfDay int
}

// TradeManager runs the per-trade state machine
// OPEN -> (TP1_HIT ->) TRAILING -> CLOSED.
type TradeManager struct {
	mu    sync.Mutex
	cfg   Config
	state *TrailState

	vwapRecrossed bool
	entryVWAPSide int // +1 spot above VWAP at entry, -1 below
}

// NewTradeManager creates a manager with normalized config.
func NewTradeManager(cfg Config) *TradeManager {
	return &TradeManager{cfg: cfg.Normalize()}
}

// Open initializes risk state for a new position. SL comes from the profile:
// a fixed percentage of entry premium, or entry minus a multiple of premium
// ATR when the profile asks for ATR mode and an ATR is available.
func (tm *TradeManager) Open(tradeID string, dir signal.Direction, entryPremium, entrySpot, breakoutLevel, vwap, premiumATR float64, entryVolume int64, qty int, p profile.Params, now time.Time) (*TrailState, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.state != nil && tm.state.Status != StatusClosed {
		return nil, fmt.Errorf("trade %s still open", tm.state.TradeID)
	}
	if entryPremium <= 0 || qty <= 0 {
		return nil, fmt.Errorf("invalid entry: premium=%.2f qty=%d", entryPremium, qty)
	}

	sl := entryPremium * (1 - p.SLPct)
	if p.SLMode == "atr" && premiumATR > 0 {
		sl = entryPremium - premiumATR*p.SLATRMult
	}
	if sl < 0 {
		sl = 0
	}
	if sl >= entryPremium {
		return nil, fmt.Errorf("stop %.2f would not be below entry %.2f", sl, entryPremium)
	}

	st := &TrailState{
		TradeID:       tradeID,
		Direction:     dir,
		EntryPremium:  entryPremium,
		EntrySpot:     entrySpot,
		BreakoutLevel: breakoutLevel,
		EntryVolume:   entryVolume,
		Quantity:      qty,
		RemainingQty:  qty,
		Peak:          entryPremium,
		Trough:        entryPremium,
		InitialSL:     sl,
		CurrentSL:     sl,
		TP1:           entryPremium * (1 + p.TP1Pct),
		Status:        StatusOpen,
		OpenedAt:      now,
		Profile:       p,
	}
	tm.state = st
	tm.vwapRecrossed = false
	tm.entryVWAPSide = 1
	if entrySpot < vwap {
		tm.entryVWAPSide = -1
	}

	observ.Log("trade_risk_opened", map[string]any{
		"trade_id": tradeID, "entry": entryPremium, "sl": sl, "tp1": st.TP1, "qty": qty,
		"profile": string(p.ID),
	})
	return st, nil
}

// State returns a copy of the current trail state, or nil when flat.
func (tm *TradeManager) State() *TrailState {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.state == nil {
		return nil
	}
	cp := *tm.state
	return &cp
}

// Restore reloads a persisted open position (crash recovery).
func (tm *TradeManager) Restore(st TrailState) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	cp := st
	tm.state = &cp
}

// UpdateTick advances MFE/MAE, checks SL/TP1, trails after TP1 and detects
// momentum failure. Exactly one action is returned per tick.
func (tm *TradeManager) UpdateTick(t Tick) (Action, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	st := tm.state
	if st == nil || st.Status == StatusClosed {
		return Action{Type: ActionHold}, fmt.Errorf("no open trade")
	}
	if t.Premium <= 0 {
		return Action{Type: ActionHold}, fmt.Errorf("invalid premium %.2f", t.Premium)
	}

	// Excursions from the running peak/trough.
	if t.Premium > st.Peak {
		st.Peak = t.Premium
		st.StaleTicks = 0
	} else {
		st.StaleTicks++
	}
	if t.Premium < st.Trough {
		st.Trough = t.Premium
	}
	st.MFE = st.Peak - st.EntryPremium
	st.MAE = st.EntryPremium - st.Trough

	// VWAP re-cross is sticky for the life of the trade.
	side := 1
	if t.Spot < t.VWAP {
		side = -1
	}
	if side != tm.entryVWAPSide {
		tm.vwapRecrossed = true
	}

	// Stop-loss first: the hard exit always wins over everything below.
	if t.Premium <= st.CurrentSL {
		reason := ExitSLHit
		if st.TP1Hit {
			reason = ExitTrailingSL
		}
		return tm.closeLocked(reason, t.Premium), nil
	}

	// Momentum failure before TP1 only; after TP1 the trail handles decay.
	if !st.TP1Hit {
		if failed, why := tm.momentumFailed(t); failed {
			observ.IncCounter("momentum_failure_exits_total", map[string]string{"cause": why})
			return tm.closeLocked(ExitMomentumFailure, t.Premium), nil
		}
	}

	// TP1: book the configured fraction, the remainder becomes the runner.
	if !st.TP1Hit && t.Premium >= st.TP1 {
		st.TP1Hit = true
		st.Status = StatusTrailing
		book := int(math.Round(float64(st.Quantity) * st.Profile.BookFraction))
		if book < 1 {
			book = 1
		}
		if book >= st.RemainingQty {
			book = st.RemainingQty
		}
		st.RemainingQty -= book
		// Runner never gives back more than entry.
		tm.tightenStop(st.EntryPremium, t.Premium)
		observ.Log("tp1_booked", map[string]any{
			"trade_id": st.TradeID, "premium": t.Premium, "booked": book, "remaining": st.RemainingQty,
		})
		// A booking fraction that rounds to the whole position is a full
		// exit at target, not a trail-out.
		if st.RemainingQty == 0 {
			st.Status = StatusClosed
			return Action{Type: ActionExit, Reason: ExitTP1, Quantity: book, Price: t.Premium}, nil
		}
		return Action{Type: ActionBookTP1, Quantity: book, Price: t.Premium}, nil
	}

	// Trailing stop once TP1 has fired: greater of the ATR trail and the
	// minimum-percentage trail from the peak, tightened late in the session.
	if st.TP1Hit {
		minTrail := st.Profile.MinTrailPct
		if t.MinuteOfDay >= tm.cfg.LateSessionStartMin {
			minTrail *= tm.cfg.LateTrailFactor
		}
		candidate := st.Peak * (1 - minTrail)
		if t.PremiumATR > 0 {
			atrTrail := st.Peak - t.PremiumATR*st.Profile.TrailATRMult
			if atrTrail > candidate {
				candidate = atrTrail
			}
		}
		tm.tightenStop(candidate, t.Premium)
	}

	return Action{Type: ActionHold}, nil
}

// tightenStop raises the stop to candidate. Stops only move up and never
// cross the current premium.
func (tm *TradeManager) tightenStop(candidate, premium float64) {
	st := tm.state
	if candidate <= st.CurrentSL {
		return
	}
	if candidate >= premium {
		return
	}
	st.CurrentSL = candidate
}

// momentumFailed checks the three failure conditions: spot back inside the
// pre-breakout zone, a stale premium with VWAP re-crossed, or a volume
// collapse while the premium stagnates near entry.
func (tm *TradeManager) momentumFailed(t Tick) (bool, string) {
	st := tm.state

	if st.BreakoutLevel > 0 {
		buffer := st.BreakoutLevel * tm.cfg.ZoneReentryBufferPct
		reentered := false
		if st.Direction == signal.Bull {
			reentered = t.Spot < st.BreakoutLevel-buffer
		} else {
			reentered = t.Spot > st.BreakoutLevel+buffer
		}
		if reentered {
			return true, "zone_reentry"
		}
	}

	if st.StaleTicks >= tm.cfg.StaleTickLimit && tm.vwapRecrossed &&
		t.Premium < st.EntryPremium*(1+tm.cfg.StagnantBandPct) {
		return true, "stale_premium_vwap_recross"
	}

	if st.EntryVolume > 0 && t.Volume > 0 &&
		float64(t.Volume) < float64(st.EntryVolume)*tm.cfg.VolumeCollapseRatio &&
		math.Abs(t.Premium-st.EntryPremium) < st.EntryPremium*tm.cfg.StagnantBandPct {
		return true, "volume_collapse_stagnant"
	}

	return false, ""
}

// CloseManual force-closes the position (square-off, manual exit, caps).
func (tm *TradeManager) CloseManual(reason ExitReason, premium float64) (Action, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.state == nil || tm.state.Status == StatusClosed {
		return Action{}, fmt.Errorf("no open trade")
	}
	return tm.closeLocked(reason, premium), nil
}

func (tm *TradeManager) closeLocked(reason ExitReason, premium float64) Action {
	st := tm.state
	qty := st.RemainingQty
	st.RemainingQty = 0
	st.Status = StatusClosed
	observ.Log("trade_risk_closed", map[string]any{
		"trade_id": st.TradeID, "reason": string(reason), "premium": premium,
		"mfe": st.MFE, "mae": st.MAE,
	})
	return Action{Type: ActionExit, Reason: reason, Quantity: qty, Price: premium}
}

// Clear drops the closed state so the next trade can open.
func (tm *TradeManager) Clear() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.state = nil
}
