package regime

import (
	"github.com/arjunmehta14/options-engine/internal/profile"
)

// Regime labels the current minute of the session.
type Regime string

const (
	TrendOpen  Regime = "TREND_OPEN"
	TrendMid   Regime = "TREND_MID"
	TrendLate  Regime = "TREND_LATE"
	ChopOpen   Regime = "CHOP_OPEN"
	ChopMid    Regime = "CHOP_MID"
	ChopLate   Regime = "CHOP_LATE"
	RangeBound Regime = "RANGE_BOUND"
	EventSpike Regime = "EVENT_SPIKE"
)

// Config holds the classifier thresholds. Zero values are replaced by
// defaults in Normalize.
type Config struct {
	EventSpikeATRMult float64 `yaml:"event_spike_atr_mult"`
	VWAPMagnetRatio   float64 `yaml:"vwap_magnet_ratio"`
	MinMovementATR    float64 `yaml:"min_movement_atr"`
	SlopeConfirm      float64 `yaml:"slope_confirm"`

	// Session phase boundaries, minutes from midnight local session time.
	OpenPhaseEndMin  int `yaml:"open_phase_end_min"`
	LatePhaseStartMin int `yaml:"late_phase_start_min"`

	// Designated chop window; trading inside it needs high confidence.
	ChopWindowStartMin int     `yaml:"chop_window_start_min"`
	ChopWindowEndMin   int     `yaml:"chop_window_end_min"`
	ChopWindowConfBar  float64 `yaml:"chop_window_conf_bar"`
}

// Normalize fills defaults for unset fields.
func (c Config) Normalize() Config {
	if c.EventSpikeATRMult == 0 {
		c.EventSpikeATRMult = 3.0
	}
	if c.VWAPMagnetRatio == 0 {
		c.VWAPMagnetRatio = 0.5
	}
	if c.MinMovementATR == 0 {
		c.MinMovementATR = 4.0
	}
	if c.SlopeConfirm == 0 {
		c.SlopeConfirm = 0.02
	}
	if c.OpenPhaseEndMin == 0 {
		c.OpenPhaseEndMin = 10*60 + 30 // 10:30
	}
	if c.LatePhaseStartMin == 0 {
		c.LatePhaseStartMin = 14*60 + 15 // 14:15
	}
	if c.ChopWindowStartMin == 0 {
		c.ChopWindowStartMin = 11*60 + 30 // 11:30
	}
	if c.ChopWindowEndMin == 0 {
		c.ChopWindowEndMin = 13*60 + 30 // 13:30
	}
	if c.ChopWindowConfBar == 0 {
		c.ChopWindowConfBar = 85
	}
	return c
}

// Input is everything the classifier looks at for one minute.
type Input struct {
	Spot             float64
	VWAP             float64
	VWAPSlope        float64
	ATR              float64
	MinuteOfDay      int
	ThreeCandleRange float64
	// SignalConfidence is used only for the chop-window exception rule.
	SignalConfidence float64
}

// Result is the classification outcome plus the recommended profile.
type Result struct {
	Regime             Regime     `json:"regime"`
	TradingAllowed     bool       `json:"trading_allowed"`
	Reason             string     `json:"reason"`
	RecommendedProfile profile.ID `json:"recommended_profile"`
}

// Classifier is stateless per call.
type Classifier struct {
	cfg Config
}

// New creates a classifier with normalized config.
func New(cfg Config) *Classifier {
	return &Classifier{cfg: cfg.Normalize()}
}

// Classify labels the current minute. Decision order is fixed: event-spike
// beats everything, then the VWAP-magnet / dead-tape chop checks, then the
// phase-based trend labels. The chop-window exception can re-allow a chop or
// trend label on very high confidence but never an event spike.
func (c *Classifier) Classify(in Input) Result {
	res := c.classify(in)

	if res.Regime != EventSpike && c.inChopWindow(in.MinuteOfDay) {
		if in.SignalConfidence >= c.cfg.ChopWindowConfBar {
			res.TradingAllowed = true
			res.Reason = "chop_window_high_confidence_override"
		} else {
			res.TradingAllowed = false
			res.Reason = "chop_window_block"
		}
	}
	return res
}

func (c *Classifier) classify(in Input) Result {
	// 1. Event spike: a 3-candle range far beyond ATR means news or a
	// liquidity vacuum; nothing trades into that.
	if in.ATR > 0 && in.ThreeCandleRange > c.cfg.EventSpikeATRMult*in.ATR {
		return Result{
			Regime:             EventSpike,
			TradingAllowed:     false,
			Reason:             "three_candle_range_exceeds_atr_mult",
			RecommendedProfile: profile.Conservative,
		}
	}

	phase := c.phase(in.MinuteOfDay)

	// 2. Chop: price pinned to VWAP or tape too dead to pay for theta.
	vwapDist := abs(in.Spot - in.VWAP)
	magnet := in.ATR > 0 && vwapDist/in.ATR < c.cfg.VWAPMagnetRatio
	dead := in.ATR < c.cfg.MinMovementATR
	if magnet || dead {
		reason := "vwap_magnet"
		if dead {
			reason = "atr_below_movement_floor"
		}
		return Result{
			Regime:             chopLabel(phase),
			TradingAllowed:     false,
			Reason:             reason,
			RecommendedProfile: profile.Conservative,
		}
	}

	// 3. Trend by phase, confirmed by slope direction agreeing with which
	// side of VWAP price holds.
	confirmed := (in.VWAPSlope > c.cfg.SlopeConfirm && in.Spot > in.VWAP) ||
		(in.VWAPSlope < -c.cfg.SlopeConfirm && in.Spot < in.VWAP)

	if !confirmed {
		return Result{
			Regime:             RangeBound,
			TradingAllowed:     true,
			Reason:             "no_slope_confirmation",
			RecommendedProfile: profile.Scalper,
		}
	}

	switch phase {
	case phaseOpen:
		return Result{Regime: TrendOpen, TradingAllowed: true, Reason: "trend_confirmed", RecommendedProfile: profile.Aggressive}
	case phaseLate:
		return Result{Regime: TrendLate, TradingAllowed: true, Reason: "trend_confirmed", RecommendedProfile: profile.Scalper}
	default:
		return Result{Regime: TrendMid, TradingAllowed: true, Reason: "trend_confirmed", RecommendedProfile: profile.Balanced}
	}
}

type sessionPhase int

const (
	phaseOpen sessionPhase = iota
	phaseMid
	phaseLate
)

func (c *Classifier) phase(minuteOfDay int) sessionPhase {
	switch {
	case minuteOfDay < c.cfg.OpenPhaseEndMin:
		return phaseOpen
	case minuteOfDay >= c.cfg.LatePhaseStartMin:
		return phaseLate
	default:
		return phaseMid
	}
}

func (c *Classifier) inChopWindow(minuteOfDay int) bool {
	return minuteOfDay >= c.cfg.ChopWindowStartMin && minuteOfDay < c.cfg.ChopWindowEndMin
}

func chopLabel(p sessionPhase) Regime {
	switch p {
	case phaseOpen:
		return ChopOpen
	case phaseLate:
		return ChopLate
	default:
		return ChopMid
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
