package signal

import (
	"math"
	"sync"

	"github.com/arjunmehta14/options-engine/internal/market"
	"github.com/arjunmehta14/options-engine/internal/observ"
	"github.com/arjunmehta14/options-engine/internal/profile"
)

// Direction of the momentum signal.
type Direction string

const (
	Bull Direction = "BULL"
	Bear Direction = "BEAR"
	None Direction = "NONE"
)

// EntryMode says how the entry was qualified.
type EntryMode string

const (
	ModeConfirm EntryMode = "BREAKOUT_CONFIRM"
	ModeRetest  EntryMode = "BREAKOUT_RETEST"
)

// Component score caps.
const (
	capBreakoutDistance = 25.0
	capRangeExpansion   = 25.0
	capParticipation    = 20.0
	capTrendAlignment   = 15.0
	capCleanliness      = 15.0
)

// Config holds the engine-level thresholds; per-profile strictness
// (confirmation candles, volume spike floor) rides in on profile.Params.
type Config struct {
	MinExpansionRatio   float64 `yaml:"min_expansion_ratio"`
	VWAPMagnetRatio     float64 `yaml:"vwap_magnet_ratio"`
	MaxSpreadPctPremium float64 `yaml:"max_spread_pct_premium"`
}

// Normalize fills defaults for unset fields.
func (c Config) Normalize() Config {
	if c.MinExpansionRatio == 0 {
		c.MinExpansionRatio = 0.8
	}
	if c.VWAPMagnetRatio == 0 {
		c.VWAPMagnetRatio = 0.3
	}
	if c.MaxSpreadPctPremium == 0 {
		c.MaxSpreadPctPremium = 2.5
	}
	return c
}

// Components are the five bounded scores that sum into confidence.
type Components struct {
	BreakoutDistance float64 `json:"breakout_distance"`
	RangeExpansion   float64 `json:"range_expansion"`
	Participation    float64 `json:"participation"`
	TrendAlignment   float64 `json:"trend_alignment"`
	Cleanliness      float64 `json:"cleanliness"`
}

// Sum adds the five component scores.
func (c Components) Sum() float64 {
	return c.BreakoutDistance + c.RangeExpansion + c.Participation + c.TrendAlignment + c.Cleanliness
}

// Signal is one evaluation result. When Filtered is true the direction must
// not be acted upon regardless of confidence.
type Signal struct {
	Direction     Direction  `json:"direction"`
	Confidence    float64    `json:"confidence"`
	Components    Components `json:"components"`
	BreakoutLevel float64    `json:"breakout_level"`
	EntryMode     EntryMode  `json:"entry_mode"`
	Filtered      bool       `json:"is_filtered"`
	FilterReason  string     `json:"filter_reason,omitempty"`
}

// Input is one evaluation's market context.
type Input struct {
	Ind        market.Indicators
	LastCandle market.Candle
	AvgVolume  float64 // mean volume over the lookback, for the spike ratio

	// Options context. OI change percentages are per side; spread is % of
	// premium on the side that would be traded.
	IsOptions     bool
	CEOIChangePct float64
	PEOIChangePct float64
	SpreadPct     float64
}

// Engine scores breakouts. The only state is the confirmation counters and
// the sticky retest flags, reset at session start.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	bullConfirms int
	bearConfirms int

	// Sticky for the whole session, deliberately not reset on trade close.
	bullBrokeOut   bool
	bullPulledBack bool
	bullRetested   bool
	bearBrokeOut   bool
	bearPulledBack bool
	bearRetested   bool
}

// NewEngine creates a momentum engine with normalized config.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg.Normalize()}
}

// ResetSession clears confirmation counters and retest flags.
func (e *Engine) ResetSession() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bullConfirms, e.bearConfirms = 0, 0
	e.bullBrokeOut, e.bullPulledBack, e.bullRetested = false, false, false
	e.bearBrokeOut, e.bearPulledBack, e.bearRetested = false, false, false
}

// Evaluate scores the current minute against the breakout levels. p supplies
// the profile's entry strictness.
func (e *Engine) Evaluate(in Input, p profile.Params) Signal {
	e.mu.Lock()
	defer e.mu.Unlock()

	bullLevel := math.Max(in.Ind.ORHigh, in.Ind.High15)
	bearLevel := in.Ind.ORLow
	if in.Ind.Low15 > 0 && (bearLevel == 0 || in.Ind.Low15 < bearLevel) {
		bearLevel = in.Ind.Low15
	}
	spot := in.Ind.Spot

	var dir Direction
	var level float64
	switch {
	case bullLevel > 0 && spot > bullLevel:
		dir, level = Bull, bullLevel
	case bearLevel > 0 && spot < bearLevel:
		dir, level = Bear, bearLevel
	default:
		// No breakout: reset confirmation counters, advance retest
		// tracking, return a filtered no-signal result.
		e.trackRetest(spot, bullLevel, bearLevel)
		e.bullConfirms, e.bearConfirms = 0, 0
		return Signal{Direction: None, Filtered: true, FilterReason: "no_breakout"}
	}

	e.trackRetest(spot, bullLevel, bearLevel)
	e.advanceConfirms(dir, in.LastCandle.Close, level)

	sig := Signal{Direction: dir, BreakoutLevel: level}
	atr := in.Ind.ATR
	if atr <= 0 {
		sig.Filtered = true
		sig.FilterReason = "no_atr"
		return sig
	}

	// Component 1: breakout distance beyond the level, in ATR units.
	dist := math.Abs(spot - level)
	sig.Components.BreakoutDistance = capScore(dist/atr*50, capBreakoutDistance)

	// Component 2: range expansion of the breakout candle vs ATR. A weak
	// candle is not a breakout at all.
	expansion := in.LastCandle.Range() / atr
	if expansion < e.cfg.MinExpansionRatio {
		sig.Filtered = true
		sig.FilterReason = "low_range_expansion"
	}
	sig.Components.RangeExpansion = capScore(expansion*12.5, capRangeExpansion)

	// Component 3: participation from the volume spike plus, for options,
	// open-interest change on the matching side.
	volSpike := 0.0
	if in.AvgVolume > 0 {
		volSpike = float64(in.LastCandle.Volume) / in.AvgVolume
	}
	if !sig.Filtered && volSpike < p.MinVolumeSpike {
		sig.Filtered = true
		sig.FilterReason = "low_volume_spike"
	}
	volScore := capScore((volSpike-1)*8, 12)
	oiScore := 0.0
	if in.IsOptions {
		oiChange := in.CEOIChangePct
		if dir == Bear {
			oiChange = in.PEOIChangePct
		}
		oiScore = capScore(math.Max(0, oiChange)*1.6, 8)
	}
	sig.Components.Participation = capScore(volScore+oiScore, capParticipation)

	// Component 4: trend alignment, partial credit if only EMA agrees.
	sig.Components.TrendAlignment = trendScore(dir, in.Ind)

	// Component 5: cleanliness from VWAP distance and the wick against the
	// breakout direction.
	sig.Components.Cleanliness = cleanlinessScore(dir, in.Ind, in.LastCandle, atr)

	sig.Confidence = sig.Components.Sum()

	// Hard filters override any confidence.
	vwapDist := math.Abs(spot - in.Ind.VWAP)
	if vwapDist/atr < e.cfg.VWAPMagnetRatio {
		sig.Filtered = true
		sig.FilterReason = "vwap_magnet_proximity"
	}
	if in.IsOptions && in.SpreadPct > e.cfg.MaxSpreadPctPremium {
		sig.Filtered = true
		sig.FilterReason = "spread_too_wide"
	}

	if !sig.Filtered {
		mode, ok := e.entryMode(dir, p.ConfirmationCandles)
		if !ok {
			sig.Filtered = true
			sig.FilterReason = "awaiting_confirmation"
		} else {
			sig.EntryMode = mode
		}
	}

	observ.IncCounter("momentum_evaluations_total", map[string]string{
		"direction": string(sig.Direction),
		"filtered":  boolLabel(sig.Filtered),
	})
	return sig
}

// advanceConfirms counts consecutive closes beyond the breakout level and
// resets whenever the close falls back inside.
func (e *Engine) advanceConfirms(dir Direction, close, level float64) {
	switch dir {
	case Bull:
		if close > level {
			e.bullConfirms++
		} else {
			e.bullConfirms = 0
		}
		e.bearConfirms = 0
	case Bear:
		if close < level {
			e.bearConfirms++
		} else {
			e.bearConfirms = 0
		}
		e.bullConfirms = 0
	}
}

// trackRetest maintains the sticky pullback/reclaim flags. A pullback only
// counts after that side has broken out once; a side that pulled back inside
// its level and later reclaimed it stays retested for the rest of the
// session.
func (e *Engine) trackRetest(spot, bullLevel, bearLevel float64) {
	if bullLevel > 0 {
		switch {
		case spot > bullLevel:
			if e.bullPulledBack {
				e.bullRetested = true
			}
			e.bullBrokeOut = true
		case e.bullBrokeOut:
			e.bullPulledBack = true
		}
	}
	if bearLevel > 0 {
		switch {
		case spot < bearLevel:
			if e.bearPulledBack {
				e.bearRetested = true
			}
			e.bearBrokeOut = true
		case e.bearBrokeOut:
			e.bearPulledBack = true
		}
	}
}

// entryMode reports whether the configured qualification is satisfied.
func (e *Engine) entryMode(dir Direction, confirmCandles int) (EntryMode, bool) {
	confirms := e.bullConfirms
	retested := e.bullRetested
	if dir == Bear {
		confirms = e.bearConfirms
		retested = e.bearRetested
	}
	if confirms >= confirmCandles {
		return ModeConfirm, true
	}
	if retested {
		return ModeRetest, true
	}
	return "", false
}

func trendScore(dir Direction, ind market.Indicators) float64 {
	emaAgrees := ind.EMA > ind.VWAP
	slopeAgrees := ind.VWAPSlope > 0
	if dir == Bear {
		emaAgrees = ind.EMA < ind.VWAP
		slopeAgrees = ind.VWAPSlope < 0
	}
	switch {
	case emaAgrees && slopeAgrees:
		return capTrendAlignment
	case emaAgrees:
		return 8
	default:
		return 0
	}
}

func cleanlinessScore(dir Direction, ind market.Indicators, c market.Candle, atr float64) float64 {
	distScore := capScore(math.Abs(ind.Spot-ind.VWAP)/atr*4, 8)
	wick := c.UpperWickRatio()
	if dir == Bear {
		wick = c.LowerWickRatio()
	}
	wickScore := math.Max(0, 7*(1-2*wick))
	return capScore(distScore+wickScore, capCleanliness)
}

func capScore(v, limit float64) float64 {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Confirmations exposes the current counters for diagnostics.
func (e *Engine) Confirmations() (bull, bear int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bullConfirms, e.bearConfirms
}
