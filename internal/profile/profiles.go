package profile

// ID names a parameter profile in the fixed library.
type ID string

const (
	Conservative ID = "conservative"
	Balanced     ID = "balanced"
	Aggressive   ID = "aggressive"
	Scalper      ID = "scalper"
)

// Params is an immutable per-cycle parameter set. Selected once per trading
// decision and never mutated mid-trade.
type Params struct {
	ID ID `json:"id"`

	// Entry strictness
	ConfirmationCandles int     `json:"confirmation_candles"`
	MinVolumeSpike      float64 `json:"min_volume_spike"`
	MinOIChangePct      float64 `json:"min_oi_change_pct"`
	ConfidenceFloor     float64 `json:"confidence_floor"`

	// Exit parameters (percent values are fractions, e.g. 0.10 = 10%)
	SLMode       string  `json:"sl_mode"` // "percent" | "atr"
	SLPct        float64 `json:"sl_pct"`
	SLATRMult    float64 `json:"sl_atr_mult"`
	TP1Pct       float64 `json:"tp1_pct"`
	BookFraction float64 `json:"book_fraction"`
	TrailATRMult float64 `json:"trail_atr_mult"`
	MinTrailPct  float64 `json:"min_trail_pct"`
}

// Library returns the fixed set of named profiles. The map is rebuilt per
// call so callers cannot mutate shared state.
func Library() map[ID]Params {
	return map[ID]Params{
		Conservative: {
			ID:                  Conservative,
			ConfirmationCandles: 3,
			MinVolumeSpike:      1.5,
			MinOIChangePct:      3.0,
			ConfidenceFloor:     75,
			SLMode:              "percent",
			SLPct:               0.08,
			SLATRMult:           1.2,
			TP1Pct:              0.10,
			BookFraction:        0.6,
			TrailATRMult:        1.0,
			MinTrailPct:         0.05,
		},
		Balanced: {
			ID:                  Balanced,
			ConfirmationCandles: 2,
			MinVolumeSpike:      1.3,
			MinOIChangePct:      2.0,
			ConfidenceFloor:     65,
			SLMode:              "percent",
			SLPct:               0.10,
			SLATRMult:           1.5,
			TP1Pct:              0.12,
			BookFraction:        0.5,
			TrailATRMult:        1.2,
			MinTrailPct:         0.06,
		},
		Aggressive: {
			ID:                  Aggressive,
			ConfirmationCandles: 1,
			MinVolumeSpike:      1.2,
			MinOIChangePct:      1.5,
			ConfidenceFloor:     55,
			SLMode:              "atr",
			SLPct:               0.12,
			SLATRMult:           1.8,
			TP1Pct:              0.15,
			BookFraction:        0.4,
			TrailATRMult:        1.5,
			MinTrailPct:         0.08,
		},
		Scalper: {
			ID:                  Scalper,
			ConfirmationCandles: 1,
			MinVolumeSpike:      1.4,
			MinOIChangePct:      2.5,
			ConfidenceFloor:     70,
			SLMode:              "percent",
			SLPct:               0.06,
			SLATRMult:           1.0,
			TP1Pct:              0.07,
			BookFraction:        0.7,
			TrailATRMult:        0.8,
			MinTrailPct:         0.04,
		},
	}
}

// Valid reports whether id names a profile in the library.
func Valid(id ID) bool {
	_, ok := Library()[id]
	return ok
}
