package options

import (
	"fmt"
	"math"
	"sync"

	"github.com/arjunmehta14/options-engine/internal/market"
)

const (
	// PremiumFloor keeps the simulated premium strictly positive.
	PremiumFloor = 0.05

	// IV nudges per tick, in IV points.
	breakoutIVBump = 0.25
	chopIVDecay    = 0.15

	baselineIV       = 12.0 // index option baseline, IV points
	baseSpreadPct    = 0.35 // % of premium at baseline IV and normal volume
	spreadIVWeight   = 0.04 // extra spread % per IV point above baseline
	spreadVolWeight  = 0.50 // extra spread % at zero volume ratio
	maxSpreadPctCap  = 3.0  // spread never exceeds this % of premium
	daysPerYear      = 365.0
	secondsPerDay    = 86400.0
	minIVPoints      = 1.0
	maxIVPoints      = 90.0
)

// Greeks are the price sensitivities of the simulated contract.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"` // premium decay per day, positive number
	Vega  float64 `json:"vega"`  // premium change per IV point
}

// Simulator prices a single option contract parametrically and advances it
// via discrete ticks. It substitutes for a live option chain when none is
// available.
type Simulator struct {
	mu sync.Mutex

	Side    market.OptionSide
	Strike  float64
	Spot    float64
	IV      float64 // IV points (e.g. 14.5)
	DTE     float64 // days to expiry, fractional
	Premium float64
	Spread  float64 // current modeled bid/ask spread in premium units
	greeks  Greeks
}

// NewSimulator seeds a contract and prices it from the closed form.
func NewSimulator(side market.OptionSide, spot, strike, ivPoints, dteDays float64) (*Simulator, error) {
	if spot <= 0 || strike <= 0 {
		return nil, fmt.Errorf("invalid contract: spot=%.2f strike=%.2f", spot, strike)
	}
	if dteDays <= 0 {
		return nil, fmt.Errorf("contract already expired: dte=%.3f", dteDays)
	}
	if ivPoints < minIVPoints {
		ivPoints = minIVPoints
	}
	s := &Simulator{Side: side, Strike: strike, Spot: spot, IV: ivPoints, DTE: dteDays}
	s.reprice()
	s.Spread = s.modelSpread(1.0)
	return s, nil
}

// Greeks returns the current sensitivities.
func (s *Simulator) Greeks() Greeks {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.greeks
}

// State returns premium, spread and greeks in one locked read.
func (s *Simulator) State() (premium, spread float64, g Greeks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Premium, s.Spread, s.greeks
}

// Tick advances the contract: decays expiry by elapsed seconds, nudges IV on
// breakout/chop, reprices greeks, then moves the premium by the second-order
// Taylor expansion minus half the modeled spread as friction.
func (s *Simulator) Tick(newSpot, elapsedSeconds, ivChange, volumeRatio float64, isBreakout, isChop bool) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if newSpot <= 0 {
		return s.Premium
	}
	dSpot := newSpot - s.Spot
	dtDays := elapsedSeconds / secondsPerDay
	s.DTE -= dtDays
	if s.DTE < 0 {
		s.DTE = 0
	}

	dIV := ivChange
	if isBreakout {
		dIV += breakoutIVBump
	}
	if isChop {
		dIV -= chopIVDecay
	}
	s.IV = clamp(s.IV+dIV, minIVPoints, maxIVPoints)

	s.reprice()
	g := s.greeks

	signedDelta := g.Delta
	if s.Side == market.SidePut {
		// delta is reported unsigned for puts; premium gains when spot falls
		signedDelta = -g.Delta
	}
	change := signedDelta*dSpot + 0.5*g.Gamma*dSpot*dSpot - g.Theta*dtDays + g.Vega*dIV

	s.Spot = newSpot
	s.Spread = s.modelSpread(volumeRatio)
	s.Premium += change - s.Spread/2

	if s.Premium < PremiumFloor {
		s.Premium = PremiumFloor
	}
	return s.Premium
}

// reprice computes premium seed and greeks from the closed form (no
// risk-free-rate term). At expiry or zero volatility everything collapses to
// the intrinsic-value limit.
func (s *Simulator) reprice() {
	T := s.DTE / daysPerYear
	sigma := s.IV / 100

	if T <= 0 || sigma <= 0 {
		intrinsic := s.intrinsic(s.Spot)
		delta := 0.0
		if intrinsic > 0 {
			delta = 1.0
		}
		s.greeks = Greeks{Delta: delta}
		if s.Premium == 0 || s.DTE <= 0 {
			s.Premium = math.Max(intrinsic, PremiumFloor)
		}
		return
	}

	sqrtT := math.Sqrt(T)
	d1 := (math.Log(s.Spot/s.Strike) + 0.5*sigma*sigma*T) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT
	pdf := normPDF(d1)

	var delta, price float64
	if s.Side == market.SideCall {
		delta = normCDF(d1)
		price = s.Spot*normCDF(d1) - s.Strike*normCDF(d2)
	} else {
		delta = normCDF(-d1)
		price = s.Strike*normCDF(-d2) - s.Spot*normCDF(-d1)
	}

	gamma := pdf / (s.Spot * sigma * sqrtT)
	thetaPerDay := (s.Spot * pdf * sigma) / (2 * sqrtT) / daysPerYear
	vegaPerPoint := s.Spot * pdf * sqrtT / 100

	s.greeks = Greeks{Delta: delta, Gamma: gamma, Theta: thetaPerDay, Vega: vegaPerPoint}
	if s.Premium == 0 {
		s.Premium = math.Max(price, PremiumFloor)
	}
}

// modelSpread widens with IV excess over baseline and with thin volume,
// capped as a percentage of premium.
func (s *Simulator) modelSpread(volumeRatio float64) float64 {
	pct := baseSpreadPct
	if s.IV > baselineIV {
		pct += (s.IV - baselineIV) * spreadIVWeight
	}
	if volumeRatio < 1.0 {
		if volumeRatio < 0 {
			volumeRatio = 0
		}
		pct += (1.0 - volumeRatio) * spreadVolWeight
	}
	if pct > maxSpreadPctCap {
		pct = maxSpreadPctCap
	}
	return s.Premium * pct / 100
}

// SpreadPct reports the current spread as a percentage of premium.
func (s *Simulator) SpreadPct() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Premium <= 0 {
		return 0
	}
	return s.Spread / s.Premium * 100
}

func (s *Simulator) intrinsic(spot float64) float64 {
	if s.Side == market.SideCall {
		return math.Max(0, spot-s.Strike)
	}
	return math.Max(0, s.Strike-spot)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normCDF is the standard normal cumulative distribution.
func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

// normPDF is the standard normal density.
func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}
