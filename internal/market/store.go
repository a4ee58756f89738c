package market

import (
	"math"
	"sync"
	"time"

	"github.com/arjunmehta14/options-engine/internal/observ"
)

const (
	// DefaultWindow is the rolling candle capacity.
	DefaultWindow = 100

	atrPeriod       = 14
	emaPeriod       = 9
	rsiPeriod       = 7
	rollingHLPeriod = 15
	vwapSlopeLen    = 10
	emaSlopeLen     = 3
)

// Indicators is the derived snapshot recomputed atomically on every candle.
type Indicators struct {
	Spot      float64 `json:"spot"`
	ATR       float64 `json:"atr"`
	VWAP      float64 `json:"vwap"`
	VWAPSlope float64 `json:"vwap_slope"`
	EMA       float64 `json:"ema"`
	EMASlope  float64 `json:"ema_slope"`
	RSI       float64 `json:"rsi"`
	High15    float64 `json:"high_15m"`
	Low15     float64 `json:"low_15m"`
	ORHigh    float64 `json:"or_high"`
	ORLow     float64 `json:"or_low"`
	ORLocked  bool    `json:"or_locked"`
}

// Store is the rolling market-state aggregator for the underlying. All
// indicators are recomputed as pure functions of the current window, so the
// snapshot after an eviction is identical to one rebuilt from scratch on the
// same candles.
type Store struct {
	mu       sync.RWMutex
	capacity int
	candles  []Candle

	sessionStart time.Time
	orWindow     time.Duration
	orHigh       float64
	orLow        float64
	orLocked     bool

	ind Indicators
}

// NewStore creates a store with the given window capacity (DefaultWindow if <= 0).
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultWindow
	}
	return &Store{
		capacity: capacity,
		candles:  make([]Candle, 0, capacity),
		orWindow: 15 * time.Minute,
	}
}

// ResetSession clears all buffers and re-arms the opening-range window.
func (s *Store) ResetSession(sessionStart time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candles = s.candles[:0]
	s.sessionStart = sessionStart
	s.orHigh, s.orLow = 0, 0
	s.orLocked = false
	s.ind = Indicators{}
	observ.Log("market_session_reset", map[string]any{"session_start": sessionStart})
}

// AddCandle appends a candle, evicting the oldest beyond capacity, and
// recomputes the full indicator snapshot.
func (s *Store) AddCandle(c Candle) error {
	if err := Validate(c); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.candles) >= s.capacity {
		s.candles = append(s.candles[:0], s.candles[1:]...)
	}
	s.candles = append(s.candles, c)

	s.updateOpeningRange(c)
	s.ind = computeIndicators(s.candles, s.orHigh, s.orLow, s.orLocked)
	return nil
}

// updateOpeningRange accumulates the opening-range high/low during the first
// 15 minutes of session time. Once locked it never mutates again.
func (s *Store) updateOpeningRange(c Candle) {
	if s.orLocked {
		return
	}
	if !s.sessionStart.IsZero() && !c.Timestamp.Before(s.sessionStart.Add(s.orWindow)) {
		s.orLocked = true
		observ.Log("opening_range_locked", map[string]any{
			"or_high": s.orHigh, "or_low": s.orLow,
		})
		return
	}
	if s.orHigh == 0 || c.High > s.orHigh {
		s.orHigh = c.High
	}
	if s.orLow == 0 || c.Low < s.orLow {
		s.orLow = c.Low
	}
}

// Snapshot returns the current indicator set.
func (s *Store) Snapshot() Indicators {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ind
}

// Candles returns the most recent n candles (all when n <= 0 or n exceeds
// the window). Callers must not mutate the returned slice.
func (s *Store) Candles(n int) []Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.candles) {
		n = len(s.candles)
	}
	return s.candles[len(s.candles)-n:]
}

// Len reports the number of candles currently in the window.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.candles)
}

// computeIndicators derives the full snapshot from window contents. Pure:
// same window in, same snapshot out.
func computeIndicators(cs []Candle, orHigh, orLow float64, orLocked bool) Indicators {
	ind := Indicators{ORHigh: orHigh, ORLow: orLow, ORLocked: orLocked}
	n := len(cs)
	if n == 0 {
		return ind
	}
	ind.Spot = cs[n-1].Close
	ind.ATR = averageTrueRange(cs, atrPeriod)
	ind.VWAP = vwapOver(cs)
	ind.VWAPSlope = vwapSlope(cs, vwapSlopeLen)
	emas := emaSeries(cs, emaPeriod)
	ind.EMA = emas[n-1]
	if n >= emaSlopeLen {
		ind.EMASlope = (emas[n-1] - emas[n-emaSlopeLen]) / float64(emaSlopeLen-1)
	}
	ind.RSI = wilderRSI(cs, rsiPeriod)
	// The rolling levels exclude the candle being evaluated: they are the
	// prices a breakout close has to clear, and a close can never clear the
	// high of its own candle.
	ind.High15, ind.Low15 = rollingHighLow(cs[:n-1], rollingHLPeriod)
	return ind
}

func averageTrueRange(cs []Candle, period int) float64 {
	n := len(cs)
	if n == 0 {
		return 0
	}
	start := n - period
	if start < 0 {
		start = 0
	}
	var sum float64
	var count int
	for i := start; i < n; i++ {
		tr := cs[i].Range()
		if i > 0 {
			prevClose := cs[i-1].Close
			tr = math.Max(tr, math.Max(math.Abs(cs[i].High-prevClose), math.Abs(cs[i].Low-prevClose)))
		}
		sum += tr
		count++
	}
	return sum / float64(count)
}

func vwapOver(cs []Candle) float64 {
	var pv, vol float64
	for _, c := range cs {
		pv += c.TypicalPrice() * float64(c.Volume)
		vol += float64(c.Volume)
	}
	if vol == 0 {
		return cs[len(cs)-1].Close
	}
	return pv / vol
}

// vwapSlope fits a least-squares line through the last n cumulative VWAP
// samples, where sample i is the VWAP of the window prefix ending at i.
func vwapSlope(cs []Candle, n int) float64 {
	total := len(cs)
	if total < 2 {
		return 0
	}
	if n > total {
		n = total
	}
	samples := make([]float64, 0, n)
	for i := total - n; i < total; i++ {
		samples = append(samples, vwapOver(cs[:i+1]))
	}
	return linregSlope(samples)
}

func linregSlope(ys []float64) float64 {
	n := float64(len(ys))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// emaSeries seeds with the first close and smooths through the window.
func emaSeries(cs []Candle, period int) []float64 {
	out := make([]float64, len(cs))
	if len(cs) == 0 {
		return out
	}
	k := 2.0 / float64(period+1)
	out[0] = cs[0].Close
	for i := 1; i < len(cs); i++ {
		out[i] = cs[i].Close*k + out[i-1]*(1-k)
	}
	return out
}

// wilderRSI seeds average gain/loss over the first period changes, then
// applies Wilder smoothing through the rest of the window.
func wilderRSI(cs []Candle, period int) float64 {
	n := len(cs)
	if n < period+1 {
		return 50
	}
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		d := cs[i].Close - cs[i-1].Close
		if d > 0 {
			avgGain += d
		} else {
			avgLoss -= d
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	for i := period + 1; i < n; i++ {
		d := cs[i].Close - cs[i-1].Close
		gain, loss := 0.0, 0.0
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

func rollingHighLow(cs []Candle, period int) (float64, float64) {
	n := len(cs)
	if n == 0 {
		return 0, 0
	}
	start := n - period
	if start < 0 {
		start = 0
	}
	hi, lo := cs[start].High, cs[start].Low
	for _, c := range cs[start:] {
		if c.High > hi {
			hi = c.High
		}
		if c.Low < lo {
			lo = c.Low
		}
	}
	return hi, lo
}
