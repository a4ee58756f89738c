package market

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// OptionSide distinguishes the call and put series.
type OptionSide string

const (
	SideCall OptionSide = "CE"
	SidePut  OptionSide = "PE"
)

// PremiumCandle is one rolling bar of option premium with quote context.
type PremiumCandle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	IV        float64   `json:"iv"`
}

// SpreadPct is the bid/ask spread as a percentage of the mid premium.
func (p PremiumCandle) SpreadPct() float64 {
	mid := (p.Bid + p.Ask) / 2
	if mid <= 0 {
		return 0
	}
	return (p.Ask - p.Bid) / mid * 100
}

// OptionStore mirrors Store for option premiums, one ring per side, plus an
// ATR computed directly on premium candles as the volatility proxy for
// premium-based risk sizing.
type OptionStore struct {
	mu       sync.RWMutex
	capacity int
	series   map[OptionSide][]PremiumCandle
}

// NewOptionStore creates an option premium store (DefaultWindow if capacity <= 0).
func NewOptionStore(capacity int) *OptionStore {
	if capacity <= 0 {
		capacity = DefaultWindow
	}
	return &OptionStore{
		capacity: capacity,
		series: map[OptionSide][]PremiumCandle{
			SideCall: make([]PremiumCandle, 0, capacity),
			SidePut:  make([]PremiumCandle, 0, capacity),
		},
	}
}

// AddCandle appends a premium candle for the given side, evicting the oldest
// beyond capacity.
func (s *OptionStore) AddCandle(side OptionSide, c PremiumCandle) error {
	if side != SideCall && side != SidePut {
		return fmt.Errorf("unknown option side %q", side)
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return fmt.Errorf("invalid premium candle: o=%.2f h=%.2f l=%.2f c=%.2f",
			c.Open, c.High, c.Low, c.Close)
	}
	if c.High < c.Low {
		return fmt.Errorf("premium candle high %.2f below low %.2f", c.High, c.Low)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ring := s.series[side]
	if len(ring) >= s.capacity {
		ring = append(ring[:0], ring[1:]...)
	}
	s.series[side] = append(ring, c)
	return nil
}

// Candles returns the most recent n premium candles for a side.
func (s *OptionStore) Candles(side OptionSide, n int) []PremiumCandle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ring := s.series[side]
	if n <= 0 || n > len(ring) {
		n = len(ring)
	}
	return ring[len(ring)-n:]
}

// PremiumATR averages true range over the last period premium candles.
func (s *OptionStore) PremiumATR(side OptionSide, period int) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ring := s.series[side]
	n := len(ring)
	if n == 0 {
		return 0
	}
	if period <= 0 {
		period = atrPeriod
	}
	start := n - period
	if start < 0 {
		start = 0
	}
	var sum float64
	var count int
	for i := start; i < n; i++ {
		tr := ring[i].High - ring[i].Low
		if i > 0 {
			prevClose := ring[i-1].Close
			tr = math.Max(tr, math.Max(math.Abs(ring[i].High-prevClose), math.Abs(ring[i].Low-prevClose)))
		}
		sum += tr
		count++
	}
	return sum / float64(count)
}

// LatestIV returns the implied volatility on the most recent candle, or 0.
func (s *OptionStore) LatestIV(side OptionSide) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ring := s.series[side]
	if len(ring) == 0 {
		return 0
	}
	return ring[len(ring)-1].IV
}

// LatestSpreadPct returns the spread on the most recent candle, or 0.
func (s *OptionStore) LatestSpreadPct(side OptionSide) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ring := s.series[side]
	if len(ring) == 0 {
		return 0
	}
	return ring[len(ring)-1].SpreadPct()
}

// Reset clears both series.
func (s *OptionStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for side := range s.series {
		s.series[side] = s.series[side][:0]
	}
}
