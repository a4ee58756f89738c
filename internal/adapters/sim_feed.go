package adapters

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// SimFeed is the tertiary price source: a random walk around a base level.
// It never fails, so the fallback chain always terminates with a bar.
type SimFeed struct {
	mu         sync.Mutex
	symbol     string
	last       float64
	volatility float64 // daily volatility as decimal
	baseVolume int64
	drift      float64 // per-fetch drift fraction, settable for scenarios
	rng        *rand.Rand
}

// NewSimFeed seeds the walk at basePrice.
func NewSimFeed(symbol string, basePrice, dailyVolatility float64, baseVolume int64) *SimFeed {
	if dailyVolatility <= 0 {
		dailyVolatility = 0.01
	}
	if baseVolume <= 0 {
		baseVolume = 250000
	}
	return &SimFeed{
		symbol:     symbol,
		last:       basePrice,
		volatility: dailyVolatility,
		baseVolume: baseVolume,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetDrift biases the walk (positive trends up); used by replay scenarios.
func (s *SimFeed) SetDrift(perFetchFraction float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drift = perFetchFraction
}

func (s *SimFeed) Name() string { return "sim" }

// Fetch advances the walk one step and returns the new bar.
func (s *SimFeed) Fetch(ctx context.Context) (*PriceBar, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Scale daily volatility down to a per-fetch step.
	step := s.volatility / math.Sqrt(375) // minutes in a session
	move := s.rng.NormFloat64()*step + s.drift
	open := s.last
	s.last *= 1 + move

	hi := math.Max(open, s.last) * (1 + s.rng.Float64()*step/2)
	lo := math.Min(open, s.last) * (1 - s.rng.Float64()*step/2)
	vol := int64(float64(s.baseVolume) * (0.7 + s.rng.Float64()*0.6))

	return &PriceBar{
		Symbol:    s.symbol,
		Last:      s.last,
		Open:      open,
		High:      hi,
		Low:       lo,
		Close:     s.last,
		Volume:    vol,
		Timestamp: time.Now().UTC(),
		Source:    s.Name(),
	}, nil
}

func (s *SimFeed) Close() error { return nil }
