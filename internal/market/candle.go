package market

import (
	"fmt"
	"time"
)

// Candle is one 1-minute OHLCV bar. Immutable once appended to a store.
type Candle struct {
	Timestamp    time.Time `json:"timestamp"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	Volume       int64     `json:"volume"`
	OpenInterest int64     `json:"open_interest,omitempty"`
}

// Validate rejects malformed candles before they enter a store.
func Validate(c Candle) error {
	if c.Timestamp.IsZero() {
		return fmt.Errorf("candle has zero timestamp")
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return fmt.Errorf("invalid candle prices: o=%.2f h=%.2f l=%.2f c=%.2f",
			c.Open, c.High, c.Low, c.Close)
	}
	if c.High < c.Low {
		return fmt.Errorf("candle high %.2f below low %.2f", c.High, c.Low)
	}
	if c.Volume < 0 {
		return fmt.Errorf("negative volume: %d", c.Volume)
	}
	return nil
}

// Range is the candle's high-low span.
func (c Candle) Range() float64 { return c.High - c.Low }

// TypicalPrice is (H+L+C)/3, the VWAP contribution price.
func (c Candle) TypicalPrice() float64 { return (c.High + c.Low + c.Close) / 3 }

// Bullish reports whether the candle closed above its open.
func (c Candle) Bullish() bool { return c.Close > c.Open }

// UpperWickRatio returns the upper wick as a fraction of the full range.
func (c Candle) UpperWickRatio() float64 {
	r := c.Range()
	if r <= 0 {
		return 0
	}
	body := c.Close
	if c.Open > c.Close {
		body = c.Open
	}
	return (c.High - body) / r
}

// LowerWickRatio returns the lower wick as a fraction of the full range.
func (c Candle) LowerWickRatio() float64 {
	r := c.Range()
	if r <= 0 {
		return 0
	}
	body := c.Close
	if c.Open < c.Close {
		body = c.Open
	}
	return (body - c.Low) / r
}
