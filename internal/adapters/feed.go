package adapters

import (
	"context"
	"fmt"
	"time"
)

// PriceBar is a normalized underlying quote from any source.
type PriceBar struct {
	Symbol    string    `json:"symbol"`
	Last      float64   `json:"last_price"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// PriceFeed fetches the latest bar for the configured symbol. Fetch must
// honor ctx deadlines; sources that cannot answer in time return an error
// and the chain falls through.
type PriceFeed interface {
	Fetch(ctx context.Context) (*PriceBar, error)
	Name() string
	Close() error
}

// ValidateBar rejects malformed bars fail-closed before they reach a store.
func ValidateBar(b *PriceBar) error {
	if b == nil {
		return fmt.Errorf("bar is nil")
	}
	if b.Last <= 0 {
		return fmt.Errorf("invalid last price %.2f", b.Last)
	}
	if b.High > 0 && b.Low > 0 && b.High < b.Low {
		return fmt.Errorf("bar high %.2f below low %.2f", b.High, b.Low)
	}
	if b.Volume < 0 {
		return fmt.Errorf("negative volume %d", b.Volume)
	}
	if b.Timestamp.After(time.Now().Add(5 * time.Minute)) {
		return fmt.Errorf("bar timestamp in the future: %v", b.Timestamp)
	}
	return nil
}

// FeedError carries a typed fetch failure for per-source accounting.
type FeedError struct {
	Feed    string
	Type    string // "network", "stale", "rate_limit", "decode"
	Message string
	Cause   error
}

func (e *FeedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s error: %s (%v)", e.Feed, e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Feed, e.Type, e.Message)
}

func (e *FeedError) Unwrap() error { return e.Cause }
