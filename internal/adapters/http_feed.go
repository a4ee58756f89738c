package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// HTTPFeed is the secondary price source: a polled JSON quote endpoint with
// a client-side rate limit so the upstream never throttles us mid-session.
type HTTPFeed struct {
	symbol  string
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

// HTTPFeedConfig configures the polling source.
type HTTPFeedConfig struct {
	URL            string  `yaml:"url"`
	TimeoutMs      int     `yaml:"timeout_ms"`
	RequestsPerSec float64 `yaml:"requests_per_sec"`
}

// NewHTTPFeed builds the feed with sane defaults.
func NewHTTPFeed(symbol string, cfg HTTPFeedConfig) *HTTPFeed {
	if cfg.TimeoutMs == 0 {
		cfg.TimeoutMs = 3000
	}
	if cfg.RequestsPerSec == 0 {
		cfg.RequestsPerSec = 2
	}
	return &HTTPFeed{
		symbol:  symbol,
		url:     cfg.URL,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
	}
}

func (h *HTTPFeed) Name() string { return "http" }

type httpQuoteResponse struct {
	Symbol    string  `json:"symbol"`
	LastPrice float64 `json:"last_price"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume"`
	Timestamp string  `json:"timestamp"`
}

// Fetch polls the endpoint once, respecting the rate limit and ctx deadline.
func (h *HTTPFeed) Fetch(ctx context.Context) (*PriceBar, error) {
	if !h.limiter.Allow() {
		return nil, &FeedError{Feed: h.Name(), Type: "rate_limit", Message: "client-side limit reached"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s?symbol=%s", h.url, h.symbol), nil)
	if err != nil {
		return nil, &FeedError{Feed: h.Name(), Type: "network", Message: "build request", Cause: err}
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &FeedError{Feed: h.Name(), Type: "network", Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &FeedError{Feed: h.Name(), Type: "rate_limit", Message: "upstream throttled"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &FeedError{Feed: h.Name(), Type: "network", Message: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	var body httpQuoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &FeedError{Feed: h.Name(), Type: "decode", Message: "bad payload", Cause: err}
	}

	ts, err := time.Parse(time.RFC3339, body.Timestamp)
	if err != nil {
		ts = time.Now().UTC()
	}
	bar := &PriceBar{
		Symbol:    h.symbol,
		Last:      body.LastPrice,
		Open:      body.Open,
		High:      body.High,
		Low:       body.Low,
		Close:     body.Close,
		Volume:    body.Volume,
		Timestamp: ts,
		Source:    h.Name(),
	}
	if err := ValidateBar(bar); err != nil {
		return nil, &FeedError{Feed: h.Name(), Type: "decode", Message: "invalid bar", Cause: err}
	}
	return bar, nil
}

func (h *HTTPFeed) Close() error { return nil }
