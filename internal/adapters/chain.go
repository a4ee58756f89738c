package adapters

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arjunmehta14/options-engine/internal/observ"
)

// FallbackChain walks a source-priority list (stream, poll, sim) so a slow
// or failed source degrades gracefully instead of stalling the loop. The
// last good bar is cached and served when every source fails within the TTL.
type FallbackChain struct {
	feeds        []PriceFeed
	fetchTimeout time.Duration
	cacheTTL     time.Duration

	mu        sync.Mutex
	lastGood  *PriceBar
	lastGoodAt time.Time
	failures  map[string]int
}

// ChainConfig configures the fallback chain.
type ChainConfig struct {
	FetchTimeoutMs int `yaml:"fetch_timeout_ms"`
	CacheTTLMs     int `yaml:"cache_ttl_ms"`
}

// NewFallbackChain orders feeds by priority, primary first.
func NewFallbackChain(cfg ChainConfig, feeds ...PriceFeed) *FallbackChain {
	if cfg.FetchTimeoutMs == 0 {
		cfg.FetchTimeoutMs = 2500
	}
	if cfg.CacheTTLMs == 0 {
		cfg.CacheTTLMs = 60000
	}
	return &FallbackChain{
		feeds:        feeds,
		fetchTimeout: time.Duration(cfg.FetchTimeoutMs) * time.Millisecond,
		cacheTTL:     time.Duration(cfg.CacheTTLMs) * time.Millisecond,
		failures:     map[string]int{},
	}
}

// Fetch tries each source in order with a bounded timeout. A failed source
// is logged once per cycle, not retried within it.
func (fc *FallbackChain) Fetch(ctx context.Context) (*PriceBar, error) {
	for _, feed := range fc.feeds {
		fctx, cancel := context.WithTimeout(ctx, fc.fetchTimeout)
		bar, err := feed.Fetch(fctx)
		cancel()
		if err != nil {
			fc.noteFailure(feed.Name(), err)
			continue
		}
		if err := ValidateBar(bar); err != nil {
			fc.noteFailure(feed.Name(), err)
			continue
		}
		fc.noteSuccess(feed.Name(), bar)
		return bar, nil
	}

	// Every source failed: serve the cached bar while it is inside the TTL.
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.lastGood != nil && time.Since(fc.lastGoodAt) <= fc.cacheTTL {
		observ.IncCounter("feed_cache_served_total", nil)
		cp := *fc.lastGood
		cp.Source = cp.Source + "_cached"
		return &cp, nil
	}
	return nil, fmt.Errorf("all price sources failed and cache expired")
}

func (fc *FallbackChain) noteFailure(name string, err error) {
	fc.mu.Lock()
	fc.failures[name]++
	fc.mu.Unlock()
	observ.IncCounter("feed_fetch_failures_total", map[string]string{"feed": name})
	observ.Log("feed_fetch_failed", map[string]any{"feed": name, "error": err.Error()})
}

func (fc *FallbackChain) noteSuccess(name string, bar *PriceBar) {
	fc.mu.Lock()
	fc.lastGood = bar
	fc.lastGoodAt = time.Now()
	fc.failures[name] = 0
	fc.mu.Unlock()
	observ.IncCounter("feed_fetch_success_total", map[string]string{"feed": name})
}

// Health reports consecutive failure counts per source for diagnostics.
func (fc *FallbackChain) Health() map[string]int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	out := make(map[string]int, len(fc.failures))
	for k, v := range fc.failures {
		out[k] = v
	}
	return out
}

// Close closes every source.
func (fc *FallbackChain) Close() error {
	var firstErr error
	for _, f := range fc.feeds {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
