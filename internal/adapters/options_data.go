package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/arjunmehta14/options-engine/internal/observ"
)

// OptionsSnapshot is the aggregated near-ATM option context: per-side
// open-interest change and the quoted spread/IV.
type OptionsSnapshot struct {
	CEOIChangePct float64   `json:"ce_oi_change_pct"`
	PEOIChangePct float64   `json:"pe_oi_change_pct"`
	SpreadPct     float64   `json:"spread_pct"`
	IV            float64   `json:"iv"`
	Estimated     bool      `json:"estimated"`
	Timestamp     time.Time `json:"timestamp"`
}

// OptionsSource produces option-chain context snapshots.
type OptionsSource interface {
	Snapshot(ctx context.Context) (*OptionsSnapshot, error)
}

// HTTPOptionsSource polls an aggregated OI/IV endpoint.
type HTTPOptionsSource struct {
	url    string
	client *http.Client
}

// NewHTTPOptionsSource builds the source (3s default timeout).
func NewHTTPOptionsSource(url string, timeoutMs int) *HTTPOptionsSource {
	if timeoutMs == 0 {
		timeoutMs = 3000
	}
	return &HTTPOptionsSource{
		url:    url,
		client: &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
	}
}

// Snapshot fetches one aggregated snapshot.
func (h *HTTPOptionsSource) Snapshot(ctx context.Context) (*OptionsSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("options source request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("options source status %d", resp.StatusCode)
	}
	var snap OptionsSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("options source payload: %w", err)
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now().UTC()
	}
	return &snap, nil
}

// CachedOptionsSource wraps an inner source with a time-bounded cache and a
// volume-derived estimate when the source is down and the cache has aged out.
type CachedOptionsSource struct {
	inner OptionsSource
	ttl   time.Duration

	mu     sync.Mutex
	cached *OptionsSnapshot
}

// NewCachedOptionsSource wraps inner (inner may be nil: estimate-only mode).
func NewCachedOptionsSource(inner OptionsSource, ttl time.Duration) *CachedOptionsSource {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &CachedOptionsSource{inner: inner, ttl: ttl}
}

// Snapshot serves from cache inside the TTL, refreshes from the inner source
// otherwise, and falls back to the stale cache on refresh failure. It never
// returns an error; callers needing an estimate call Estimate directly.
func (c *CachedOptionsSource) Snapshot(ctx context.Context, volumeRatio float64) *OptionsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && time.Since(c.cached.Timestamp) <= c.ttl {
		return c.cached
	}
	if c.inner != nil {
		snap, err := c.inner.Snapshot(ctx)
		if err == nil {
			c.cached = snap
			return snap
		}
		observ.IncCounter("options_source_failures_total", nil)
		observ.Log("options_source_failed", map[string]any{"error": err.Error()})
		if c.cached != nil {
			// Stale beats synthetic while the day's shape is still recent.
			return c.cached
		}
	}
	est := Estimate(volumeRatio)
	c.cached = est
	return est
}

// Estimate derives a synthetic snapshot from the volume spike ratio: heavy
// tape implies OI building on both sides and a tighter spread.
func Estimate(volumeRatio float64) *OptionsSnapshot {
	if volumeRatio <= 0 {
		volumeRatio = 1
	}
	oi := (volumeRatio - 1) * 2.5
	if oi < 0 {
		oi = 0
	}
	spread := 1.8 - (volumeRatio-1)*0.6
	if spread < 0.4 {
		spread = 0.4
	}
	return &OptionsSnapshot{
		CEOIChangePct: oi,
		PEOIChangePct: oi,
		SpreadPct:     spread,
		IV:            12,
		Estimated:     true,
		Timestamp:     time.Now().UTC(),
	}
}
