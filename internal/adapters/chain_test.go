package adapters

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// stubFeed scripts fetch outcomes for chain tests.
type stubFeed struct {
	name  string
	bar   *PriceBar
	err   error
	calls int
}

func (f *stubFeed) Fetch(_ context.Context) (*PriceBar, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.bar
	return &cp, nil
}
func (f *stubFeed) Name() string { return f.name }
func (f *stubFeed) Close() error { return nil }

func goodBar(last float64, source string) *PriceBar {
	return &PriceBar{
		Symbol: "NIFTY", Last: last, Open: last - 5, High: last + 10, Low: last - 10,
		Close: last, Volume: 200000, Timestamp: time.Now().UTC(), Source: source,
	}
}

func TestChainPrefersPrimary(t *testing.T) {
	primary := &stubFeed{name: "ws", bar: goodBar(23000, "ws")}
	secondary := &stubFeed{name: "http", bar: goodBar(22990, "http")}
	fc := NewFallbackChain(ChainConfig{}, primary, secondary)

	bar, err := fc.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if bar.Source != "ws" {
		t.Fatalf("primary should serve, got %s", bar.Source)
	}
	if secondary.calls != 0 {
		t.Fatal("secondary must not be touched when primary answers")
	}
}

func TestChainFallsThroughOnFailure(t *testing.T) {
	primary := &stubFeed{name: "ws", err: fmt.Errorf("socket closed")}
	secondary := &stubFeed{name: "http", bar: goodBar(22990, "http")}
	fc := NewFallbackChain(ChainConfig{}, primary, secondary)

	bar, err := fc.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if bar.Source != "http" {
		t.Fatalf("secondary should serve after primary failure, got %s", bar.Source)
	}
	if fc.Health()["ws"] != 1 {
		t.Fatalf("failure accounting off: %+v", fc.Health())
	}
}

func TestChainRejectsInvalidBarAndFallsThrough(t *testing.T) {
	bad := goodBar(23000, "ws")
	bad.Last = -1
	primary := &stubFeed{name: "ws", bar: bad}
	secondary := &stubFeed{name: "http", bar: goodBar(22990, "http")}
	fc := NewFallbackChain(ChainConfig{}, primary, secondary)

	bar, err := fc.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if bar.Source != "http" {
		t.Fatalf("invalid bar must fail closed, got %s", bar.Source)
	}
}

func TestChainServesCacheWhenAllFail(t *testing.T) {
	flaky := &stubFeed{name: "ws", bar: goodBar(23000, "ws")}
	fc := NewFallbackChain(ChainConfig{}, flaky)

	if _, err := fc.Fetch(context.Background()); err != nil {
		t.Fatal(err)
	}

	flaky.err = fmt.Errorf("gone")
	bar, err := fc.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if bar.Source != "ws_cached" {
		t.Fatalf("cached bar should be marked, got %s", bar.Source)
	}
	if bar.Last != 23000 {
		t.Fatalf("cached bar mutated: %f", bar.Last)
	}
}

func TestChainErrorsWhenCacheExpired(t *testing.T) {
	dead := &stubFeed{name: "ws", err: fmt.Errorf("gone")}
	fc := NewFallbackChain(ChainConfig{CacheTTLMs: 1}, dead)

	if _, err := fc.Fetch(context.Background()); err == nil {
		t.Fatal("no source and no cache must be an error")
	}
}

func TestSimFeedAlwaysServesValidBars(t *testing.T) {
	sim := NewSimFeed("NIFTY", 23000, 0.012, 250000)
	for i := 0; i < 50; i++ {
		bar, err := sim.Fetch(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if err := ValidateBar(bar); err != nil {
			t.Fatalf("sim bar failed validation: %v (%+v)", err, bar)
		}
	}
}

func TestSimFeedDriftTrendsPrice(t *testing.T) {
	sim := NewSimFeed("NIFTY", 23000, 0.001, 250000)
	sim.SetDrift(0.001)
	var last float64
	for i := 0; i < 100; i++ {
		bar, _ := sim.Fetch(context.Background())
		last = bar.Last
	}
	if last <= 23000 {
		t.Fatalf("strong positive drift should trend the walk up, ended at %f", last)
	}
}

func TestCachedOptionsSourceEstimatesWithoutInner(t *testing.T) {
	src := NewCachedOptionsSource(nil, time.Minute)
	snap := src.Snapshot(context.Background(), 2.0)
	if !snap.Estimated {
		t.Fatal("no inner source must produce an estimate")
	}
	if snap.CEOIChangePct <= 0 {
		t.Fatalf("heavy tape should estimate OI building, got %f", snap.CEOIChangePct)
	}

	// Inside the TTL the cached estimate is reused.
	again := src.Snapshot(context.Background(), 0.5)
	if again != snap {
		t.Fatal("cache should serve inside the TTL")
	}
}

func TestEstimateSpreadTightensWithVolume(t *testing.T) {
	thin := Estimate(0.5)
	heavy := Estimate(3.0)
	if heavy.SpreadPct >= thin.SpreadPct {
		t.Fatalf("volume should tighten the spread: %f >= %f", heavy.SpreadPct, thin.SpreadPct)
	}
	if heavy.SpreadPct < 0.4 {
		t.Fatalf("spread floor is 0.4, got %f", heavy.SpreadPct)
	}
}
