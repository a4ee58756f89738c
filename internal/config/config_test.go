package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	c := Default()

	if c.Trading.Symbol != "NIFTY" {
		t.Fatalf("symbol want NIFTY, got %s", c.Trading.Symbol)
	}
	if c.Trading.SignalIntervalSec != 30 || c.Trading.RiskIntervalSec != 3 {
		t.Fatalf("interval defaults off: %d/%d", c.Trading.SignalIntervalSec, c.Trading.RiskIntervalSec)
	}
	if c.Trading.QuantityLots != 8 || c.Trading.StrikeStep != 50 {
		t.Fatalf("sizing defaults off: %d lots, step %f", c.Trading.QuantityLots, c.Trading.StrikeStep)
	}
	if c.Session.Timezone != "Asia/Kolkata" || c.Session.OpenMin != 555 || c.Session.CloseMin != 930 {
		t.Fatalf("session defaults off: %+v", c.Session)
	}
	if c.Session.SquareOffMin != 915 {
		t.Fatalf("square-off default want 915, got %d", c.Session.SquareOffMin)
	}
	if c.Bandit.Exploration != 1.4 || c.Bandit.FoldEvery != 5 {
		t.Fatalf("bandit defaults off: %+v", c.Bandit)
	}
	if c.Iceberg.LotSize != 75 {
		t.Fatalf("lot size default want 75, got %d", c.Iceberg.LotSize)
	}
	if c.Server.Addr != ":8087" {
		t.Fatalf("server addr default off: %s", c.Server.Addr)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if c.Trading.Symbol != "NIFTY" || c.Store.Dir != "data" {
		t.Fatalf("empty path should yield defaults: %+v", c.Trading)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("a named but missing file must error")
	}
}

func TestLoadOverridesAndStillNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	body := `
trading:
  symbol: BANKNIFTY
  quantity_lots: 3
session:
  square_off_min: 900
portfolio:
  capital: 250000
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Trading.Symbol != "BANKNIFTY" || c.Trading.QuantityLots != 3 {
		t.Fatalf("overrides not applied: %+v", c.Trading)
	}
	if c.Session.SquareOffMin != 900 {
		t.Fatalf("square-off override lost: %d", c.Session.SquareOffMin)
	}
	if c.Portfolio.Capital != 250000 {
		t.Fatalf("capital override lost: %f", c.Portfolio.Capital)
	}
	// Untouched knobs still get their defaults.
	if c.Trading.SignalIntervalSec != 30 || c.Session.OpenMin != 555 {
		t.Fatal("defaults must fill the gaps around overrides")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("trading: [not: a map"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed yaml must error")
	}
}
