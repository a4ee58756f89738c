package market

import (
	"testing"
	"time"
)

func premiumCandle(o, h, l, c float64) PremiumCandle {
	return PremiumCandle{
		Timestamp: time.Now(), Open: o, High: h, Low: l, Close: c,
		Volume: 5000, Bid: c - 0.5, Ask: c + 0.5, IV: 14,
	}
}

func TestOptionStoreRejectsUnknownSide(t *testing.T) {
	s := NewOptionStore(10)
	if err := s.AddCandle("XX", premiumCandle(100, 102, 99, 101)); err == nil {
		t.Fatal("expected rejection of unknown side")
	}
}

func TestPremiumATR(t *testing.T) {
	s := NewOptionStore(20)
	if atr := s.PremiumATR(SideCall, 14); atr != 0 {
		t.Fatalf("empty store ATR should be 0, got %f", atr)
	}
	base := 100.0
	for i := 0; i < 10; i++ {
		c := premiumCandle(base, base+4, base-2, base+1)
		if err := s.AddCandle(SideCall, c); err != nil {
			t.Fatal(err)
		}
		base += 1
	}
	if atr := s.PremiumATR(SideCall, 14); atr <= 0 {
		t.Fatalf("ATR should be positive, got %f", atr)
	}
	// Sides are independent rings.
	if got := s.PremiumATR(SidePut, 14); got != 0 {
		t.Fatalf("put side should be untouched, ATR=%f", got)
	}
}

func TestOptionStoreResetAndLatest(t *testing.T) {
	s := NewOptionStore(5)
	c := premiumCandle(100, 103, 98, 102)
	if err := s.AddCandle(SidePut, c); err != nil {
		t.Fatal(err)
	}
	if iv := s.LatestIV(SidePut); iv != 14 {
		t.Fatalf("latest IV want 14, got %f", iv)
	}
	if sp := s.LatestSpreadPct(SidePut); sp <= 0 {
		t.Fatalf("spread pct should be positive, got %f", sp)
	}
	s.Reset()
	if len(s.Candles(SidePut, 0)) != 0 {
		t.Fatal("reset should clear both series")
	}
}
