package options

import (
	"testing"

	"github.com/arjunmehta14/options-engine/internal/market"
)

func TestNewSimulatorValidation(t *testing.T) {
	if _, err := NewSimulator(market.SideCall, 0, 23000, 14, 2); err == nil {
		t.Fatal("zero spot must be rejected")
	}
	if _, err := NewSimulator(market.SideCall, 23000, 23000, 14, 0); err == nil {
		t.Fatal("expired contract must be rejected")
	}
}

func TestATMGreeksSane(t *testing.T) {
	s, err := NewSimulator(market.SideCall, 23000, 23000, 14, 2)
	if err != nil {
		t.Fatal(err)
	}
	premium, spread, g := s.State()
	if premium <= 0 {
		t.Fatalf("ATM premium should be positive, got %f", premium)
	}
	if spread <= 0 {
		t.Fatalf("spread should be positive, got %f", spread)
	}
	if g.Delta < 0.4 || g.Delta > 0.6 {
		t.Fatalf("ATM call delta should hover near 0.5, got %f", g.Delta)
	}
	if g.Gamma <= 0 || g.Theta <= 0 || g.Vega <= 0 {
		t.Fatalf("gamma/theta/vega should be positive ATM: %+v", g)
	}

	p, err := NewSimulator(market.SidePut, 23000, 23000, 14, 2)
	if err != nil {
		t.Fatal(err)
	}
	pg := p.Greeks()
	if pg.Delta < 0.4 || pg.Delta > 0.6 {
		t.Fatalf("put delta is reported unsigned, want near 0.5, got %f", pg.Delta)
	}
}

func TestTickDirectionality(t *testing.T) {
	ce, _ := NewSimulator(market.SideCall, 23000, 23000, 14, 2)
	pe, _ := NewSimulator(market.SidePut, 23000, 23000, 14, 2)
	ceBefore, _, _ := ce.State()
	peBefore, _, _ := pe.State()

	ceAfter := ce.Tick(23080, 30, 0, 1.5, true, false)
	peAfter := pe.Tick(23080, 30, 0, 1.5, true, false)

	if ceAfter <= ceBefore {
		t.Fatalf("call premium should rise on an up move: %f -> %f", ceBefore, ceAfter)
	}
	if peAfter >= peBefore {
		t.Fatalf("put premium should fall on an up move: %f -> %f", peBefore, peAfter)
	}
}

func TestPremiumFloorHolds(t *testing.T) {
	s, _ := NewSimulator(market.SidePut, 23000, 22500, 5, 0.05)
	spot := 23000.0
	for i := 0; i < 200; i++ {
		spot += 40 // relentless rally against the put
		if got := s.Tick(spot, 30, 0, 1.0, false, true); got < PremiumFloor {
			t.Fatalf("premium fell below floor: %f", got)
		}
	}
}

func TestExpiryCollapse(t *testing.T) {
	s, _ := NewSimulator(market.SideCall, 23000, 22900, 14, 0.01)
	// Burn through the remaining life in a few large ticks.
	for i := 0; i < 5; i++ {
		s.Tick(23000, 300, 0, 1.0, false, false)
	}
	g := s.Greeks()
	if g.Delta != 1.0 {
		t.Fatalf("expired ITM call delta should collapse to 1, got %f", g.Delta)
	}
	if g.Gamma != 0 || g.Theta != 0 || g.Vega != 0 {
		t.Fatalf("expired greeks should be zero: %+v", g)
	}
}

func TestIVClampAndChopDecay(t *testing.T) {
	s, _ := NewSimulator(market.SideCall, 23000, 23000, 1.5, 2)
	// Chop decays IV but never below the floor.
	for i := 0; i < 30; i++ {
		s.Tick(23000, 30, 0, 0.8, false, true)
	}
	if s.IV < 1 {
		t.Fatalf("IV clamped at 1 point, got %f", s.IV)
	}
	// Breakouts bump IV but never above the cap.
	b, _ := NewSimulator(market.SideCall, 23000, 23000, 89.9, 2)
	for i := 0; i < 10; i++ {
		b.Tick(23050, 30, 0, 2.0, true, false)
	}
	if b.IV > 90 {
		t.Fatalf("IV capped at 90 points, got %f", b.IV)
	}
}

func TestSpreadWidensOnThinVolume(t *testing.T) {
	s, _ := NewSimulator(market.SideCall, 23000, 23000, 14, 2)
	s.Tick(23000, 3, 0, 1.0, false, false)
	normal := s.SpreadPct()
	s.Tick(23000, 3, 0, 0.1, false, false)
	thin := s.SpreadPct()
	if thin <= normal {
		t.Fatalf("thin volume should widen the spread: %f <= %f", thin, normal)
	}
	if thin > 3.0+1e-9 {
		t.Fatalf("spread pct must cap at 3%%, got %f", thin)
	}
}
