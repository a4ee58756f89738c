package regime

import (
	"testing"

	"github.com/arjunmehta14/options-engine/internal/profile"
)

func defaultInput() Input {
	// 12:00 would sit in the chop window; most cases use mid-afternoon.
	return Input{
		Spot:             23100,
		VWAP:             23000,
		VWAPSlope:        0.5,
		ATR:              12,
		MinuteOfDay:      13*60 + 45,
		ThreeCandleRange: 20,
	}
}

func TestClassifyTable(t *testing.T) {
	c := New(Config{})

	cases := []struct {
		name        string
		mutate      func(*Input)
		wantRegime  Regime
		wantAllowed bool
		wantProfile profile.ID
	}{
		{
			name:        "trend mid confirmed",
			mutate:      func(in *Input) {},
			wantRegime:  TrendMid,
			wantAllowed: true,
			wantProfile: profile.Balanced,
		},
		{
			name:        "trend open recommends aggressive",
			mutate:      func(in *Input) { in.MinuteOfDay = 9*60 + 45 },
			wantRegime:  TrendOpen,
			wantAllowed: true,
			wantProfile: profile.Aggressive,
		},
		{
			name:        "trend late recommends scalper",
			mutate:      func(in *Input) { in.MinuteOfDay = 14*60 + 30 },
			wantRegime:  TrendLate,
			wantAllowed: true,
			wantProfile: profile.Scalper,
		},
		{
			name:        "event spike blocks everything",
			mutate:      func(in *Input) { in.ThreeCandleRange = 50 },
			wantRegime:  EventSpike,
			wantAllowed: false,
			wantProfile: profile.Conservative,
		},
		{
			name:        "vwap magnet chops",
			mutate:      func(in *Input) { in.Spot = 23002 },
			wantRegime:  ChopMid,
			wantAllowed: false,
			wantProfile: profile.Conservative,
		},
		{
			name:        "dead tape chops",
			mutate:      func(in *Input) { in.ATR = 2; in.ThreeCandleRange = 4 },
			wantRegime:  ChopMid,
			wantAllowed: false,
			wantProfile: profile.Conservative,
		},
		{
			name:        "no slope confirmation is range bound",
			mutate:      func(in *Input) { in.VWAPSlope = 0.001 },
			wantRegime:  RangeBound,
			wantAllowed: true,
			wantProfile: profile.Scalper,
		},
		{
			name: "slope against price side is range bound",
			mutate: func(in *Input) {
				in.VWAPSlope = -0.5 // falling slope while price holds above VWAP
			},
			wantRegime:  RangeBound,
			wantAllowed: true,
			wantProfile: profile.Scalper,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := defaultInput()
			tc.mutate(&in)
			res := c.Classify(in)
			if res.Regime != tc.wantRegime {
				t.Fatalf("regime: want %s got %s (%s)", tc.wantRegime, res.Regime, res.Reason)
			}
			if res.TradingAllowed != tc.wantAllowed {
				t.Fatalf("allowed: want %v got %v (%s)", tc.wantAllowed, res.TradingAllowed, res.Reason)
			}
			if res.RecommendedProfile != tc.wantProfile {
				t.Fatalf("profile: want %s got %s", tc.wantProfile, res.RecommendedProfile)
			}
		})
	}
}

func TestChopWindowBlocksMediumConfidence(t *testing.T) {
	c := New(Config{})
	in := defaultInput()
	in.MinuteOfDay = 12 * 60
	in.SignalConfidence = 70

	res := c.Classify(in)
	if res.TradingAllowed {
		t.Fatalf("chop window should block at confidence 70: %+v", res)
	}
	if res.Reason != "chop_window_block" {
		t.Fatalf("want chop_window_block, got %s", res.Reason)
	}
}

func TestChopWindowHighConfidenceOverride(t *testing.T) {
	c := New(Config{})
	in := defaultInput()
	in.MinuteOfDay = 12 * 60
	in.SignalConfidence = 90

	res := c.Classify(in)
	if !res.TradingAllowed {
		t.Fatalf("confidence 90 should override the chop window: %+v", res)
	}
	if res.Reason != "chop_window_high_confidence_override" {
		t.Fatalf("unexpected reason %s", res.Reason)
	}
}

// The override must never re-allow an event spike.
func TestEventSpikeBeatsChopWindowOverride(t *testing.T) {
	c := New(Config{})
	in := defaultInput()
	in.MinuteOfDay = 12 * 60
	in.SignalConfidence = 99
	in.ThreeCandleRange = 100

	res := c.Classify(in)
	if res.Regime != EventSpike {
		t.Fatalf("want EVENT_SPIKE, got %s", res.Regime)
	}
	if res.TradingAllowed {
		t.Fatal("event spike must stay blocked regardless of confidence")
	}
}
