package profile

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/arjunmehta14/options-engine/internal/observ"
)

const (
	defaultExploration = 1.4
	defaultFoldEvery   = 5

	// A hinted arm with fewer selections than this is always preferred,
	// so every profile gets a baseline sample.
	hintMinSelections = 3

	// The hint wins when its UCB score is within this fraction of the best.
	hintTolerance = 0.80
)

// Arm holds the bandit statistics for one profile.
type Arm struct {
	TotalReward float64 `json:"total_reward"`
	Selections  int     `json:"selections"`
}

// Avg is the arm's mean reward (0 when never selected).
func (a Arm) Avg() float64 {
	if a.Selections == 0 {
		return 0
	}
	return a.TotalReward / float64(a.Selections)
}

type pendingReward struct {
	Profile ID      `json:"profile"`
	Reward  float64 `json:"reward"`
}

// Selector is the adaptive profile selector: a UCB bandit over the fixed
// profile library, with rewards buffered and folded in batches.
type Selector struct {
	mu sync.Mutex

	params      map[ID]Params
	arms        map[ID]*Arm
	total       int
	exploration float64
	foldEvery   int
	pending     []pendingReward
	forced      ID // non-empty pins selection to one profile
}

// SnapshotState is the serialized learning state document body.
type SnapshotState struct {
	Version int            `json:"version"`
	Arms    map[ID]Arm     `json:"arms"`
	Total   int            `json:"total_selections"`
	Pending []pendingReward `json:"pending_rewards"`
}

// NewSelector builds a selector over the fixed library.
func NewSelector(exploration float64, foldEvery int) *Selector {
	if exploration <= 0 {
		exploration = defaultExploration
	}
	if foldEvery <= 0 {
		foldEvery = defaultFoldEvery
	}
	lib := Library()
	arms := make(map[ID]*Arm, len(lib))
	for id := range lib {
		arms[id] = &Arm{}
	}
	return &Selector{
		params:      lib,
		arms:        arms,
		exploration: exploration,
		foldEvery:   foldEvery,
	}
}

// SelectProfile picks a profile for this cycle. The regime-recommended hint
// wins when it is still under-sampled or its UCB score is close to the best;
// otherwise the UCB-maximizing arm wins.
func (s *Selector) SelectProfile(hint ID) Params {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.forced != "" {
		if p, ok := s.params[s.forced]; ok {
			s.note(p.ID, "forced")
			return p
		}
	}

	scores := s.ucbScores()
	best := s.argmax(scores)

	chosen := best
	reason := "ucb_max"
	if hint != "" && Valid(hint) {
		if s.arms[hint].Selections < hintMinSelections {
			chosen, reason = hint, "hint_undersampled"
		} else if withinTolerance(scores[hint], scores[best]) {
			chosen, reason = hint, "hint_within_tolerance"
		}
	}

	s.note(chosen, reason)
	return s.params[chosen]
}

// note records the selection under the lock.
func (s *Selector) note(id ID, reason string) {
	s.arms[id].Selections++
	s.total++
	observ.IncCounter("profile_selections_total", map[string]string{
		"profile": string(id), "reason": reason,
	})
}

// ucbScores computes avg + c*sqrt(ln(total)/n) per arm; unselected arms get
// +Inf so each is tried at least once.
func (s *Selector) ucbScores() map[ID]float64 {
	scores := make(map[ID]float64, len(s.arms))
	for id, arm := range s.arms {
		if arm.Selections == 0 {
			scores[id] = math.Inf(1)
			continue
		}
		bonus := 0.0
		if s.total > 1 {
			bonus = s.exploration * math.Sqrt(math.Log(float64(s.total))/float64(arm.Selections))
		}
		scores[id] = arm.Avg() + bonus
	}
	return scores
}

// argmax returns the best-scoring arm, iterating in sorted order so ties
// break deterministically.
func (s *Selector) argmax(scores map[ID]float64) ID {
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	best := ID(ids[0])
	for _, raw := range ids[1:] {
		id := ID(raw)
		if scores[id] > scores[best] {
			best = id
		}
	}
	return best
}

// withinTolerance compares scores after shifting both non-negative so a
// negative best cannot invert the ratio test.
func withinTolerance(hintScore, bestScore float64) bool {
	if math.IsInf(bestScore, 1) {
		return math.IsInf(hintScore, 1)
	}
	shift := 0.0
	if m := math.Min(hintScore, bestScore); m < 0 {
		shift = -m
	}
	return hintScore+shift >= hintTolerance*(bestScore+shift)
}

// RecordTradeResult buffers reward = pnl - drawdown/2 for the profile that
// ran the trade. Every foldEvery trades the buffer folds into the arms.
func (s *Selector) RecordTradeResult(id ID, pnl, drawdown float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !Valid(id) {
		return
	}
	reward := pnl - math.Abs(drawdown)/2
	s.pending = append(s.pending, pendingReward{Profile: id, Reward: reward})
	if len(s.pending) >= s.foldEvery {
		s.foldLocked()
	}
}

// FlushDay folds any buffered rewards; called at end of day.
func (s *Selector) FlushDay() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.foldLocked()
}

func (s *Selector) foldLocked() {
	if len(s.pending) == 0 {
		return
	}
	for _, pr := range s.pending {
		s.arms[pr.Profile].TotalReward += pr.Reward
	}
	observ.Log("bandit_rewards_folded", map[string]any{"count": len(s.pending)})
	s.pending = s.pending[:0]
}

// ForceProfile pins every future selection to one profile ("" unpins).
func (s *Selector) ForceProfile(id ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" && !Valid(id) {
		return fmt.Errorf("unknown profile %q", id)
	}
	s.forced = id
	return nil
}

// Reset wipes all learning back to a cold start.
func (s *Selector) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.arms {
		s.arms[id] = &Arm{}
	}
	s.total = 0
	s.pending = s.pending[:0]
	observ.Log("bandit_reset", nil)
}

// Snapshot exports the learning state for persistence.
func (s *Selector) Snapshot() SnapshotState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := SnapshotState{Version: 1, Arms: make(map[ID]Arm, len(s.arms)), Total: s.total}
	for id, arm := range s.arms {
		out.Arms[id] = *arm
	}
	out.Pending = append(out.Pending, s.pending...)
	return out
}

// Restore replaces the learning state from a persisted snapshot. Arms for
// profiles no longer in the library are dropped.
func (s *Selector) Restore(snap SnapshotState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = snap.Total
	s.pending = append(s.pending[:0], snap.Pending...)
	for id := range s.arms {
		if arm, ok := snap.Arms[id]; ok {
			a := arm
			s.arms[id] = &a
		} else {
			s.arms[id] = &Arm{}
		}
	}
}

// Arms returns a copy of the current arm table for diagnostics.
func (s *Selector) Arms() map[ID]Arm {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[ID]Arm, len(s.arms))
	for id, arm := range s.arms {
		out[id] = *arm
	}
	return out
}
