package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/arjunmehta14/options-engine/internal/observ"
)

// Document names for the three persisted state files.
const (
	DocLedger   = "ledger"
	DocLearning = "learning"
	DocMetrics  = "metrics"
)

// Store persists schema-versioned JSON documents with atomic
// write-temp-then-rename semantics so a crash never leaves partial state.
type Store struct {
	mu  sync.Mutex
	dir string
}

// New creates the store directory if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		dir = "data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save marshals v and atomically replaces the named document. Failures are
// non-fatal by contract: callers log and retry on the next cycle.
func (s *Store) Save(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}

	path := s.path(name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

// Load unmarshals the named document into v. Missing documents return
// os.ErrNotExist so callers can start cold.
func (s *Store) Load(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

// Exists reports whether the named document is on disk.
func (s *Store) Exists(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(s.path(name))
	return err == nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// SaveTimed wraps Save with an I/O budget: breaching it logs a warning so a
// slow disk shows up before it stalls a loop.
func (s *Store) SaveTimed(name string, v any, budget time.Duration) error {
	start := time.Now()
	err := s.Save(name, v)
	elapsed := time.Since(start)
	observ.Observe("persist_write_seconds", elapsed.Seconds(), map[string]string{"doc": name})
	if budget > 0 && elapsed > budget {
		observ.Log("persist_budget_exceeded", map[string]any{
			"doc": name, "elapsed_ms": elapsed.Milliseconds(), "budget_ms": budget.Milliseconds(),
		})
	}
	return err
}
