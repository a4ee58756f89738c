package observ

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	logMu  sync.RWMutex
	logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// SetOutput redirects the event log (tests pass io.Discard).
func SetOutput(w io.Writer) {
	logMu.Lock()
	defer logMu.Unlock()
	logger = zerolog.New(w).With().Timestamp().Logger()
}

// Log emits a structured event line. Every subsystem logs through here so
// operational output stays one JSON object per line.
func Log(event string, kv map[string]any) {
	logMu.RLock()
	l := logger
	logMu.RUnlock()
	l.Info().Fields(kv).Str("event", event).Msg("")
}

// LogError emits an error-level event with the error attached.
func LogError(event string, err error, kv map[string]any) {
	logMu.RLock()
	l := logger
	logMu.RUnlock()
	e := l.Error().Fields(kv).Str("event", event)
	if err != nil {
		e = e.Err(err)
	}
	e.Msg("")
}
