package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/arjunmehta14/options-engine/internal/engine"
	"github.com/arjunmehta14/options-engine/internal/observ"
)

// Server is the operator control surface: status and diagnostics reads,
// manual trade controls, and the Prometheus scrape endpoint.
type Server struct {
	rt  *engine.Runtime
	srv *http.Server
}

// NewServer builds the server on the runtime's control methods.
func NewServer(addr string, rt *engine.Runtime) *Server {
	s := &Server{rt: rt}
	mux := http.NewServeMux()

	mux.Handle("/healthz", observ.Health())
	mux.Handle("/metrics", observ.Handler())

	mux.HandleFunc("/api/status", s.getOnly(s.handleStatus))
	mux.HandleFunc("/api/diagnostics", s.getOnly(s.handleDiagnostics))
	mux.HandleFunc("/api/report", s.getOnly(s.handleReport))

	mux.HandleFunc("/api/trade/place", s.postOnly(s.handlePlace))
	mux.HandleFunc("/api/trade/close", s.postOnly(s.handleClose))
	mux.HandleFunc("/api/auto", s.postOnly(s.handleAuto))
	mux.HandleFunc("/api/reset/portfolio", s.postOnly(s.handleResetPortfolio))
	mux.HandleFunc("/api/reset/learning", s.postOnly(s.handleResetLearning))
	mux.HandleFunc("/api/profile/force", s.postOnly(s.handleForceProfile))

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// Start serves until Shutdown; a closed-server error is not a failure.
func (s *Server) Start() error {
	observ.Log("http_listening", map[string]any{"addr": s.srv.Addr})
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, "GET only")
			return
		}
		h(w, r)
	}
}

func (s *Server) postOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, "POST only")
			return
		}
		h(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.rt.Status())
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.rt.Diagnostics())
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rt.Report(r.URL.Query().Get("date")))
}

func (s *Server) handlePlace(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Direction string `json:"direction"`
		Lots      int    `json:"lots"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if err := s.rt.PlaceTrade(r.Context(), req.Direction, req.Lots); err != nil {
		writeErr(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"placed": true})
}

func (s *Server) handleClose(w http.ResponseWriter, _ *http.Request) {
	if err := s.rt.CloseTrade(); err != nil {
		writeErr(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"closed": true})
}

func (s *Server) handleAuto(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	s.rt.SetAutoTrade(req.Enabled)
	writeJSON(w, http.StatusOK, map[string]any{"auto_trade": req.Enabled})
}

func (s *Server) handleResetPortfolio(w http.ResponseWriter, _ *http.Request) {
	s.rt.ResetPortfolio()
	writeJSON(w, http.StatusOK, map[string]any{"reset": "portfolio"})
}

func (s *Server) handleResetLearning(w http.ResponseWriter, _ *http.Request) {
	s.rt.ResetLearning()
	writeJSON(w, http.StatusOK, map[string]any{"reset": "learning"})
}

func (s *Server) handleForceProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Profile string `json:"profile"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if err := s.rt.ForceProfile(req.Profile); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"forced": req.Profile})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		observ.LogError("http_encode_failed", err, nil)
	}
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}
