package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/arjunmehta14/options-engine/internal/adapters"
	"github.com/arjunmehta14/options-engine/internal/config"
	"github.com/arjunmehta14/options-engine/internal/engine"
	"github.com/arjunmehta14/options-engine/internal/store"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Dir = t.TempDir()

	sim := adapters.NewSimFeed(cfg.Trading.Symbol, cfg.Feeds.Sim.BasePrice, cfg.Feeds.Sim.Volatility, cfg.Feeds.Sim.BaseVolume)
	chain := adapters.NewFallbackChain(cfg.Feeds.Chain, sim)
	optSource := adapters.NewCachedOptionsSource(nil, time.Minute)
	snapshots, err := store.New(cfg.Store.Dir)
	if err != nil {
		t.Fatal(err)
	}
	rt := engine.New(cfg, chain, optSource, snapshots)
	return NewServer(":0", rt)
}

func TestStatusEndpoint(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status want 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["symbol"] != "NIFTY" {
		t.Fatalf("unexpected status payload: %v", body)
	}
	if _, ok := body["portfolio"]; !ok {
		t.Fatal("status should embed the portfolio state")
	}
}

func TestMethodGuards(t *testing.T) {
	s := testServer(t)

	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/status", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST to a GET route want 405, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/trade/close", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET to a POST route want 405, got %d", rec.Code)
	}
}

func TestCloseWithoutTradeConflicts(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/trade/close", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("closing with no trade want 409, got %d", rec.Code)
	}
}

func TestAutoToggle(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auto", strings.NewReader(`{"enabled":true}`))
	s.srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle want 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !s.rt.AutoTrade() {
		t.Fatal("auto trade should be enabled")
	}
}

func TestForceProfileValidation(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/profile/force", strings.NewReader(`{"profile":"warp_speed"}`))
	s.srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown profile want 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/profile/force", strings.NewReader(`{"profile":"scalper"}`))
	s.srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid profile want 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMetricsEndpointServes(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics scrape want 200, got %d", rec.Code)
	}
}
