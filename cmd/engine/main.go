package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/arjunmehta14/options-engine/internal/adapters"
	"github.com/arjunmehta14/options-engine/internal/config"
	"github.com/arjunmehta14/options-engine/internal/engine"
	"github.com/arjunmehta14/options-engine/internal/observ"
	"github.com/arjunmehta14/options-engine/internal/store"
	"github.com/arjunmehta14/options-engine/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to yaml config (defaults apply when empty)")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()
	if p := os.Getenv("ENGINE_CONFIG"); *configPath == "" && p != "" {
		*configPath = p
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		observ.LogError("config_load_failed", err, map[string]any{"path": *configPath})
		os.Exit(1)
	}

	snapshots, err := store.New(cfg.Store.Dir)
	if err != nil {
		observ.LogError("store_init_failed", err, map[string]any{"dir": cfg.Store.Dir})
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Price sources in priority order: stream, poll, simulator. Sources
	// without a configured URL are left out of the chain.
	var feeds []adapters.PriceFeed
	if cfg.Feeds.WS.URL != "" {
		ws := adapters.NewWSFeed(cfg.Trading.Symbol, cfg.Feeds.WS)
		ws.Start(ctx)
		feeds = append(feeds, ws)
	}
	if cfg.Feeds.HTTP.URL != "" {
		feeds = append(feeds, adapters.NewHTTPFeed(cfg.Trading.Symbol, cfg.Feeds.HTTP))
	}
	feeds = append(feeds, adapters.NewSimFeed(
		cfg.Trading.Symbol, cfg.Feeds.Sim.BasePrice, cfg.Feeds.Sim.Volatility, cfg.Feeds.Sim.BaseVolume))
	chain := adapters.NewFallbackChain(cfg.Feeds.Chain, feeds...)

	var inner adapters.OptionsSource
	if cfg.OptionsData.URL != "" {
		inner = adapters.NewHTTPOptionsSource(cfg.OptionsData.URL, cfg.OptionsData.TimeoutMs)
	}
	optSource := adapters.NewCachedOptionsSource(inner, time.Duration(cfg.OptionsData.CacheTTLSec)*time.Second)

	rt := engine.New(cfg, chain, optSource, snapshots)
	rt.Start(ctx)

	srv := transport.NewServer(cfg.Server.Addr, rt)
	go func() {
		if err := srv.Start(); err != nil {
			observ.LogError("http_server_failed", err, nil)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		observ.Log("shutdown_signal", map[string]any{"signal": sig.String()})
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		observ.LogError("http_shutdown_failed", err, nil)
	}

	cancel()
	rt.Stop() // squares off any open position and flushes state
	if err := chain.Close(); err != nil {
		observ.LogError("feed_close_failed", err, nil)
	}
	observ.Log("engine_exited", nil)
}
