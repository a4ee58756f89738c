package adapters

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arjunmehta14/options-engine/internal/observ"
)

// WSFeed is the primary price source: a websocket tick stream read in the
// background. Fetch never blocks on the network; it returns the latest bar
// if fresh enough, otherwise errors so the chain falls through.
type WSFeed struct {
	symbol   string
	url      string
	maxAge   time.Duration
	reconnect time.Duration

	mu     sync.RWMutex
	latest *PriceBar

	cancel context.CancelFunc
	done   chan struct{}
}

// WSFeedConfig configures the stream.
type WSFeedConfig struct {
	URL            string `yaml:"url"`
	MaxAgeMs       int    `yaml:"max_age_ms"`
	ReconnectDelayMs int  `yaml:"reconnect_delay_ms"`
}

// NewWSFeed builds the feed; Start must be called before Fetch is useful.
func NewWSFeed(symbol string, cfg WSFeedConfig) *WSFeed {
	if cfg.MaxAgeMs == 0 {
		cfg.MaxAgeMs = 5000
	}
	if cfg.ReconnectDelayMs == 0 {
		cfg.ReconnectDelayMs = 2000
	}
	return &WSFeed{
		symbol:    symbol,
		url:       cfg.URL,
		maxAge:    time.Duration(cfg.MaxAgeMs) * time.Millisecond,
		reconnect: time.Duration(cfg.ReconnectDelayMs) * time.Millisecond,
		done:      make(chan struct{}),
	}
}

func (w *WSFeed) Name() string { return "websocket" }

// Start launches the read loop with automatic reconnect.
func (w *WSFeed) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.readLoop(ctx)
}

type wsTick struct {
	Symbol    string  `json:"symbol"`
	LastPrice float64 `json:"last_price"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume"`
	Timestamp int64   `json:"timestamp"` // unix millis
}

func (w *WSFeed) readLoop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
		if err != nil {
			observ.IncCounter("feed_connect_errors_total", map[string]string{"feed": w.Name()})
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.reconnect):
			}
			continue
		}
		observ.Log("ws_feed_connected", map[string]any{"url": w.url})

		w.consume(ctx, conn)
		_ = conn.Close()

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.reconnect):
		}
	}
}

func (w *WSFeed) consume(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			observ.IncCounter("feed_read_errors_total", map[string]string{"feed": w.Name()})
			return
		}
		var tick wsTick
		if err := json.Unmarshal(msg, &tick); err != nil {
			continue
		}
		if tick.Symbol != "" && tick.Symbol != w.symbol {
			continue
		}
		bar := &PriceBar{
			Symbol:    w.symbol,
			Last:      tick.LastPrice,
			Open:      tick.Open,
			High:      tick.High,
			Low:       tick.Low,
			Close:     tick.Close,
			Volume:    tick.Volume,
			Timestamp: time.UnixMilli(tick.Timestamp).UTC(),
			Source:    w.Name(),
		}
		if ValidateBar(bar) != nil {
			continue
		}
		w.mu.Lock()
		w.latest = bar
		w.mu.Unlock()
	}
}

// Fetch returns the latest streamed bar when fresh enough.
func (w *WSFeed) Fetch(ctx context.Context) (*PriceBar, error) {
	w.mu.RLock()
	bar := w.latest
	w.mu.RUnlock()

	if bar == nil {
		return nil, &FeedError{Feed: w.Name(), Type: "stale", Message: "no tick received yet"}
	}
	if age := time.Since(bar.Timestamp); age > w.maxAge {
		return nil, &FeedError{Feed: w.Name(), Type: "stale", Message: "last tick too old: " + age.String()}
	}
	cp := *bar
	return &cp, nil
}

// Close stops the read loop and waits for it to exit.
func (w *WSFeed) Close() error {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
	return nil
}
