// Package feed streams the BTC/USDT price from the Binance 1-minute
// kline WebSocket. It keeps a bounded rolling window of closed-candle
// close prices plus the latest tick, which is all the strategies need.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pendulum/internal/config"
)

// Reconnect backoff bounds.
const (
	initialBackoff = time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2
)

// PriceFeed maintains the rolling close-price history, oldest first.
// It implements strategy.TickSource.
type PriceFeed struct {
	url     string
	maxHist int

	mu      sync.RWMutex
	history []float64
	latest  float64
	haveTck bool
}

func NewPriceFeed(cfg config.FeedConfig) *PriceFeed {
	return &PriceFeed{
		url:     cfg.WSURL,
		maxHist: cfg.PriceHistoryMinutes,
	}
}

// LatestPrice returns the most recent tick, if one has arrived.
func (f *PriceFeed) LatestPrice() (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.latest, f.haveTck
}

// PriceHistory returns a copy of the closed-candle closes, oldest first.
func (f *PriceFeed) PriceHistory() []float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]float64, len(f.history))
	copy(out, f.history)
	return out
}

// Run connects and reads until ctx is cancelled, reconnecting with
// exponential backoff on any failure.
func (f *PriceFeed) Run(ctx context.Context) {
	backoff := initialBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
		if err != nil {
			slog.Warn("binance connect failed", "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*backoffFactor, maxBackoff)
			continue
		}

		slog.Info("binance websocket connected", "url", f.url)
		backoff = initialBackoff

		f.readMessages(ctx, conn)
		conn.Close()
	}
}

func (f *PriceFeed) readMessages(ctx context.Context, conn *websocket.Conn) {
	// Unblock ReadMessage when the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("binance read failed", "error", err)
			}
			return
		}
		f.handleMessage(raw)
	}
}

// klineMessage is the slice of the Binance kline event the feed uses.
// Close price "c" arrives as a decimal string; "x" marks a finalized
// candle.
type klineMessage struct {
	Kline *struct {
		Close  string `json:"c"`
		Closed bool   `json:"x"`
	} `json:"k"`
}

func (f *PriceFeed) handleMessage(raw []byte) {
	var msg klineMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Debug("malformed binance message", "error", err)
		return
	}
	if msg.Kline == nil {
		return
	}

	closePrice, err := strconv.ParseFloat(msg.Kline.Close, 64)
	if err != nil {
		slog.Debug("malformed close price", "value", msg.Kline.Close)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.latest = closePrice
	f.haveTck = true

	// Only finalized candles enter the history window.
	if msg.Kline.Closed {
		f.history = append(f.history, closePrice)
		if len(f.history) > f.maxHist {
			f.history = f.history[len(f.history)-f.maxHist:]
		}
		slog.Debug("candle closed", "close", closePrice, "history_len", len(f.history))
	}
}
