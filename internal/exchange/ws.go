// ws.go implements the WebSocket feed for real-time exchange orderbook data.
//
// The feed authenticates with the same RSA-PSS headers as REST, subscribes
// to the orderbook_snapshot/orderbook_delta/ticker channels for a set of
// market tickers, and routes incoming messages onto typed channels. It
// auto-reconnects with exponential backoff (1s → 30s max) and re-subscribes
// to the tracked ticker set on reconnection. A read deadline (90s) ensures
// silent server failures are detected within ~2 missed pings.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsPath           = "/trade-api/ws/v2"
	pingInterval     = 30 * time.Second
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	bookBufferSize   = 256
	tickerBufferSize = 128
)

// ————————————————————————————————————————————————————————————————————————
// Wire messages
// ————————————————————————————————————————————————————————————————————————

// WSCommand is an outgoing subscribe/unsubscribe command.
type WSCommand struct {
	ID     int      `json:"id"`
	Cmd    string   `json:"cmd"` // "subscribe" or "unsubscribe"
	Params WSParams `json:"params"`
}

// WSParams carries the channel and ticker set for a command.
type WSParams struct {
	Channels      []string `json:"channels"`
	MarketTickers []string `json:"market_tickers"`
}

// wsEnvelope is the incoming message frame; Msg is decoded per Type.
type wsEnvelope struct {
	Type string          `json:"type"`
	Msg  json.RawMessage `json:"msg"`
}

// WSSnapshot is a full per-market book: [price, quantity] bid levels for
// each side.
type WSSnapshot struct {
	MarketTicker string     `json:"market_ticker"`
	Yes          [][2]int64 `json:"yes"`
	No           [][2]int64 `json:"no"`
}

// WSDelta is a single level change: add Delta to the quantity resting at
// Price on Side, removing the level when it reaches zero.
type WSDelta struct {
	MarketTicker string `json:"market_ticker"`
	Price        int64  `json:"price"`
	Delta        int64  `json:"delta"`
	Side         string `json:"side"` // "yes" or "no"
}

// WSTicker is a top-of-book update.
type WSTicker struct {
	MarketTicker string `json:"market_ticker"`
	YesBid       int64  `json:"yes_bid"`
	YesAsk       int64  `json:"yes_ask"`
	Price        int64  `json:"price"` // last trade
	Volume       int64  `json:"volume"`
}

type wsError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// ————————————————————————————————————————————————————————————————————————
// Feed
// ————————————————————————————————————————————————————————————————————————

// WSFeed manages the orderbook WebSocket connection: lifecycle, subscription
// tracking, message routing, and automatic reconnection.
type WSFeed struct {
	url    string
	auth   *Auth
	conn   *websocket.Conn
	connMu sync.Mutex // protects conn reads/writes

	cmdID atomic.Int64 // monotonically increasing command id

	// Track subscriptions for automatic re-subscribe on reconnect
	subscribedMu sync.RWMutex
	subscribed   map[string]bool // market tickers

	snapshotCh chan WSSnapshot
	deltaCh    chan WSDelta
	tickerCh   chan WSTicker

	logger *slog.Logger
}

// NewWSFeed creates the orderbook feed. Run must be called to connect.
func NewWSFeed(wsURL string, auth *Auth, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		url:        wsURL,
		auth:       auth,
		subscribed: make(map[string]bool),
		snapshotCh: make(chan WSSnapshot, bookBufferSize),
		deltaCh:    make(chan WSDelta, bookBufferSize),
		tickerCh:   make(chan WSTicker, tickerBufferSize),
		logger:     logger.With("component", "ws_feed"),
	}
}

// SnapshotEvents returns a read-only channel of full book snapshots.
func (f *WSFeed) SnapshotEvents() <-chan WSSnapshot { return f.snapshotCh }

// DeltaEvents returns a read-only channel of incremental book updates.
func (f *WSFeed) DeltaEvents() <-chan WSDelta { return f.deltaCh }

// TickerEvents returns a read-only channel of top-of-book updates.
func (f *WSFeed) TickerEvents() <-chan WSTicker { return f.tickerCh }

// Run connects and maintains the WebSocket connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *WSFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		// Exponential backoff: 1s, 2s, 4s, 8s, ..., 30s max
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Subscribe adds market tickers to the feed.
func (f *WSFeed) Subscribe(tickers []string) error {
	if len(tickers) == 0 {
		return nil
	}
	f.subscribedMu.Lock()
	for _, t := range tickers {
		f.subscribed[t] = true
	}
	f.subscribedMu.Unlock()

	return f.writeJSON(WSCommand{
		ID:  int(f.cmdID.Add(1)),
		Cmd: "subscribe",
		Params: WSParams{
			Channels:      []string{"ticker", "orderbook_snapshot", "orderbook_delta"},
			MarketTickers: tickers,
		},
	})
}

// Unsubscribe removes market tickers from the feed.
func (f *WSFeed) Unsubscribe(tickers []string) error {
	if len(tickers) == 0 {
		return nil
	}
	f.subscribedMu.Lock()
	for _, t := range tickers {
		delete(f.subscribed, t)
	}
	f.subscribedMu.Unlock()

	return f.writeJSON(WSCommand{
		ID:  int(f.cmdID.Add(1)),
		Cmd: "unsubscribe",
		Params: WSParams{
			Channels:      []string{"ticker", "orderbook_snapshot", "orderbook_delta"},
			MarketTickers: tickers,
		},
	})
}

// Close gracefully closes the connection.
func (f *WSFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *WSFeed) connectAndRead(ctx context.Context) error {
	headers, err := f.auth.Headers(http.MethodGet, wsPath, "")
	if err != nil {
		return fmt.Errorf("sign ws handshake: %w", err)
	}
	hdr := http.Header{}
	for k, v := range headers {
		hdr.Set(k, v)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, hdr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.sendInitialSubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("websocket connected", "url", f.url)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	// Read loop with deadline so we reconnect if the server goes silent.
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *WSFeed) sendInitialSubscription() error {
	f.subscribedMu.RLock()
	tickers := make([]string, 0, len(f.subscribed))
	for t := range f.subscribed {
		tickers = append(tickers, t)
	}
	f.subscribedMu.RUnlock()

	if len(tickers) == 0 {
		return nil
	}
	return f.writeJSON(WSCommand{
		ID:  int(f.cmdID.Add(1)),
		Cmd: "subscribe",
		Params: WSParams{
			Channels:      []string{"ticker", "orderbook_snapshot", "orderbook_delta"},
			MarketTickers: tickers,
		},
	})
}

func (f *WSFeed) dispatchMessage(data []byte) {
	var envelope wsEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch envelope.Type {
	case "orderbook_snapshot":
		var evt WSSnapshot
		if err := json.Unmarshal(envelope.Msg, &evt); err != nil {
			f.logger.Error("unmarshal orderbook_snapshot", "error", err)
			return
		}
		select {
		case f.snapshotCh <- evt:
		default:
			f.logger.Warn("snapshot channel full, dropping event", "ticker", evt.MarketTicker)
		}

	case "orderbook_delta":
		var evt WSDelta
		if err := json.Unmarshal(envelope.Msg, &evt); err != nil {
			f.logger.Error("unmarshal orderbook_delta", "error", err)
			return
		}
		select {
		case f.deltaCh <- evt:
		default:
			f.logger.Warn("delta channel full, dropping event", "ticker", evt.MarketTicker)
		}

	case "ticker":
		var evt WSTicker
		if err := json.Unmarshal(envelope.Msg, &evt); err != nil {
			f.logger.Error("unmarshal ticker", "error", err)
			return
		}
		select {
		case f.tickerCh <- evt:
		default:
			f.logger.Warn("ticker channel full, dropping event", "ticker", evt.MarketTicker)
		}

	case "error":
		var evt wsError
		if err := json.Unmarshal(envelope.Msg, &evt); err == nil {
			f.logger.Error("ws error message", "code", evt.Code, "msg", evt.Msg)
		} else {
			f.logger.Error("ws error message", "raw", string(envelope.Msg))
		}

	case "subscribed", "unsubscribed", "ok":
		f.logger.Debug("ws ack", "type", envelope.Type)

	default:
		f.logger.Debug("unknown ws event type", "type", envelope.Type)
	}
}

func (f *WSFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.PingMessage, nil); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *WSFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *WSFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
