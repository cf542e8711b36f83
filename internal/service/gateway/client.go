package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Mengjun74/ibkr-mvp/internal/domain/models"
	drepo "github.com/Mengjun74/ibkr-mvp/internal/domain/repository"
	"github.com/Mengjun74/ibkr-mvp/pkg/logger"
)

// Client implements a BarStream backed by the broker gateway's WebSocket
// bridge. The bridge aggregates ticks into one-minute bars server-side and
// emits one frame per completed bar.
type Client struct {
	log            *logger.Logger
	websocketURL   string
	symbol         string
	exchange       string
	currency       string
	backfillBars   int
	reconnectDelay time.Duration
	pingInterval   time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

func (c *Client) currentConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func New(log *logger.Logger, websocketURL, symbol, exchange, currency string, backfillBars int, reconnectDelay, pingInterval time.Duration) drepo.BarStream {
	return &Client{
		log:            log,
		websocketURL:   websocketURL,
		symbol:         symbol,
		exchange:       exchange,
		currency:       currency,
		backfillBars:   backfillBars,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
	}
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.websocketURL, nil)
	if err != nil {
		return fmt.Errorf("gateway connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.log.Info("gateway connected", logger.String("url", c.websocketURL))
	return nil
}

// Subscribe requests one-minute bars for the configured contract.
func (c *Client) Subscribe(ctx context.Context) error {
	conn := c.currentConn()
	if conn == nil || !c.IsConnected() {
		return fmt.Errorf("gateway not connected")
	}
	msg := map[string]string{
		"type":     "subscribe",
		"symbol":   c.symbol,
		"exchange": c.exchange,
		"currency": c.currency,
		"bar_size": "1m",
	}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.symbol, err)
	}
	c.log.Info("gateway subscribed", logger.String("symbol", c.symbol))
	return nil
}

type wsBar struct {
	Symbol string  `json:"s"`
	Time   int64   `json:"t"` // unix seconds, bar open time
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
}

type wsMessage struct {
	Type string  `json:"type"`
	Data []wsBar `json:"data"`
}

func (b wsBar) toModel() *models.Bar {
	return &models.Bar{
		Symbol:    b.Symbol,
		Timestamp: time.Unix(b.Time, 0).UTC(),
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    b.Volume,
	}
}

// Backfill requests recent history so the indicator buffer warms up before
// live trading. Must be called after Subscribe and before Read; it consumes
// frames synchronously until the backfill response arrives.
func (c *Client) Backfill(ctx context.Context) ([]*models.Bar, error) {
	conn := c.currentConn()
	if conn == nil || !c.IsConnected() {
		return nil, fmt.Errorf("gateway not connected")
	}
	req := map[string]any{
		"type":   "backfill",
		"symbol": c.symbol,
		"bars":   c.backfillBars,
	}
	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("backfill request: %w", err)
	}

	deadline := time.Now().Add(30 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("backfill read: %w", err)
		}
		var m wsMessage
		if err := json.Unmarshal(b, &m); err != nil {
			continue
		}
		if m.Type != "backfill" {
			continue
		}
		bars := make([]*models.Bar, 0, len(m.Data))
		for _, d := range m.Data {
			bars = append(bars, d.toModel())
		}
		sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
		c.log.Info("gateway backfill complete", logger.Int("bars", len(bars)))
		return bars, nil
	}
}

// Read streams completed bars and errors. The connection is pinned at
// call time, so a later Reconnect fails this read session instead of
// racing it; the caller is expected to call Read again afterwards.
func (c *Client) Read(ctx context.Context) (<-chan *models.Bar, <-chan error) {
	bars := make(chan *models.Bar, 256)
	errs := make(chan error, 1)
	conn := c.currentConn()
	done := make(chan struct{})

	// keepalive, scoped to this read session so repeated Read calls
	// after reconnects do not accumulate ping loops
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if conn != nil {
					_ = conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}
	}()

	// read loop
	go func() {
		defer close(bars)
		defer close(errs)
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if conn == nil {
					errs <- fmt.Errorf("gateway conn nil")
					return
				}
				_, b, err := conn.ReadMessage()
				if err != nil {
					errs <- fmt.Errorf("gateway read: %w", err)
					return
				}
				var m wsMessage
				if err := json.Unmarshal(b, &m); err != nil {
					// ignore non-bar frames
					continue
				}
				if m.Type != "bar" {
					continue
				}
				for _, d := range m.Data {
					select {
					case bars <- d.toModel():
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return bars, errs
}

// Reconnect closes and reconnects, then resubscribes.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	time.Sleep(c.reconnectDelay)
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
