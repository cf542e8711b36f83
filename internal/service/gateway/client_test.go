package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mengjun74/ibkr-mvp/pkg/logger"
)

var upgrader = websocket.Upgrader{}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	return log
}

// fakeGateway speaks the bridge protocol: acks subscribe silently, answers
// backfill with two historical bars out of order, then streams one live bar.
func fakeGateway(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			switch msg["type"] {
			case "subscribe":
				assert.Equal(t, "MES", msg["symbol"])
				assert.Equal(t, "1m", msg["bar_size"])
			case "backfill":
				_ = conn.WriteJSON(map[string]any{
					"type": "heartbeat",
				})
				_ = conn.WriteJSON(map[string]any{
					"type": "backfill",
					"data": []map[string]any{
						{"s": "MES", "t": 1767355260, "o": 100.5, "h": 101, "l": 100, "c": 100.8, "v": 12},
						{"s": "MES", "t": 1767355200, "o": 100, "h": 100.5, "l": 99.5, "c": 100.5, "v": 10},
					},
				})
				_ = conn.WriteJSON(map[string]any{
					"type": "bar",
					"data": []map[string]any{
						{"s": "MES", "t": 1767355320, "o": 100.8, "h": 101.5, "l": 100.7, "c": 101.4, "v": 15},
					},
				})
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, httpURL string) *Client {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpURL, "http")
	return New(testLogger(t), wsURL, "MES", "GLOBEX", "USD", 10, time.Millisecond, time.Minute).(*Client)
}

func TestClientProtocol(t *testing.T) {
	srv := fakeGateway(t)
	c := newTestClient(t, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	t.Cleanup(func() { _ = c.Close() })
	assert.True(t, c.IsConnected())
	require.NoError(t, c.Subscribe(ctx))

	// backfill skips the heartbeat frame and sorts ascending
	bars, err := c.Backfill(ctx)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.True(t, bars[0].Timestamp.Before(bars[1].Timestamp))
	assert.Equal(t, 100.5, bars[0].Close)
	assert.Equal(t, "MES", bars[0].Symbol)

	// the live bar frame queued behind the backfill response
	barCh, errCh := c.Read(ctx)
	select {
	case b := <-barCh:
		require.NotNil(t, b)
		assert.Equal(t, 101.4, b.Close)
		assert.Equal(t, time.Unix(1767355320, 0).UTC(), b.Timestamp)
	case err := <-errCh:
		t.Fatalf("unexpected stream error: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("no live bar received")
	}
}

func TestClientReconnectReestablishesStream(t *testing.T) {
	// each connection streams one live bar after subscribe, with a close
	// price encoding the connection number
	var conns int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := atomic.AddInt32(&conns, 1)
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg["type"] == "subscribe" {
				_ = conn.WriteJSON(map[string]any{
					"type": "bar",
					"data": []map[string]any{
						{"s": "MES", "t": 1767355200 + int64(n)*60, "o": 100, "h": 105, "l": 99, "c": 100 + float64(n), "v": 10},
					},
				})
			}
		}
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Subscribe(ctx))

	barCh1, errCh1 := c.Read(ctx)
	select {
	case b := <-barCh1:
		require.NotNil(t, b)
		assert.Equal(t, 101.0, b.Close)
	case <-time.After(3 * time.Second):
		t.Fatal("no bar from first connection")
	}

	require.NoError(t, c.Reconnect(ctx))
	assert.True(t, c.IsConnected())

	// the first read session is pinned to the closed connection and must
	// tear itself down instead of racing the new one
	deadline := time.After(3 * time.Second)
	for open := true; open; {
		select {
		case _, ok := <-barCh1:
			open = ok
		case <-errCh1:
		case <-deadline:
			t.Fatal("old read session did not end after reconnect")
		}
	}

	barCh2, errCh2 := c.Read(ctx)
	select {
	case b := <-barCh2:
		require.NotNil(t, b)
		assert.Equal(t, 102.0, b.Close)
	case err := <-errCh2:
		t.Fatalf("unexpected stream error: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("no bar after reconnect")
	}
}

func TestClientSubscribeRequiresConnection(t *testing.T) {
	c := New(testLogger(t), "ws://localhost:1/ws", "MES", "GLOBEX", "USD", 10, time.Millisecond, time.Minute).(*Client)
	assert.Error(t, c.Subscribe(context.Background()))
	_, err := c.Backfill(context.Background())
	assert.Error(t, err)
	assert.False(t, c.IsConnected())
}
