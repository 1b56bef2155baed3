package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/lobstream/internal/models"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func enriched(mid float64) models.EnrichedSnapshot {
	return models.EnrichedSnapshot{
		Timestamp:     time.Now().UTC(),
		MidPrice:      mid,
		Anomalies:     []models.AnomalyEvent{},
		LiquidityGaps: []models.GapEvent{},
	}
}

func TestHubSendsHistoryFrameFirst(t *testing.T) {
	history := []models.EnrichedSnapshot{enriched(100), enriched(101)}
	hub := NewHub(func() []models.EnrichedSnapshot { return history }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn := dialHub(t, hub)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame struct {
		Type string                    `json:"type"`
		Data []models.EnrichedSnapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(payload, &frame))
	assert.Equal(t, "history", frame.Type)
	require.Len(t, frame.Data, 2)
	assert.Equal(t, 100.0, frame.Data[0].MidPrice)
	assert.Equal(t, 101.0, frame.Data[1].MidPrice)
}

func TestHubEmptyHistory(t *testing.T) {
	hub := NewHub(func() []models.EnrichedSnapshot { return nil }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn := dialHub(t, hub)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"data":[]`, "history data must be an array even when empty")
}

func TestHubBroadcastReachesSubscriber(t *testing.T) {
	hub := NewHub(func() []models.EnrichedSnapshot { return nil }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn := dialHub(t, hub)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	// Skip the history frame.
	_, _, err := conn.ReadMessage()
	require.NoError(t, err)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	hub.Broadcast(enriched(123.45))

	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var snap models.EnrichedSnapshot
	require.NoError(t, json.Unmarshal(payload, &snap))
	assert.Equal(t, 123.45, snap.MidPrice)
}

func TestHubForwardsOrderMessages(t *testing.T) {
	var mu sync.Mutex
	var orders []models.OrderRequest
	hub := NewHub(func() []models.EnrichedSnapshot { return nil }, func(req models.OrderRequest) {
		mu.Lock()
		orders = append(orders, req)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn := dialHub(t, hub)
	require.NoError(t, conn.WriteJSON(models.OrderRequest{Type: "ORDER", Side: "buy", Quantity: 10}))
	// Non-order messages are ignored without dropping the connection.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"PING"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, conn.WriteJSON(models.OrderRequest{Type: "ORDER", Side: "sell", Quantity: 3}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(orders) == 2
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "buy", orders[0].Side)
	assert.Equal(t, 10, orders[0].Quantity)
	assert.Equal(t, "sell", orders[1].Side)
}

func TestHubRefusesSubscribersAfterStop(t *testing.T) {
	hub := NewHub(func() []models.EnrichedSnapshot { return nil }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case <-hub.done:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusGone, resp.StatusCode)

	// Broadcasts after stop are discarded, never queued.
	for i := 0; i < 300; i++ {
		hub.Broadcast(enriched(100))
	}
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHubRemovesClientOnDisconnect(t *testing.T) {
	hub := NewHub(func() []models.EnrichedSnapshot { return nil }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn := dialHub(t, hub)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}
