package hub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcwave/arbicore/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBus struct {
	mu        sync.Mutex
	published []string
}

func (b *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, channel)
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *fakeBus) StreamAppend(ctx context.Context, stream string, payload []byte) error { return nil }

func (b *fakeBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func dialClient(t *testing.T, h *Hub, clientID string) (*websocket.Conn, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, h.ServeWS(w, r, clientID))
	}))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn, srv
}

func waitForClientCount(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if h.ClientCount() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, n, h.ClientCount())
}

func TestServeWSRegistersClient(t *testing.T) {
	h := New(nil, testLogger())
	conn, srv := dialClient(t, h, "client-1")
	defer srv.Close()
	defer conn.Close()

	waitForClientCount(t, h, 1)
	assert.Equal(t, 1, h.ClientCount())
}

func TestDisconnectRemovesClientFromAllChannels(t *testing.T) {
	h := New(nil, testLogger())
	conn, srv := dialClient(t, h, "client-1")
	defer srv.Close()
	defer conn.Close()
	waitForClientCount(t, h, 1)

	h.Subscribe("client-1", domain.ChannelMarket)
	h.Disconnect("client-1")

	waitForClientCount(t, h, 0)
	stats := h.Metrics()
	assert.Equal(t, 0, stats.ChannelCounts[domain.ChannelMarket])
}

func TestBroadcastDeliversToSubscribedClientOnly(t *testing.T) {
	h := New(nil, testLogger())
	connA, srvA := dialClient(t, h, "client-a")
	defer srvA.Close()
	defer connA.Close()
	connB, srvB := dialClient(t, h, "client-b")
	defer srvB.Close()
	defer connB.Close()
	waitForClientCount(t, h, 2)

	h.Subscribe("client-a", domain.ChannelMarket)

	failed := h.Broadcast(context.Background(), map[string]string{"price": "100"}, domain.ChannelMarket)
	assert.Equal(t, 0, failed)

	connA.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := connA.ReadMessage()
	require.NoError(t, err)

	var frame domain.Frame
	require.NoError(t, json.Unmarshal(msg, &frame))
	assert.Equal(t, domain.ChannelMarket, frame.Channel)
}

func TestBroadcastPublishesToSignalBusWhenConfigured(t *testing.T) {
	bus := &fakeBus{}
	h := New(bus, testLogger())
	conn, srv := dialClient(t, h, "client-1")
	defer srv.Close()
	defer conn.Close()
	waitForClientCount(t, h, 1)

	h.Subscribe("client-1", domain.ChannelTrades)
	h.Broadcast(context.Background(), "tick", domain.ChannelTrades)

	connReadOneMessage(t, conn)

	bus.mu.Lock()
	defer bus.mu.Unlock()
	require.Len(t, bus.published, 1)
	assert.Equal(t, string(domain.ChannelTrades), bus.published[0])
}

func connReadOneMessage(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	require.NoError(t, err)
}

func TestSendToClientReturnsFalseForUnknownClient(t *testing.T) {
	h := New(nil, testLogger())
	ok := h.SendToClient("ghost", "payload")
	assert.False(t, ok)
}

func TestRegisterHandlerDispatchesInboundMessage(t *testing.T) {
	h := New(nil, testLogger())
	received := make(chan string, 1)
	h.RegisterHandler(domain.ChannelPreferences, func(ctx context.Context, clientID string, channel domain.Channel, raw []byte) error {
		received <- clientID
		return nil
	})

	conn, srv := dialClient(t, h, "client-1")
	defer srv.Close()
	defer conn.Close()
	waitForClientCount(t, h, 1)

	msg, _ := json.Marshal(map[string]string{"action": "ping", "channel": string(domain.ChannelPreferences)})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, msg))

	select {
	case clientID := <-received:
		assert.Equal(t, "client-1", clientID)
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}
}
