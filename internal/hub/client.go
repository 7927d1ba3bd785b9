package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arcwave/arbicore/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// inboundMsg is the JSON shape a client sends: at least {action, channel?}
// plus whatever payload fields the channel's handler expects.
type inboundMsg struct {
	Action  string          `json:"action"`
	Channel domain.Channel  `json:"channel"`
	Raw     json.RawMessage `json:"-"`
}

// Client is one connected WebSocket peer. Outbound frames to a single
// client are serialized through send so concurrent broadcasts never
// interleave on the wire.
type Client struct {
	ClientID string

	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu      sync.RWMutex
	subs    map[domain.Channel]bool
	metrics domain.ConnectionMetrics
}

func newClient(id string, conn *websocket.Conn, hub *Hub) *Client {
	now := time.Now()
	return &Client{
		ClientID: id,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		subs:     make(map[domain.Channel]bool),
		metrics: domain.ConnectionMetrics{
			ConnectedAt:  now,
			LastActivity: now,
		},
	}
}

func (c *Client) isSubscribed(ch domain.Channel) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[ch]
}

func (c *Client) subscribe(ch domain.Channel) {
	c.mu.Lock()
	c.subs[ch] = true
	c.mu.Unlock()
}

func (c *Client) unsubscribe(ch domain.Channel) {
	c.mu.Lock()
	delete(c.subs, ch)
	c.mu.Unlock()
}

func (c *Client) subscriptions() []domain.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Channel, 0, len(c.subs))
	for ch := range c.subs {
		out = append(out, ch)
	}
	return out
}

func (c *Client) snapshotMetrics() domain.ConnectionMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metrics
}

func (c *Client) recordSend(latency time.Duration) {
	c.mu.Lock()
	c.metrics.MessageCount++
	c.metrics.LastActivity = time.Now()
	c.metrics.LatencyMS = float64(latency.Microseconds()) / 1000.0
	c.mu.Unlock()
}

// recordError returns the error count after incrementing, so the caller can
// decide whether the disconnect threshold (>=3) has been crossed.
func (c *Client) recordError() int64 {
	c.mu.Lock()
	c.metrics.ErrorCount++
	n := c.metrics.ErrorCount
	c.mu.Unlock()
	return n
}

func (c *Client) idleFor(now time.Time) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return now.Sub(c.metrics.LastActivity)
}

// readPump reads inbound frames and dispatches them to the owning hub. It
// runs until the connection errors or closes, then unregisters the client.
func (c *Client) readPump() {
	defer func() {
		c.hub.disconnect(c.ClientID)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("hub: unexpected close error",
					slog.String("client_id", c.ClientID), slog.String("error", err.Error()))
			}
			return
		}

		c.mu.Lock()
		c.metrics.LastActivity = time.Now()
		c.mu.Unlock()

		var env map[string]json.RawMessage
		if err := json.Unmarshal(message, &env); err != nil {
			c.hub.logger.Warn("hub: inbound message not JSON",
				slog.String("client_id", c.ClientID))
			continue
		}
		var action string
		if raw, ok := env["action"]; ok {
			_ = json.Unmarshal(raw, &action)
		}
		var channel domain.Channel
		if raw, ok := env["channel"]; ok {
			_ = json.Unmarshal(raw, &channel)
		}

		c.hub.dispatch(c, channel, action, message)
	}
}

// writePump serializes outbound frames and keepalive pings onto the
// connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			start := time.Now()
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
			c.recordSend(time.Since(start))

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
