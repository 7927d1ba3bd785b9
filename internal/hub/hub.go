// Package hub implements the Connection Hub: WebSocket fan-out across the
// market, trades, portfolio, strategies, emotions, and preferences channels,
// with per-client subscriptions, metrics, and a stale-connection reaper.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arcwave/arbicore/internal/domain"
)

const (
	reaperInterval  = 60 * time.Second
	idleThreshold   = 300 * time.Second
	errorThreshold  = 3
	sendDeadline    = 2 * time.Second
)

// Handler processes one inbound message on a channel.
type Handler func(ctx context.Context, clientID string, channel domain.Channel, raw []byte) error

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub is the single logical owner of the connection table: clients,
// per-channel subscriber sets, and the inbound handler map. All mutations
// funnel through its methods under mu.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	channels map[domain.Channel]map[string]*Client
	handlers map[domain.Channel]Handler

	bus    domain.SignalBus // optional cross-process broadcast fan-out
	logger *slog.Logger
}

// New creates a Hub. bus may be nil, in which case broadcasts stay local to
// this process's connected clients.
func New(bus domain.SignalBus, logger *slog.Logger) *Hub {
	return &Hub{
		clients:  make(map[string]*Client),
		channels: make(map[domain.Channel]map[string]*Client),
		handlers: make(map[domain.Channel]Handler),
		bus:      bus,
		logger:   logger,
	}
}

// RegisterHandler wires an inbound dispatch function for a channel.
func (h *Hub) RegisterHandler(channel domain.Channel, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[channel] = handler
}

// ServeWS upgrades the request to a WebSocket connection and registers the
// client under clientID.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, clientID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("hub: upgrade: %w", err)
	}

	if ok := h.connect(clientID, conn); !ok {
		conn.Close()
		return fmt.Errorf("hub: connect %s failed", clientID)
	}
	return nil
}

// connect implements the Connect contract: handshake already happened by the
// time this is called; register the client and initialize its metrics.
// Fails only if the connection is nil.
func (h *Hub) connect(clientID string, conn *websocket.Conn) bool {
	if conn == nil {
		return false
	}

	c := newClient(clientID, conn, h)

	h.mu.Lock()
	h.clients[clientID] = c
	h.mu.Unlock()

	h.logger.Info("hub: client connected", slog.String("client_id", clientID), slog.Int("total", h.ClientCount()))

	go c.writePump()
	go c.readPump()
	return true
}

// disconnect closes the socket best-effort, purges the client from every
// channel, and drops its metrics.
func (h *Hub) disconnect(clientID string) {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, clientID)
	for ch, members := range h.channels {
		delete(members, clientID)
		if len(members) == 0 {
			delete(h.channels, ch)
		}
	}
	h.mu.Unlock()

	close(c.send)
	_ = c.conn.Close()

	h.logger.Info("hub: client disconnected", slog.String("client_id", clientID), slog.Int("total", h.ClientCount()))
}

// Disconnect is the exported form of the disconnect contract, usable by
// operators or the reaper's caller.
func (h *Hub) Disconnect(clientID string) { h.disconnect(clientID) }

// Subscribe adds clientID to channel's member set. Idempotent.
func (h *Hub) Subscribe(clientID string, channel domain.Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[clientID]
	if !ok {
		return
	}
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[string]*Client)
	}
	h.channels[channel][clientID] = c
	c.subscribe(channel)
}

// Unsubscribe removes clientID from channel's member set. A no-op if the
// client was never subscribed.
func (h *Hub) Unsubscribe(clientID string, channel domain.Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.channels[channel]; ok {
		delete(members, clientID)
		if len(members) == 0 {
			delete(h.channels, channel)
		}
	}
	if c, ok := h.clients[clientID]; ok {
		c.unsubscribe(channel)
	}
}

// Broadcast serializes data once and sends it to every member of channel
// concurrently, never blocking on a slow peer beyond sendDeadline. If
// channel is empty, broadcasts to every connected client. Returns the
// number of sends that failed or were dropped.
func (h *Hub) Broadcast(ctx context.Context, data interface{}, channel domain.Channel) int {
	frame := domain.Frame{
		Type:      "event",
		Data:      data,
		Timestamp: time.Now().UTC(),
		Channel:   channel,
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("hub: marshal broadcast", slog.String("error", err.Error()))
		return 0
	}

	h.mu.RLock()
	var targets []*Client
	if channel == "" {
		targets = make([]*Client, 0, len(h.clients))
		for _, c := range h.clients {
			targets = append(targets, c)
		}
	} else {
		members := h.channels[channel]
		targets = make([]*Client, 0, len(members))
		for _, c := range members {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	var failed int
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, c := range targets {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			select {
			case c.send <- payload:
			case <-time.After(sendDeadline):
				mu.Lock()
				failed++
				mu.Unlock()
				if n := c.recordError(); n >= errorThreshold {
					h.disconnect(c.ClientID)
				}
			}
		}(c)
	}
	wg.Wait()

	if h.bus != nil && channel != "" {
		if err := h.bus.Publish(ctx, string(channel), payload); err != nil {
			h.logger.Warn("hub: publish to bus failed", slog.String("channel", string(channel)), slog.String("error", err.Error()))
		}
	}

	return failed
}

// SendToClient sends data directly to one client, bypassing subscriptions.
func (h *Hub) SendToClient(clientID string, data interface{}) bool {
	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		h.logger.Warn("hub: send to non-existent client", slog.String("client_id", clientID))
		return false
	}

	frame := domain.Frame{Type: "direct", Data: data, Timestamp: time.Now().UTC()}
	payload, err := json.Marshal(frame)
	if err != nil {
		return false
	}

	select {
	case c.send <- payload:
		return true
	case <-time.After(sendDeadline):
		if n := c.recordError(); n >= errorThreshold {
			h.disconnect(clientID)
		}
		return false
	}
}

// dispatch routes one inbound frame to its channel's registered handler,
// isolating the handler's errors from the read loop.
func (h *Hub) dispatch(c *Client, channel domain.Channel, action string, raw []byte) {
	if action == "subscribe" {
		h.Subscribe(c.ClientID, channel)
	} else if action == "unsubscribe" {
		h.Unsubscribe(c.ClientID, channel)
	}

	h.mu.RLock()
	handler, ok := h.handlers[channel]
	h.mu.RUnlock()
	if !ok {
		h.logger.Warn("hub: no handler for channel", slog.String("channel", string(channel)))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := handler(ctx, c.ClientID, channel, raw); err != nil {
		h.logger.Warn("hub: handler error",
			slog.String("channel", string(channel)), slog.String("client_id", c.ClientID), slog.String("error", err.Error()))
		c.recordError()
	}
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats is a snapshot of hub-wide and per-client metrics.
type Stats struct {
	TotalConnections int
	ChannelCounts    map[domain.Channel]int
	Clients          map[string]domain.ConnectionMetrics
}

// Metrics returns total connections, per-channel counts, and per-client
// message/error counts and latency.
func (h *Hub) Metrics() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := Stats{
		TotalConnections: len(h.clients),
		ChannelCounts:    make(map[domain.Channel]int, len(h.channels)),
		Clients:          make(map[string]domain.ConnectionMetrics, len(h.clients)),
	}
	for ch, members := range h.channels {
		stats.ChannelCounts[ch] = len(members)
	}
	for id, c := range h.clients {
		stats.Clients[id] = c.snapshotMetrics()
	}
	return stats
}

// RunReaper runs the stale-connection reaper until ctx is cancelled:
// every reaperInterval it disconnects clients idle longer than
// idleThreshold or with error_count >= errorThreshold.
func (h *Hub) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.reapOnce()
		}
	}
}

func (h *Hub) reapOnce() {
	now := time.Now()

	h.mu.RLock()
	var stale []string
	for id, c := range h.clients {
		m := c.snapshotMetrics()
		if now.Sub(m.LastActivity) > idleThreshold || m.ErrorCount >= errorThreshold {
			stale = append(stale, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range stale {
		h.logger.Info("hub: reaping stale client", slog.String("client_id", id))
		h.disconnect(id)
	}
}
