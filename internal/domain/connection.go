package domain

import "time"

// Channel is a named topic on the Connection Hub.
type Channel string

const (
	ChannelMarket      Channel = "market"
	ChannelTrades      Channel = "trades"
	ChannelPortfolio   Channel = "portfolio"
	ChannelStrategies  Channel = "strategies"
	ChannelEmotions    Channel = "emotions"
	ChannelPreferences Channel = "preferences"
)

// ConnectionMetrics tracks per-client traffic counters for monitoring.
//
// Invariant: client_id is unique across the active set; disconnect removes
// all subscriptions for that client.
type ConnectionMetrics struct {
	ConnectedAt  time.Time
	MessageCount int64
	ErrorCount   int64
	LastActivity time.Time
	LatencyMS    float64
}

// Frame is the envelope for every server-originated WebSocket message.
type Frame struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
	Channel   Channel     `json:"channel,omitempty"`
}
