package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeClassification is sent for each single-line classification
	EventTypeClassification EventType = "classification"
	// EventTypeBatchCompleted is sent when an uploaded file has been classified
	EventTypeBatchCompleted EventType = "batch_completed"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// ClassificationEvent describes one classified line
type ClassificationEvent struct {
	Source    string  `json:"source,omitempty"`
	Label     string  `json:"label"`
	Matched   bool    `json:"matched"`
	RuleIndex int     `json:"rule_index"`
	ElapsedMS float64 `json:"elapsed_ms"`
}

// BatchCompletedEvent summarises a classified upload
type BatchCompletedEvent struct {
	JobID       string         `json:"job_id"`
	Filename    string         `json:"filename"`
	TotalLogs   int            `json:"total_logs"`
	Skipped     int            `json:"skipped"`
	LabelCounts map[string]int `json:"label_counts"`
	DurationMS  float64        `json:"duration_ms"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action   string `json:"action"` // "connected", "disconnected"
	ClientID string `json:"client_id"`
	ClientIP string `json:"client_ip"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type   string      `json:"type"`
	Events []EventType `json:"events,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID          string
	Conn        *websocket.Conn
	Send        chan Event
	ConnectedAt time.Time
	IP          string

	// subscribed event types; nil means all
	subscription map[EventType]bool
}

func (c *Client) wants(t EventType) bool {
	if c.subscription == nil {
		return true
	}
	return c.subscription[t]
}
