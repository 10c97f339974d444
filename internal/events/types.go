package events

import (
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of feed event
type EventType string

const (
	// EventTypeRecordProcessed fires for each record the sidecar redacts
	EventTypeRecordProcessed EventType = "record.processed"
	// EventTypeRulesReloaded fires when a config reload swaps the engine
	EventTypeRulesReloaded EventType = "rules.reloaded"
	// EventTypeStatsSnapshot carries the periodic counter snapshot
	EventTypeStatsSnapshot EventType = "stats.snapshot"
	// EventTypeConnection represents feed connection events
	EventTypeConnection EventType = "connection"
)

// Event is one message on the feed. Data carries category names and counts
// only; field values, masked or raw, never enter the feed.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// RecordProcessedEvent reports one redacted record
type RecordProcessedEvent struct {
	RecordID     string   `json:"record_id"`
	IsPII        bool     `json:"is_pii"`
	Categories   []string `json:"categories,omitempty"`
	CacheHit     bool     `json:"cache_hit,omitempty"`
	ProcessingMS float64  `json:"processing_ms"`
}

// RulesReloadedEvent reports an engine swap
type RulesReloadedEvent struct {
	PolicyVersion string `json:"policy_version"`
	Rules         int    `json:"rules"`
	Signatures    int    `json:"signatures"`
}

// StatsSnapshotEvent carries the periodic counters
type StatsSnapshotEvent struct {
	Status           string           `json:"status"`
	Uptime           string           `json:"uptime"`
	TotalRequests    int64            `json:"total_requests"`
	TotalRecords     int64            `json:"total_records"`
	TotalFlagged     int64            `json:"total_flagged"`
	CategoryCounts   map[string]int64 `json:"category_counts,omitempty"`
	CacheHits        int64            `json:"cache_hits"`
	CacheMisses      int64            `json:"cache_misses"`
	ConnectedClients int              `json:"connected_clients"`
}

// ConnectionEvent represents feed connection events
type ConnectionEvent struct {
	Action   string `json:"action"` // "connected", "disconnected"
	ClientID string `json:"client_id"`
	ClientIP string `json:"client_ip"`
	Message  string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to the server
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest narrows a client's feed to the listed event types
type SubscriptionRequest struct {
	Events []EventType `json:"events"`
}

// Client represents one feed connection
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	LastPing     time.Time
	IP           string
	UserAgent    string
}
