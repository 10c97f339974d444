package events

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sanraksh/sanraksh/internal/config"
)

const (
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultPingInterval   = 54 * time.Second
	defaultMaxMessageSize = 512
)

// HubStats tracks feed statistics
type HubStats struct {
	TotalConnections  int64     `json:"total_connections"`
	ActiveConnections int       `json:"active_connections"`
	TotalBroadcasts   int64     `json:"total_broadcasts"`
	DroppedEvents     int64     `json:"dropped_events"`
	LastEventTime     time.Time `json:"last_event_time"`
}

// Hub maintains active feed clients and broadcasts events to them
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	config     *config.WebSocketConfig
	logger     *zap.Logger
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	stats      *HubStats
}

// NewHub creates a new feed hub
func NewHub(cfg *config.WebSocketConfig, logger *zap.Logger) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		config:     cfg,
		logger:     logger,
		stats:      &HubStats{},
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(cfg.AllowedOrigins, r.Header.Get("Origin"))
		},
	}
	return h
}

// originAllowed reports whether origin may open a feed connection. An empty
// origin header means a non-browser client and is always allowed.
func originAllowed(allowed []string, origin string) bool {
	if origin == "" || len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case event := <-h.broadcast:
			h.broadcastEvent(event)
		}
	}
}

// registerClient adds a new client to the hub
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.stats.TotalConnections++
	h.stats.ActiveConnections = len(h.clients)
	h.mu.Unlock()

	h.logger.Info("Feed client connected",
		zap.String("client_id", client.ID),
		zap.String("client_ip", client.IP),
		zap.Int("active_connections", h.stats.ActiveConnections))

	h.broadcastToOthers(client, Event{
		Type:      EventTypeConnection,
		Timestamp: time.Now(),
		Data: ConnectionEvent{
			Action:   "connected",
			ClientID: client.ID,
			ClientIP: client.IP,
		},
	})
}

// unregisterClient removes a client from the hub
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.Send)
		h.stats.ActiveConnections = len(h.clients)
	}
	h.mu.Unlock()

	h.logger.Info("Feed client disconnected",
		zap.String("client_id", client.ID),
		zap.Int("active_connections", h.stats.ActiveConnections))

	h.broadcastToOthers(client, Event{
		Type:      EventTypeConnection,
		Timestamp: time.Now(),
		Data: ConnectionEvent{
			Action:   "disconnected",
			ClientID: client.ID,
		},
	})
}

// broadcastEvent sends an event to all subscribed clients, evicting any
// client whose send buffer is full.
func (h *Hub) broadcastEvent(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stats.TotalBroadcasts++
	h.stats.LastEventTime = event.Timestamp

	for client := range h.clients {
		if !shouldSendToClient(client, event) {
			continue
		}
		select {
		case client.Send <- event:
		default:
			delete(h.clients, client)
			close(client.Send)
			h.stats.ActiveConnections = len(h.clients)
			h.stats.DroppedEvents++
			h.logger.Warn("Evicting slow feed client",
				zap.String("client_id", client.ID))
		}
	}
}

// broadcastToOthers sends an event to all clients except the one given
func (h *Hub) broadcastToOthers(exclude *Client, event Event) {
	if !h.shouldBroadcastEvent(event.Type) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if client == exclude || !shouldSendToClient(client, event) {
			continue
		}
		select {
		case client.Send <- event:
		default:
			delete(h.clients, client)
			close(client.Send)
			h.stats.ActiveConnections = len(h.clients)
			h.stats.DroppedEvents++
		}
	}
}

// shouldSendToClient checks a client's subscription against the event type.
// Clients without an explicit subscription receive everything.
func shouldSendToClient(client *Client, event Event) bool {
	if client.Subscription == nil || len(client.Subscription.Events) == 0 {
		return true
	}
	for _, t := range client.Subscription.Events {
		if t == event.Type {
			return true
		}
	}
	return false
}

// shouldBroadcastEvent checks whether the configured toggles allow this
// event class on the feed at all.
func (h *Hub) shouldBroadcastEvent(eventType EventType) bool {
	switch eventType {
	case EventTypeRecordProcessed:
		return h.config.Events.BroadcastRecords
	case EventTypeStatsSnapshot:
		return h.config.Events.BroadcastStats
	case EventTypeRulesReloaded, EventTypeConnection:
		return h.config.Events.BroadcastSystem
	default:
		return true
	}
}

// BroadcastEvent queues an event for all connected clients. It never blocks;
// when the queue is full the event is dropped and counted.
func (h *Hub) BroadcastEvent(event Event) {
	if !h.config.Enabled || !h.shouldBroadcastEvent(event.Type) {
		return
	}

	select {
	case h.broadcast <- event:
	default:
		h.mu.Lock()
		h.stats.DroppedEvents++
		h.mu.Unlock()
		h.logger.Warn("Feed queue full, dropping event",
			zap.String("event_type", string(event.Type)))
	}
}

// HandleWebSocket upgrades an HTTP request to a feed connection
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !h.config.Enabled {
		http.Error(w, "Event feed is disabled", http.StatusNotFound)
		return
	}

	h.mu.RLock()
	active := len(h.clients)
	h.mu.RUnlock()
	if h.config.MaxConnections > 0 && active >= h.config.MaxConnections {
		h.logger.Warn("Rejecting feed connection, hub at capacity",
			zap.Int("active_connections", active),
			zap.Int("max_connections", h.config.MaxConnections))
		http.Error(w, "Too many feed connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Feed upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		ID:          fmt.Sprintf("client_%s", uuid.NewString()[:8]),
		Conn:        conn,
		Send:        make(chan Event, 256),
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
		IP:          clientIP(r),
		UserAgent:   r.UserAgent(),
	}

	h.register <- client

	go h.writePump(client)
	go h.readPump(client)
}

// writePump pushes queued events and pings to the client connection
func (h *Hub) writePump(client *Client) {
	ticker := time.NewTicker(h.pingInterval())
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case event, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(h.writeWait()))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteJSON(event); err != nil {
				h.logger.Debug("Feed write failed",
					zap.String("client_id", client.ID),
					zap.Error(err))
				return
			}
		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(h.writeWait()))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes client messages and keeps the pong deadline fresh
func (h *Hub) readPump(client *Client) {
	defer func() {
		h.unregister <- client
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(h.maxMessageSize())
	client.Conn.SetReadDeadline(time.Now().Add(h.pongWait()))
	client.Conn.SetPongHandler(func(string) error {
		client.LastPing = time.Now()
		client.Conn.SetReadDeadline(time.Now().Add(h.pongWait()))
		return nil
	})

	for {
		var msg ClientMessage
		if err := client.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("Feed read failed",
					zap.String("client_id", client.ID),
					zap.Error(err))
			}
			return
		}
		h.handleClientMessage(client, msg)
	}
}

// handleClientMessage processes subscribe and ping messages from a client
func (h *Hub) handleClientMessage(client *Client, msg ClientMessage) {
	switch msg.Type {
	case "subscribe":
		raw, err := json.Marshal(msg.Data)
		if err != nil {
			return
		}
		var sub SubscriptionRequest
		if err := json.Unmarshal(raw, &sub); err != nil {
			h.logger.Debug("Ignoring malformed subscription",
				zap.String("client_id", client.ID))
			return
		}
		// Written from the read pump, read by the broadcast path.
		h.mu.Lock()
		client.Subscription = &sub
		h.mu.Unlock()
		h.logger.Debug("Feed client subscribed",
			zap.String("client_id", client.ID),
			zap.Int("event_types", len(sub.Events)))
	case "ping":
		select {
		case client.Send <- Event{Type: "pong", Timestamp: time.Now()}:
		default:
		}
	}
}

// GetStats returns a copy of the current hub statistics
func (h *Hub) GetStats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := *h.stats
	stats.ActiveConnections = len(h.clients)
	return stats
}

// pingInterval returns the configured ping cadence, defaulting to 90% of
// the pong window so pings always land before the deadline.
func (h *Hub) pingInterval() time.Duration {
	if h.config.PingInterval > 0 {
		return h.config.PingInterval
	}
	return defaultPingInterval
}

func (h *Hub) pongWait() time.Duration {
	if h.config.PongTimeout > 0 {
		return h.config.PongTimeout
	}
	return defaultPongWait
}

func (h *Hub) writeWait() time.Duration {
	if h.config.WriteTimeout > 0 {
		return h.config.WriteTimeout
	}
	return defaultWriteWait
}

func (h *Hub) maxMessageSize() int64 {
	if h.config.MaxMessageSize > 0 {
		return h.config.MaxMessageSize
	}
	return defaultMaxMessageSize
}

// clientIP extracts the client address, preferring proxy headers
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if rip := r.Header.Get("X-Real-IP"); rip != "" {
		return rip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
