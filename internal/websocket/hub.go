package websocket

import (
	"context"
	"crypto/subtle"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HubConfig contains configuration for the WebSocket hub
type HubConfig struct {
	BroadcastClassifications bool
	BroadcastBatches         bool
	BroadcastConnections     bool
	Username                 string
	Password                 string
}

// Hub maintains the set of active clients and broadcasts events to them
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	config     HubConfig
	logger     *zap.Logger
	mu         sync.RWMutex
}

// NewHub creates a new WebSocket hub
func NewHub(config HubConfig, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		config:     config,
		logger:     logger,
	}
}

// Run handles registration and broadcasting until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Starting WebSocket hub")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case event := <-h.broadcast:
			h.broadcastEvent(event)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	active := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("Client connected",
		zap.String("client_id", client.ID),
		zap.String("client_ip", client.IP),
		zap.Int("active_connections", active),
	)

	h.BroadcastEvent(Event{
		Type:      EventTypeConnection,
		Timestamp: time.Now(),
		Data:      ConnectionEvent{Action: "connected", ClientID: client.ID, ClientIP: client.IP},
	})
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.Send)
	}
	active := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}

	h.logger.Info("Client disconnected",
		zap.String("client_id", client.ID),
		zap.String("client_ip", client.IP),
		zap.Int("active_connections", active),
	)

	h.BroadcastEvent(Event{
		Type:      EventTypeConnection,
		Timestamp: time.Now(),
		Data:      ConnectionEvent{Action: "disconnected", ClientID: client.ID, ClientIP: client.IP},
	})
}

// broadcastEvent delivers an event to subscribed clients, dropping clients that fall behind
func (h *Hub) broadcastEvent(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if !client.wants(event.Type) {
			continue
		}
		select {
		case client.Send <- event:
		default:
			h.logger.Warn("Client send channel full, closing connection",
				zap.String("client_id", client.ID),
			)
			delete(h.clients, client)
			close(client.Send)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		delete(h.clients, client)
		close(client.Send)
	}
}

// BroadcastEvent queues an event for all clients if its type is enabled
func (h *Hub) BroadcastEvent(event Event) {
	if !h.shouldBroadcastEvent(event.Type) {
		return
	}

	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("Broadcast channel full, dropping event",
			zap.String("event_type", string(event.Type)),
		)
	}
}

func (h *Hub) shouldBroadcastEvent(eventType EventType) bool {
	switch eventType {
	case EventTypeClassification:
		return h.config.BroadcastClassifications
	case EventTypeBatchCompleted:
		return h.config.BroadcastBatches
	case EventTypeConnection:
		return h.config.BroadcastConnections
	default:
		return false
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket authenticates and upgrades a dashboard connection
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || !h.validCredentials(user, pass) {
		w.Header().Set("WWW-Authenticate", `Basic realm="logsort"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:          uuid.NewString(),
		Conn:        conn,
		Send:        make(chan Event, 256),
		ConnectedAt: time.Now(),
		IP:          clientIP(r),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(client)
	go h.readPump(client)
}

func (h *Hub) validCredentials(user, pass string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(h.config.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(h.config.Password)) == 1
	return userOK && passOK
}

// writePump sends queued events and pings to the client
func (h *Hub) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case event, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Conn.WriteJSON(event); err != nil {
				h.logger.Error("Failed to write WebSocket message",
					zap.String("client_id", client.ID),
					zap.Error(err),
				)
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump processes subscribe and ping messages until the client goes away
func (h *Hub) readPump(client *Client) {
	defer func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(maxMessageSize)
	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg ClientMessage
		if err := client.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket error",
					zap.String("client_id", client.ID),
					zap.Error(err),
				)
			}
			return
		}

		h.handleClientMessage(client, msg)
	}
}

func (h *Hub) handleClientMessage(client *Client, msg ClientMessage) {
	switch msg.Type {
	case "subscribe":
		subscription := make(map[EventType]bool, len(msg.Events))
		for _, t := range msg.Events {
			subscription[t] = true
		}

		h.mu.Lock()
		client.subscription = subscription
		h.mu.Unlock()

		h.logger.Info("Client subscription updated",
			zap.String("client_id", client.ID),
			zap.Int("event_types", len(subscription)),
		)
	case "ping":
		h.mu.RLock()
		defer h.mu.RUnlock()
		if !h.clients[client] {
			return
		}
		select {
		case client.Send <- Event{Type: EventTypePong, Timestamp: time.Now()}:
		default:
		}
	}
}

// clientIP extracts the client IP from the request
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
