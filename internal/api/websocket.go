package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"market-signal-bot/internal/events"
	"market-signal-bot/internal/logging"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origins are enforced by the gateway
		return true
	},
}

// streamedEvents are forwarded to /ws/automation subscribers
var streamedEvents = []events.EventType{
	events.EventAnalysisGenerated,
	events.EventSignalGenerated,
	events.EventSignalSuppressed,
	events.EventTradeCreated,
	events.EventAlertCreated,
	events.EventSettingsUpdated,
	events.EventError,
}

// WSClient represents a WebSocket client
type WSClient struct {
	conn      *websocket.Conn
	send      chan []byte
	hub       *WSHub
	userID    string
	closeOnce sync.Once
	closeChan chan struct{}
}

type userMessage struct {
	userID string // empty means every client
	data   []byte
}

// WSHub manages all WebSocket clients. Events carrying a user_id reach only
// that user's connections.
type WSHub struct {
	clients     map[*WSClient]bool
	userClients map[string][]*WSClient
	broadcast   chan userMessage
	register    chan *WSClient
	unregister  chan *WSClient
	done        chan struct{}
	stopOnce    sync.Once
	mu          sync.RWMutex
	logger      *logging.Logger
}

// NewWSHub creates a new WebSocket hub
func NewWSHub() *WSHub {
	return &WSHub{
		clients:     make(map[*WSClient]bool),
		userClients: make(map[string][]*WSClient),
		broadcast:   make(chan userMessage, 4096),
		register:    make(chan *WSClient),
		unregister:  make(chan *WSClient),
		done:        make(chan struct{}),
		logger:      logging.WithComponent("websocket"),
	}
}

// Attach forwards the automation events of bus to connected clients
func (h *WSHub) Attach(bus *events.EventBus) {
	for _, t := range streamedEvents {
		bus.Subscribe(t, h.BroadcastEvent)
	}
}

// Run starts the WebSocket hub. It returns after Stop.
func (h *WSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			if client.userID != "" {
				h.userClients[client.userID] = append(h.userClients[client.userID], client)
			}
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for _, client := range h.targetsLocked(msg.userID) {
				select {
				case client.send <- msg.data:
				default:
					// Slow consumer
					h.removeLocked(client)
				}
			}
			h.mu.Unlock()

		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				h.removeLocked(client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop closes every client and ends Run
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// targetsLocked lists the clients a message for userID goes to.
// Caller must hold the lock.
func (h *WSHub) targetsLocked(userID string) []*WSClient {
	if userID != "" {
		return append([]*WSClient(nil), h.userClients[userID]...)
	}
	out := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// removeLocked drops a client and closes its send channel.
// Caller must hold the lock.
func (h *WSHub) removeLocked(client *WSClient) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)

	if client.userID == "" {
		return
	}
	clients := h.userClients[client.userID]
	for i, c := range clients {
		if c == client {
			h.userClients[client.userID] = append(clients[:i], clients[i+1:]...)
			break
		}
	}
	if len(h.userClients[client.userID]) == 0 {
		delete(h.userClients, client.userID)
	}
}

// BroadcastEvent queues an event for its user, or for everyone when the
// event is not user scoped
func (h *WSHub) BroadcastEvent(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("Failed to marshal event", "type", event.Type, "error", err)
		return
	}

	uid, _ := event.Data["user_id"].(string)
	select {
	case h.broadcast <- userMessage{userID: uid, data: data}:
	default:
		h.logger.Warn("Broadcast channel full, dropping message", "type", event.Type)
	}
}

// GetClientCount returns the number of connected clients
func (h *WSHub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *WSClient) close() {
	c.closeOnce.Do(func() { close(c.closeChan) })
}

// writePump pumps messages from the hub to the websocket connection
func (c *WSClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug("WebSocket write error", "user_id", c.userID, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closeChan:
			return
		}
	}
}

// readPump drains the connection so pongs and close frames are seen
func (c *WSClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
		c.close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("WebSocket read error", "user_id", c.userID, "error", err)
			}
			return
		}
	}
}

// handleWebSocket streams automation events for the caller
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade connection", "error", err)
		return
	}

	client := &WSClient{
		conn:      conn,
		send:      make(chan []byte, 256),
		hub:       s.hub,
		userID:    userID(c),
		closeChan: make(chan struct{}),
	}

	// Queue the welcome before registering so it is the first frame
	welcome := map[string]interface{}{
		"type":      "CONNECTED",
		"message":   "WebSocket connection established",
		"userId":    client.userID,
		"timestamp": time.Now(),
	}
	if data, err := json.Marshal(welcome); err == nil {
		client.send <- data
	}

	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
