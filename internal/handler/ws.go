package handler

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"

	"tourguard/internal/auth"
	"tourguard/internal/model"
	"tourguard/internal/service"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	// Heartbeat interval
	pingInterval = 30 * time.Second
	// Write timeout
	writeTimeout = 10 * time.Second
)

// WSMessage represents a WebSocket message from client
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Client is one dashboard connection. It only receives alerts whose scope
// is visible to Scope; TouristID narrows further when set.
type Client struct {
	ID        string
	Conn      *websocket.Conn
	Send      chan []byte
	Hub       *WSHub
	Scope     string
	TouristID string
	mu        sync.RWMutex
}

func (c *Client) wants(n *model.Notification) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !model.ScopeMatches(c.Scope, n.Scope) {
		return false
	}
	return c.TouristID == "" || c.TouristID == n.TouristID
}

type broadcastMsg struct {
	n    model.Notification
	data []byte
}

// WSHub fans alert notifications out to connected dashboards. It feeds
// from the NATS alert subjects when a connection is given, and can also be
// used directly as a Notifier.
type WSHub struct {
	clients    map[*Client]bool
	broadcast  chan broadcastMsg
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
	natsConn   *nats.Conn
	sub        *nats.Subscription
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub
func NewWSHub(nc *nats.Conn) *WSHub {
	return &WSHub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		natsConn:   nc,
	}
}

// Run starts the hub's event loop. It returns after Stop.
func (h *WSHub) Run() {
	if h.natsConn != nil {
		sub, err := h.natsConn.Subscribe(service.AlertSubjectPrefix+".*", func(msg *nats.Msg) {
			var n model.Notification
			if err := json.Unmarshal(msg.Data, &n); err != nil {
				log.Printf("[WS] Failed to unmarshal alert message: %v", err)
				return
			}
			h.publish(n)
		})
		if err != nil {
			log.Printf("[WS] Failed to subscribe to NATS alerts: %v", err)
		} else {
			h.sub = sub
			log.Printf("[WS] Hub started, subscribed to %s.*", service.AlertSubjectPrefix)
		}
	} else {
		log.Println("[WS] Hub started without NATS, alerts are pushed by the dispatcher")
	}

	for {
		select {
		case <-h.done:
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("[WS] Client connected: %s scope=%q, total clients: %d", client.ID, client.Scope, total)

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				if client.wants(&msg.n) {
					clients = append(clients, client)
				}
			}
			h.mu.RUnlock()

			for _, client := range clients {
				select {
				case client.Send <- msg.data:
				default:
					// Send buffer full, drop the client.
					h.remove(client)
				}
			}
		}
	}
}

func (h *WSHub) remove(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.Send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	if ok {
		log.Printf("[WS] Client disconnected: %s, total clients: %d", client.ID, total)
	}
}

func (h *WSHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.Send)
		delete(h.clients, client)
	}
}

// Stop unsubscribes and disconnects every client.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() {
		if h.sub != nil {
			h.sub.Unsubscribe()
		}
		close(h.done)
	})
}

// GetClientCount returns the number of connected clients
func (h *WSHub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WSHub) publish(n model.Notification) bool {
	data, err := json.Marshal(map[string]interface{}{
		"type": "alert",
		"data": n,
	})
	if err != nil {
		log.Printf("[WS] Failed to marshal alert broadcast message: %v", err)
		return false
	}
	select {
	case h.broadcast <- broadcastMsg{n: n, data: data}:
		return true
	case <-h.done:
		return false
	default:
		log.Printf("[WS] Broadcast queue full, dropping alert %s", n.AlertID)
		return false
	}
}

// Notify pushes an alert to connected dashboards. Dashboards are best
// effort, so a full queue is not an error.
func (h *WSHub) Notify(_ context.Context, n model.Notification) error {
	h.publish(n)
	return nil
}

// ReadPump handles incoming messages from the client
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(64 * 1024)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] Client %s read error: %v", c.ID, err)
			}
			break
		}

		var wsMsg WSMessage
		if err := json.Unmarshal(message, &wsMsg); err != nil {
			continue
		}
		switch wsMsg.Type {
		case "subscribe":
			var data struct {
				TouristID string `json:"tourist_id"`
			}
			if err := json.Unmarshal(wsMsg.Data, &data); err == nil {
				c.mu.Lock()
				c.TouristID = data.TouristID
				c.mu.Unlock()
				log.Printf("[WS] Client %s subscribed to tourist %q", c.ID, data.TouristID)
			}
		case "ping":
			c.trySend([]byte(`{"type":"pong"}`))
		}
	}
}

// trySend never blocks and tolerates a Send channel closed by the hub.
func (c *Client) trySend(data []byte) {
	defer func() { recover() }()
	select {
	case c.Send <- data:
	default:
	}
}

// WritePump handles outgoing messages to the client
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current websocket message
			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// WSHandler handles WebSocket connections
type WSHandler struct {
	hub  *WSHub
	auth *auth.Service
}

func NewWSHandler(hub *WSHub, authSvc *auth.Service) *WSHandler {
	return &WSHandler{hub: hub, auth: authSvc}
}

// HandleAlerts streams alerts to a dashboard
// @Summary Alert stream
// @Description WebSocket stream of alert notifications within the caller's scope. Browsers pass the JWT as the token query parameter.
// @Tags Alerts
// @Param token query string false "JWT when no Authorization header is sent"
// @Param tourist_id query string false "Only alerts for this tourist"
// @Router /ws/alerts [get]
func (h *WSHandler) HandleAlerts(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	claims, err := h.auth.Parse(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WS] Failed to upgrade connection: %v", err)
		return
	}

	client := &Client{
		ID:        uuid.NewString(),
		Conn:      conn,
		Send:      make(chan []byte, 256),
		Hub:       h.hub,
		Scope:     claims.Scope,
		TouristID: c.Query("tourist_id"),
	}

	select {
	case h.hub.register <- client:
	case <-h.hub.done:
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()

	welcome := map[string]interface{}{
		"type":      "connected",
		"message":   "Connected to tourguard alert stream",
		"client_id": client.ID,
		"scope":     claims.Scope,
	}
	if data, err := json.Marshal(welcome); err == nil {
		client.trySend(data)
	}
}

// GetStats returns WebSocket hub statistics
// @Summary WebSocket statistics
// @Tags Alerts
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /ws/stats [get]
func (h *WSHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": h.hub.GetClientCount(),
	})
}
