package services

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"couple-sync-backend/internal/metrics"
	"couple-sync-backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

// WebSocket message types
const (
	MessagePairStatus    = "pair_status"
	MessagePartnerStatus = "partner_status"
	MessagePairCreated   = "pair_created"
	MessagePairDeleted   = "pair_deleted"
	MessageSnapshot      = "snapshot"
	MessageNotification  = "notification"
	MessageError         = "error"

	MessageSubscribe   = "subscribe"
	MessageUnsubscribe = "unsubscribe"
	MessageRefresh     = "refresh"
)

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type         string      `json:"type"`
	Collection   string      `json:"collection,omitempty"`
	Online       *bool       `json:"online,omitempty"`
	IsLoading    *bool       `json:"is_loading,omitempty"`
	IsRefetching *bool       `json:"is_refetching,omitempty"`
	Code         string      `json:"code,omitempty"`
	Message      string      `json:"message,omitempty"`
	Data         interface{} `json:"data,omitempty"`
}

// Client is one device connection. Writes go through a buffered queue
// drained by WritePump, so Send never blocks.
type Client struct {
	UID  string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	mu           sync.Mutex
	onPairChange func()
}

// NewClient wraps an upgraded connection
func NewClient(uid string, conn *websocket.Conn) *Client {
	return &Client{
		UID:  uid,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

// Send queues a message. A client whose queue is full is closed.
func (c *Client) Send(msg WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	select {
	case <-c.done:
		return fmt.Errorf("connection for %s is closed", c.UID)
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		log.Warn().Str("user_id", c.UID).Msg("WebSocket send queue full, closing connection")
		c.Close()
		return fmt.Errorf("send queue full for %s", c.UID)
	}
}

// OnPairChange sets the function called after the client's pair is created or deleted
func (c *Client) OnPairChange(fn func()) {
	c.mu.Lock()
	c.onPairChange = fn
	c.mu.Unlock()
}

func (c *Client) pairChanged() {
	c.mu.Lock()
	fn := c.onPairChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Done is closed when the client is closed
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close stops the write pump and closes the connection
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// WritePump writes queued messages and pings until the client is closed
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("user_id", c.UID).Msg("WebSocket write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadMessage reads the next message from the connection
func (c *Client) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// PrepareRead sets the read limits and pong handler used by the read loop
func (c *Client) PrepareRead(maxMessageSize int64) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// WSHub manages WebSocket connections, one per user
type WSHub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	metrics metrics.Recorder
}

// NewWSHub creates a new WebSocket hub
func NewWSHub(recorder metrics.Recorder) *WSHub {
	return &WSHub{
		clients: make(map[string]*Client),
		metrics: recorder,
	}
}

// Register registers a client, closing any previous connection of the same user
func (h *WSHub) Register(c *Client) {
	h.mu.Lock()
	existing := h.clients[c.UID]
	h.clients[c.UID] = c
	count := len(h.clients)
	h.mu.Unlock()

	if existing != nil {
		existing.Close()
	}
	h.metrics.SetConnections(count)
	log.Info().Str("user_id", c.UID).Msg("WebSocket connection registered")
}

// Unregister removes a client if it is still the user's current connection
func (h *WSHub) Unregister(c *Client) {
	h.mu.Lock()
	current := h.clients[c.UID] == c
	if current {
		delete(h.clients, c.UID)
	}
	count := len(h.clients)
	h.mu.Unlock()

	c.Close()
	if current {
		h.metrics.SetConnections(count)
		log.Info().Str("user_id", c.UID).Msg("WebSocket connection unregistered")
	}
}

// SendToUser sends a message to a specific user
func (h *WSHub) SendToUser(uid string, message WSMessage) error {
	h.mu.RLock()
	c, exists := h.clients[uid]
	h.mu.RUnlock()

	if !exists {
		return fmt.Errorf("user %s is not connected", uid)
	}
	return c.Send(message)
}

// IsOnline checks if a user is online
func (h *WSHub) IsOnline(uid string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, exists := h.clients[uid]
	return exists
}

// NotifyPartnerStatus tells partnerUID whether their partner is online
func (h *WSHub) NotifyPartnerStatus(partnerUID string, online bool) {
	if partnerUID == "" || !h.IsOnline(partnerUID) {
		return
	}
	if err := h.SendToUser(partnerUID, WSMessage{Type: MessagePartnerStatus, Online: &online}); err != nil {
		log.Error().Err(err).Str("user_id", partnerUID).Msg("Failed to notify partner status")
	}
}

// PairCreated notifies both participants and rebinds their views
func (h *WSHub) PairCreated(pair *models.Pair) {
	h.broadcastPairChange(pair, WSMessage{
		Type: MessagePairCreated,
		Data: map[string]interface{}{
			"pair_id":      pair.ID,
			"participants": pair.Participants,
			"created_at":   pair.CreatedAt,
		},
	})
}

// PairDeleted notifies both participants and unbinds their views
func (h *WSHub) PairDeleted(pair *models.Pair) {
	h.broadcastPairChange(pair, WSMessage{
		Type: MessagePairDeleted,
		Data: map[string]interface{}{"pair_id": pair.ID},
	})
}

// NotificationCreated delivers a stored notification to its recipient if connected
func (h *WSHub) NotificationCreated(n *models.AppNotification) {
	if !h.IsOnline(n.RecipientUID) {
		return
	}
	if err := h.SendToUser(n.RecipientUID, WSMessage{Type: MessageNotification, Data: n}); err != nil {
		log.Error().Err(err).Str("user_id", n.RecipientUID).Msg("Failed to send notification")
	}
}

func (h *WSHub) broadcastPairChange(pair *models.Pair, msg WSMessage) {
	for _, uid := range pair.Participants {
		h.mu.RLock()
		c, ok := h.clients[uid]
		h.mu.RUnlock()
		if !ok {
			continue
		}

		if err := c.Send(msg); err != nil {
			log.Error().Err(err).Str("user_id", uid).Str("type", msg.Type).Msg("Failed to send pair change")
		}
		c.pairChanged()
	}
}
