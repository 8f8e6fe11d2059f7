package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/screenshare/internal/middleware"
	"github.com/mossy-p/screenshare/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
	presenceWait   = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// Hub relays signaling messages between the sockets of registered peers.
// Each peer id has at most one attached socket.
type Hub struct {
	store PeerStore

	mu      sync.RWMutex
	clients map[string]*Client
}

// Client represents one attached signaling socket
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

// NewHub creates an empty hub
func NewHub(store PeerStore) *Hub {
	return &Hub{
		store:   store,
		clients: make(map[string]*Client),
	}
}

// Online reports whether peerID currently has a socket attached
func (h *Hub) Online(peerID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[peerID]
	return ok
}

// HandleSignaling upgrades an authenticated request to the relay socket
func (h *Hub) HandleSignaling(c *gin.Context) {
	peerID := c.GetString(middleware.PeerIDKey)
	if peerID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Peer not authenticated"})
		return
	}

	if _, err := h.store.GetPeer(c.Request.Context(), peerID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Peer not registered"})
		return
	}

	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "HandleSignaling",
			"peer_id":  peerID,
			"error":    err.Error(),
		}).Warn("Failed to upgrade connection")
		return
	}

	client := &Client{
		ID:   peerID,
		Conn: conn,
		Send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	h.attach(client)

	client.sendMessage(models.SignalMessage{
		Type: models.SignalTypeRegistered,
		From: peerID,
	})

	// Start goroutines for reading and writing
	go client.writePump()
	go client.readPump(h)
}

// attach makes client the socket for its peer id, replacing any previous one
func (h *Hub) attach(client *Client) {
	h.mu.Lock()
	prev := h.clients[client.ID]
	h.clients[client.ID] = client
	h.mu.Unlock()

	if prev != nil {
		logrus.WithFields(logrus.Fields{
			"function": "attach",
			"peer_id":  client.ID,
		}).Info("Replacing existing socket")
		prev.close()
	}
	h.setOnline(client.ID, true)

	logrus.WithFields(logrus.Fields{
		"function": "attach",
		"peer_id":  client.ID,
	}).Info("Peer attached")
}

// detach removes client unless it was already replaced
func (h *Hub) detach(client *Client) {
	h.mu.Lock()
	current := h.clients[client.ID] == client
	if current {
		delete(h.clients, client.ID)
	}
	h.mu.Unlock()

	client.close()
	if !current {
		return
	}
	h.setOnline(client.ID, false)

	logrus.WithFields(logrus.Fields{
		"function": "detach",
		"peer_id":  client.ID,
	}).Info("Peer detached")
}

func (h *Hub) setOnline(peerID string, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceWait)
	defer cancel()
	if err := h.store.SetOnline(ctx, peerID, online); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "setOnline",
			"peer_id":  peerID,
			"online":   online,
			"error":    err.Error(),
		}).Warn("Failed to update presence")
	}
}

// route forwards msg to its target. It reports false when the target has no
// socket attached.
func (h *Hub) route(msg models.SignalMessage) bool {
	h.mu.RLock()
	target, ok := h.clients[msg.To]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	target.sendMessage(msg)
	return true
}

// close asks the write pump to send a close frame and drop the connection
func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) readPump(h *Hub) {
	defer h.detach(c)

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.WithFields(logrus.Fields{
					"function": "readPump",
					"peer_id":  c.ID,
					"error":    err.Error(),
				}).Debug("WebSocket closed unexpectedly")
			}
			return
		}

		// Parse message
		var msg models.SignalMessage
		if err := json.Unmarshal(message, &msg); err != nil || !msg.Type.Relayed() || msg.To == "" {
			c.sendMessage(models.SignalMessage{
				Type:  models.SignalTypeError,
				Error: models.ErrorBadMessage,
				Token: msg.Token,
			})
			continue
		}

		// Set the sender
		msg.From = c.ID

		if !h.route(msg) {
			c.sendMessage(models.SignalMessage{
				Type:  models.SignalTypeError,
				To:    msg.To,
				Token: msg.Token,
				Error: models.ErrorPeerUnavailable,
			})
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
		c.Conn.Close()
	}()

	for {
		select {
		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) sendMessage(msg models.SignalMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "sendMessage",
			"error":    err.Error(),
		}).Error("Failed to marshal message")
		return
	}

	select {
	case c.Send <- data:
	case <-c.done:
	default:
		logrus.WithFields(logrus.Fields{
			"function": "sendMessage",
			"peer_id":  c.ID,
		}).Warn("Dropping message, buffer full")
	}
}
