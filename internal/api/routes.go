package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/screenshare/internal/handlers"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Controller is the set of user actions the API forwards to the session.
type Controller interface {
	Connect(peerID string)
	Disconnect()
	StartShare()
	StopShare()
	Reconnect()
}

// ConnectRequest is the body of POST /api/connect
type ConnectRequest struct {
	PeerID string `json:"peerId" binding:"required"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// NewRouter wires the local control API.
func NewRouter(ctrl Controller, feed *Feed, allowedOrigins []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handlers.OriginFilter(allowedOrigins))

	accepted := func(action func()) gin.HandlerFunc {
		return func(c *gin.Context) {
			action()
			c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
		}
	}

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/state", func(c *gin.Context) {
			c.JSON(http.StatusOK, feed.Latest())
		})

		apiGroup.POST("/connect", func(c *gin.Context) {
			var req ConnectRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "peerId is required"})
				return
			}
			ctrl.Connect(req.PeerID)
			c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
		})

		apiGroup.POST("/disconnect", accepted(ctrl.Disconnect))
		apiGroup.POST("/share/start", accepted(ctrl.StartShare))
		apiGroup.POST("/share/stop", accepted(ctrl.StopShare))
		apiGroup.POST("/reconnect", accepted(ctrl.Reconnect))

		apiGroup.GET("/events", serveEvents(feed))
	}

	return router
}

// serveEvents streams the feed to one UI connection.
func serveEvents(feed *Feed) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "serveEvents",
				"error":    err.Error(),
			}).Warn("Failed to upgrade connection")
			return
		}
		defer conn.Close()

		events, cancel := feed.Subscribe()
		defer cancel()

		// The UI only listens; reading detects when it goes away.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			conn.SetReadDeadline(time.Now().Add(pongWait))
			conn.SetPongHandler(func(string) error {
				conn.SetReadDeadline(time.Now().Add(pongWait))
				return nil
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case env := <-events:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(env); err != nil {
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-gone:
				return
			}
		}
	}
}
