package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/screenshare/config"
	"github.com/mossy-p/screenshare/internal/middleware"
)

// NewRouter wires the rendezvous service routes
func NewRouter(cfg *config.Config, store PeerStore, hub *Hub) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(cfg.AllowedOrigins))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api")
	{
		// Issue a new peer identity (public)
		apiGroup.POST("/peers", RegisterPeer(store, cfg.JWTSecret, cfg.TokenTTL))

		// Presence lookup (public)
		apiGroup.GET("/peers/:peerId", GetPeer(store))
	}

	// WebSocket signaling endpoint
	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/signal", middleware.JWTAuth(cfg.JWTSecret), hub.HandleSignaling)
	}

	return router
}
