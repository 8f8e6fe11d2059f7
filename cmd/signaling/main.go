package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/screenshare/config"
	"github.com/mossy-p/screenshare/internal/handlers"
	"github.com/mossy-p/screenshare/internal/logging"
	"github.com/mossy-p/screenshare/internal/redis"
)

func main() {
	// Load configuration
	cfg := config.Load()

	if err := logging.Setup(logrus.StandardLogger(), cfg.LogLevel, cfg.Environment); err != nil {
		logrus.Fatalf("Failed to configure logging: %v", err)
	}

	// Presence store
	var store handlers.PeerStore
	if cfg.Redis.Store == "memory" {
		logrus.Warn("Using in-memory presence store, identities are lost on restart")
		store = redis.NewMemoryStore()
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		redisStore, err := redis.Connect(ctx, cfg.Redis, cfg.PeerTTL)
		cancel()
		if err != nil {
			logrus.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisStore.Close()
		store = redisStore

		logrus.Info("Redis connection established")
	}

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	hub := handlers.NewHub(store)
	router := handlers.NewRouter(cfg, store, hub)

	// Start server
	logrus.WithFields(logrus.Fields{
		"function": "main",
		"port":     cfg.Port,
	}).Info("Starting signaling server")
	if err := router.Run(":" + cfg.Port); err != nil {
		logrus.Fatalf("Failed to start server: %v", err)
	}
}
