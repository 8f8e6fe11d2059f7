package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/screenshare/internal/middleware"
	"github.com/mossy-p/screenshare/internal/models"
	"github.com/mossy-p/screenshare/internal/redis"
)

// PeerStore persists issued identities and their presence
type PeerStore interface {
	CreatePeer(ctx context.Context, peer models.PeerRecord) error
	GetPeer(ctx context.Context, id string) (*models.PeerRecord, error)
	SetOnline(ctx context.Context, id string, online bool) error
}

// RegisterPeer issues a new peer identity and a token to attach its socket
func RegisterPeer(store PeerStore, jwtSecret string, tokenTTL time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		now := time.Now()
		peer := models.PeerRecord{
			ID:        uuid.New().String(),
			CreatedAt: now,
			LastSeen:  now,
		}

		if err := store.CreatePeer(c.Request.Context(), peer); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "RegisterPeer",
				"error":    err.Error(),
			}).Error("Failed to store peer")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register peer"})
			return
		}

		token, expiresAt, err := middleware.IssueToken(jwtSecret, peer.ID, tokenTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
			return
		}

		logrus.WithFields(logrus.Fields{
			"function": "RegisterPeer",
			"peer_id":  peer.ID,
		}).Info("Peer registered")

		c.JSON(http.StatusCreated, models.RegisterResponse{
			PeerID:    peer.ID,
			Token:     token,
			ExpiresAt: expiresAt,
		})
	}
}

// GetPeer returns presence information for a peer id (public)
func GetPeer(store PeerStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		peer, err := store.GetPeer(c.Request.Context(), c.Param("peerId"))
		if errors.Is(err, redis.ErrPeerNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Peer not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load peer"})
			return
		}
		c.JSON(http.StatusOK, peer)
	}
}
