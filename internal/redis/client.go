package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mossy-p/screenshare/config"
	"github.com/mossy-p/screenshare/internal/models"
	"github.com/redis/go-redis/v9"
)

const onlineKey = "peers:online"

// ErrPeerNotFound is returned when no record exists for a peer id
var ErrPeerNotFound = errors.New("peer not found")

// Store keeps issued peer identities and their presence in Redis
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// Connect initializes the Redis client and verifies the connection
func Connect(ctx context.Context, cfg config.RedisConfig, ttl time.Duration) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewStore(client, ttl), nil
}

// NewStore wraps an existing client
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func peerKey(id string) string {
	return "peer:" + id
}

// CreatePeer stores a new peer record with the configured TTL
func (s *Store) CreatePeer(ctx context.Context, peer models.PeerRecord) error {
	data, err := json.Marshal(peer)
	if err != nil {
		return fmt.Errorf("failed to encode peer: %w", err)
	}
	if err := s.client.Set(ctx, peerKey(peer.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store peer: %w", err)
	}
	return nil
}

// GetPeer loads a peer record together with its online flag
func (s *Store) GetPeer(ctx context.Context, id string) (*models.PeerRecord, error) {
	data, err := s.client.Get(ctx, peerKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrPeerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load peer: %w", err)
	}

	var peer models.PeerRecord
	if err := json.Unmarshal([]byte(data), &peer); err != nil {
		return nil, fmt.Errorf("failed to parse peer data: %w", err)
	}

	online, err := s.client.SIsMember(ctx, onlineKey, id).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load presence: %w", err)
	}
	peer.Online = online
	return &peer, nil
}

// SetOnline records a socket attach or detach for a peer
func (s *Store) SetOnline(ctx context.Context, id string, online bool) error {
	peer, err := s.GetPeer(ctx, id)
	if err != nil {
		return err
	}
	peer.LastSeen = time.Now()
	peer.Online = online

	data, err := json.Marshal(peer)
	if err != nil {
		return fmt.Errorf("failed to encode peer: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, peerKey(id), data, redis.KeepTTL)
	if online {
		pipe.SAdd(ctx, onlineKey, id)
	} else {
		pipe.SRem(ctx, onlineKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update presence: %w", err)
	}
	return nil
}
