package redis

import (
	"context"
	"sync"
	"time"

	"github.com/mossy-p/screenshare/internal/models"
)

// MemoryStore is a process-local Store for development and tests. Records do
// not expire.
type MemoryStore struct {
	mu    sync.Mutex
	peers map[string]models.PeerRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{peers: make(map[string]models.PeerRecord)}
}

func (s *MemoryStore) CreatePeer(_ context.Context, peer models.PeerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[peer.ID] = peer
	return nil
}

func (s *MemoryStore) GetPeer(_ context.Context, id string) (*models.PeerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	peer, ok := s.peers[id]
	if !ok {
		return nil, ErrPeerNotFound
	}
	return &peer, nil
}

func (s *MemoryStore) SetOnline(_ context.Context, id string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	peer, ok := s.peers[id]
	if !ok {
		return ErrPeerNotFound
	}
	peer.Online = online
	peer.LastSeen = time.Now()
	s.peers[id] = peer
	return nil
}

func (s *MemoryStore) Close() error { return nil }
