package models

import "time"

// PeerRecord stores presence information about an issued peer identity
type PeerRecord struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	LastSeen  time.Time `json:"lastSeen"`
	Online    bool      `json:"online"`
}

// RegisterResponse is the response for registering a new peer
type RegisterResponse struct {
	PeerID    string    `json:"peerId"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}
