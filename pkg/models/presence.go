package models

import "time"

// Presence is the record mirrored into Redis for each live connection so the
// site backend can answer "is support online" without talking to the gateway.
type Presence struct {
	ConnectionID string    `json:"connection_id"`
	Role         Role      `json:"role"`
	SessionID    string    `json:"session_id,omitempty"`
	ProductID    int64     `json:"product_id,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	UserName     string    `json:"user_name,omitempty"`
	InstanceID   string    `json:"instance_id"`
	ConnectedAt  time.Time `json:"connected_at"`
}
