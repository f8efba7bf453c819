package models

import "time"

// EventType identifies a backend-originated chat event consumed from Kafka.
type EventType string

const (
	EventTypeAdminReply    EventType = "admin_reply"
	EventTypeSessionClosed EventType = "session_closed"
	EventTypeProductNotice EventType = "product_notice"
)

// Event is published by the dashboard/site backend when something happens
// outside a live socket (an admin replies through the REST API, a session is
// closed, a product announcement goes out) and is relayed to the connected
// clients by the event service.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	ProductID int64       `json:"product_id,omitempty"`
	SenderID  string      `json:"sender_id,omitempty"`
	Sender    string      `json:"sender_name,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
