package models

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleAdmin
}

type MessageType string

const (
	MessageTypeChat              MessageType = "chat_message"
	MessageTypeTyping            MessageType = "typing_indicator"
	MessageTypeRead              MessageType = "message_read"
	MessageTypeError             MessageType = "error"
	MessageTypeUserJoined        MessageType = "user_joined"
	MessageTypeUserLeft          MessageType = "user_left"
	MessageTypeConnectionStatus  MessageType = "connection_status"
	MessageTypeAdminNotification MessageType = "admin_notification"
	MessageTypeSessionClosed     MessageType = "session_closed"
	MessageTypeProductNotice     MessageType = "product_notice"
)

// Envelope is the wire format for every frame in both directions. Inbound
// frames only carry Type plus the type-specific fields; outbound frames are
// stamped with sender identity and a timestamp before delivery.
type Envelope struct {
	Type       MessageType `json:"type"`
	Message    string      `json:"message,omitempty"`
	SenderID   string      `json:"sender_id,omitempty"`
	SenderName string      `json:"sender_name,omitempty"`
	SenderType string      `json:"sender_type,omitempty"`
	SessionID  string      `json:"session_id,omitempty"`
	ProductID  int64       `json:"product_id,omitempty"`
	IsTyping   *bool       `json:"is_typing,omitempty"`
	MessageIDs []int64     `json:"message_ids,omitempty"`
	Status     string      `json:"status,omitempty"`
	Code       string      `json:"code,omitempty"`
	RetryAfter int         `json:"retry_after,omitempty"`
	Timestamp  string      `json:"timestamp,omitempty"`
	Data       interface{} `json:"data,omitempty"`
}

// Stamp fills in sender identity and an ISO-8601 timestamp.
func (e *Envelope) Stamp(senderID, senderName string, role Role, at time.Time) {
	e.SenderID = senderID
	e.SenderName = senderName
	e.SenderType = string(role)
	e.Timestamp = at.UTC().Format(time.RFC3339)
}

// ParseEnvelope decodes an inbound frame. Unknown types are the caller's
// problem to ignore; a non-object body is an error here.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func ErrorEnvelope(message, code string) *Envelope {
	return &Envelope{
		Type:    MessageTypeError,
		Message: message,
		Code:    code,
	}
}
