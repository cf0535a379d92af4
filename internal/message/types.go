// Package message stores enriched chat messages and serves scoped reads over them.
package message

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrStoreUnavailable is returned when the message store cannot be reached or times out.
	ErrStoreUnavailable = errors.New("message: store unavailable")
	// ErrNotFound is returned when an ack update targets a message that is not stored.
	ErrNotFound = errors.New("message: not found")
)

// Direction of a message relative to the organization phone.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Message is an enriched webhook message. Names are captured at ingestion time.
type Message struct {
	Seq          int64           `json:"seq"`
	ID           string          `json:"message_id"`
	Event        string          `json:"event"`
	ChatID       string          `json:"chat_id"`
	SenderID     string          `json:"sender_phone,omitempty"`
	Direction    Direction       `json:"direction"`
	ChatName     string          `json:"chat_name,omitempty"`
	SenderName   string          `json:"sender_name,omitempty"`
	Body         string          `json:"body,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Ack          *int            `json:"ack,omitempty"`
	AckPayload   json.RawMessage `json:"ack_payload,omitempty"`
	AckUpdatedAt *time.Time      `json:"ack_updated_at,omitempty"`
	IngestedAt   time.Time       `json:"ingested_at"`
}

// AckUpdate changes the delivery status of a stored message.
type AckUpdate struct {
	MessageID string
	Ack       *int
	Payload   json.RawMessage
}

// Filter restricts a query to chats. All lifts the restriction; otherwise only
// ChatIDs are visible and an empty list matches nothing.
type Filter struct {
	All     bool
	ChatIDs []string
}

// Query is a keyset page request. Results are ordered by ingestion (Seq ascending)
// and start strictly after After.
type Query struct {
	ChatID string
	After  int64
	Limit  int
}

// Writer persists messages produced by ingestion.
type Writer interface {
	// Write stores msg once per ID. created is false when the ID was already stored,
	// in which case the stored message is returned unchanged.
	Write(ctx context.Context, msg Message) (stored Message, created bool, err error)
	// UpdateAck changes only the delivery-status fields.
	UpdateAck(ctx context.Context, update AckUpdate) (Message, error)
}

// Store is the full message store surface.
type Store interface {
	Writer
	Query(ctx context.Context, filter Filter, q Query) ([]Message, error)
}
