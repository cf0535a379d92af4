// Package event fans out newly stored messages to live subscribers of a chat.
package event

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultBufferSize is the default per-subscriber channel buffer.
const DefaultBufferSize = 64

// Type identifies the event category.
type Type string

const (
	// TypeMessageCreated is emitted after a message is stored.
	TypeMessageCreated Type = "message_created"
	// TypeAckUpdated is emitted after a message's delivery status changes.
	TypeAckUpdated Type = "message_ack_updated"
)

// Event is one notification for a chat.
type Event struct {
	Type   Type            `json:"type"`
	ChatID string          `json:"chat_id"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Publisher publishes events to subscribers.
type Publisher interface {
	Publish(event Event)
}

// Subscription is a live stream of events for one chat.
type Subscription struct {
	ID     string
	C      <-chan Event
	Cancel func()
}

// Subscriber opens chat-scoped subscriptions.
type Subscriber interface {
	Subscribe(chatID string, buffer int) Subscription
}

// Hub is an in-process pub/sub dispatcher keyed by chat id.
type Hub struct {
	mu      sync.RWMutex
	streams map[string]map[string]chan Event
	dropped atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{streams: map[string]map[string]chan Event{}}
}

// Publish delivers event to every subscriber of its chat. A subscriber whose
// buffer is full misses the event; Publish never blocks.
func (h *Hub) Publish(event Event) {
	if h == nil {
		return
	}
	chatID := strings.TrimSpace(event.ChatID)
	if chatID == "" {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.streams[chatID] {
		select {
		case ch <- event:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber for chatID. Cancel closes C and is safe to call twice.
func (h *Hub) Subscribe(chatID string, buffer int) Subscription {
	chatID = strings.TrimSpace(chatID)
	if h == nil || chatID == "" {
		ch := make(chan Event)
		close(ch)
		return Subscription{C: ch, Cancel: func() {}}
	}
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}

	id := uuid.NewString()
	ch := make(chan Event, buffer)

	h.mu.Lock()
	streams, ok := h.streams[chatID]
	if !ok {
		streams = map[string]chan Event{}
		h.streams[chatID] = streams
	}
	streams[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			streams := h.streams[chatID]
			if current, ok := streams[id]; ok {
				delete(streams, id)
				close(current)
			}
			if len(streams) == 0 {
				delete(h.streams, chatID)
			}
		})
	}
	return Subscription{ID: id, C: ch, Cancel: cancel}
}

// Subscribers returns the number of live subscribers for chatID.
func (h *Hub) Subscribers(chatID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams[chatID])
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
