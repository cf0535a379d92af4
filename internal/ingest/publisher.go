package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/markwave/chatvault/internal/enrich"
)

// Webhook event names handled by the pipeline.
const (
	EventMessageCreated = "message.created"
	EventAckUpdated     = "message.ack.updated"
)

const metadataTraceID = "trace_id"

// Supported reports whether the pipeline processes events named name.
func Supported(name string) bool {
	return name == EventMessageCreated || name == EventAckUpdated
}

// Envelope is the bus payload for one webhook event.
type Envelope struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

// Publisher puts webhook events on the bus.
type Publisher struct {
	pub   message.Publisher
	topic string
}

// NewPublisher creates a Publisher for topic.
func NewPublisher(pub message.Publisher, topic string) *Publisher {
	return &Publisher{pub: pub, topic: topic}
}

// Publish enqueues ev. traceID, when set, follows the event through the handler logs.
func (p *Publisher) Publish(ctx context.Context, ev enrich.Event, traceID string) error {
	if !Supported(ev.Name) {
		return fmt.Errorf("unsupported event %q", ev.Name)
	}
	if ev.Data == nil {
		return errors.New("event data is required")
	}
	payload, err := json.Marshal(Envelope{Event: ev.Name, Data: ev.Data})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if traceID != "" {
		msg.Metadata.Set(metadataTraceID, traceID)
	}
	msg.SetContext(ctx)
	if err := p.pub.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	return nil
}
