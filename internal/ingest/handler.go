package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	wmessage "github.com/ThreeDotsLabs/watermill/message"

	"github.com/markwave/chatvault/internal/enrich"
	"github.com/markwave/chatvault/internal/logger"
	"github.com/markwave/chatvault/internal/message"
)

// Handler consumes webhook events: created messages are enriched and stored,
// ack updates only touch delivery status.
type Handler struct {
	enricher enrich.Enricher
	store    message.Writer
	logger   *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(log *slog.Logger, enricher enrich.Enricher, store message.Writer) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{enricher: enricher, store: store, logger: log.With(slog.String("service", "ingest"))}
}

// Handle processes one bus message. A nil return acks it; an error triggers redelivery.
// Undecodable or unstorable events are acked after logging so they cannot block the queue.
func (h *Handler) Handle(msg *wmessage.Message) error {
	env, err := DecodeEnvelope(msg.Payload)
	if err != nil {
		h.logger.Error("drop undecodable event", slog.String("msg_uuid", msg.UUID), slog.Any("error", err))
		return nil
	}
	return h.Process(msg.Context(), env)
}

// Process applies one decoded event.
func (h *Handler) Process(ctx context.Context, env Envelope) error {
	switch env.Event {
	case EventMessageCreated:
		return h.onCreated(ctx, env)
	case EventAckUpdated:
		return h.onAck(ctx, env)
	default:
		h.log(ctx).Debug("ignore event", slog.String("event", env.Event))
		return nil
	}
}

func (h *Handler) onCreated(ctx context.Context, env Envelope) error {
	msg, err := h.enricher.Enrich(ctx, enrich.Event{Name: env.Event, Data: env.Data})
	if errors.Is(err, enrich.ErrInvalidEvent) {
		h.log(ctx).Warn("drop invalid message event", slog.Any("error", err))
		return nil
	}
	if err != nil {
		return err
	}
	stored, created, err := h.store.Write(ctx, msg)
	if err != nil {
		return fmt.Errorf("store message %s: %w", msg.ID, err)
	}
	h.log(ctx).Info("message stored",
		slog.String("message_id", stored.ID),
		slog.String("chat_id", stored.ChatID),
		slog.String("chat_name", stored.ChatName),
		slog.Bool("duplicate", !created))
	return nil
}

func (h *Handler) onAck(ctx context.Context, env Envelope) error {
	id := enrich.MessageID(env.Data)
	if id == "" {
		h.log(ctx).Warn("drop ack event without message id")
		return nil
	}
	payload, err := json.Marshal(env.Data)
	if err != nil {
		h.log(ctx).Warn("drop unencodable ack event", slog.String("message_id", id), slog.Any("error", err))
		return nil
	}
	update := message.AckUpdate{MessageID: id, Ack: intField(env.Data, "ack"), Payload: payload}
	if _, err := h.store.UpdateAck(ctx, update); err != nil {
		// the created event may still be in flight; redelivery gives it time to land
		return fmt.Errorf("update ack %s: %w", id, err)
	}
	h.log(ctx).Debug("ack updated", slog.String("message_id", id))
	return nil
}

// log prefers the trace-scoped logger the router attaches to the message context.
func (h *Handler) log(ctx context.Context) *slog.Logger {
	if l, ok := logger.Scoped(ctx); ok {
		return l
	}
	return h.logger
}

// DecodeEnvelope parses a bus payload, keeping numbers exact.
func DecodeEnvelope(payload []byte) (Envelope, error) {
	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, err
	}
	if env.Event == "" {
		return Envelope{}, errors.New("missing event name")
	}
	return env, nil
}

func intField(data map[string]any, key string) *int {
	var n int
	switch v := data[key].(type) {
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return nil
		}
		n = int(i)
	case float64:
		if v != math.Trunc(v) {
			return nil
		}
		n = int(v)
	case string:
		i, err := strconv.Atoi(v)
		if err != nil {
			return nil
		}
		n = i
	default:
		return nil
	}
	return &n
}
