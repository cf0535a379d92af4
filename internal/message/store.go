package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/markwave/chatvault/internal/db"
	"github.com/markwave/chatvault/internal/message/event"
)

const messageColumns = `seq, id, event, chat_id, sender_id, direction, chat_name, sender_name, body,
payload, ack, ack_payload, ack_updated_at, ingested_at`

// StoreOptions tunes a PostgresStore.
type StoreOptions struct {
	Timeout      time.Duration
	DefaultLimit int
	MaxLimit     int
}

// PostgresStore persists messages in the messages table and announces writes on the event hub.
type PostgresStore struct {
	conn      db.DBTX
	opts      StoreOptions
	publisher event.Publisher
	logger    *slog.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a message store. The optional publisher receives an event
// for every newly stored message and every ack change.
func NewPostgresStore(log *slog.Logger, conn db.DBTX, opts StoreOptions, publishers ...event.Publisher) *PostgresStore {
	if log == nil {
		log = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 100
	}
	if opts.MaxLimit < opts.DefaultLimit {
		opts.MaxLimit = opts.DefaultLimit
	}
	var publisher event.Publisher
	if len(publishers) > 0 {
		publisher = publishers[0]
	}
	return &PostgresStore{
		conn:      conn,
		opts:      opts,
		publisher: publisher,
		logger:    log.With(slog.String("service", "message")),
	}
}

// Write inserts msg unless a message with the same ID exists.
func (s *PostgresStore) Write(ctx context.Context, msg Message) (Message, bool, error) {
	if strings.TrimSpace(msg.ID) == "" || strings.TrimSpace(msg.ChatID) == "" {
		return Message{}, false, errors.New("message id and chat id are required")
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	payload := msg.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	direction := msg.Direction
	if direction == "" {
		direction = DirectionInbound
	}
	row := s.conn.QueryRow(ctx, `
INSERT INTO messages (id, event, chat_id, sender_id, direction, chat_name, sender_name, body, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO NOTHING
RETURNING `+messageColumns,
		msg.ID, msg.Event, msg.ChatID, msg.SenderID, string(direction),
		msg.ChatName, msg.SenderName, msg.Body, payload)
	stored, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, err := s.get(ctx, msg.ID)
		if err != nil {
			return Message{}, false, err
		}
		s.logger.Debug("duplicate message ignored", slog.String("message_id", msg.ID))
		return existing, false, nil
	}
	if err != nil {
		return Message{}, false, unavailable("write message", err)
	}
	s.publish(event.TypeMessageCreated, stored)
	return stored, true, nil
}

// UpdateAck records a delivery-status change. Names and body are never touched.
func (s *PostgresStore) UpdateAck(ctx context.Context, update AckUpdate) (Message, error) {
	if strings.TrimSpace(update.MessageID) == "" {
		return Message{}, errors.New("message id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	var ackPayload any
	if len(update.Payload) > 0 {
		ackPayload = update.Payload
	}
	row := s.conn.QueryRow(ctx, `
UPDATE messages
SET ack = COALESCE($2, ack), ack_payload = COALESCE($3::jsonb, ack_payload), ack_updated_at = now()
WHERE id = $1
RETURNING `+messageColumns, update.MessageID, update.Ack, ackPayload)
	stored, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, fmt.Errorf("%w: %s", ErrNotFound, update.MessageID)
	}
	if err != nil {
		return Message{}, unavailable("update ack", err)
	}
	s.publish(event.TypeAckUpdated, stored)
	return stored, nil
}

// Query returns one page of messages visible under filter.
func (s *PostgresStore) Query(ctx context.Context, filter Filter, q Query) ([]Message, error) {
	if !filter.All && len(filter.ChatIDs) == 0 {
		return []Message{}, nil
	}
	limit := s.clampLimit(q.Limit)
	chatIDs := filter.ChatIDs
	if chatIDs == nil {
		chatIDs = []string{}
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	rows, err := s.conn.Query(ctx, `
SELECT `+messageColumns+`
FROM messages
WHERE seq > $1
  AND ($2::boolean OR chat_id = ANY($3::text[]))
  AND ($4::text = '' OR chat_id = $4::text)
ORDER BY seq
LIMIT $5`, q.After, filter.All, chatIDs, strings.TrimSpace(q.ChatID), limit)
	if err != nil {
		return nil, unavailable("query messages", err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (Message, error) {
		return scanMessage(r)
	})
	if err != nil {
		return nil, unavailable("scan messages", err)
	}
	if out == nil {
		out = []Message{}
	}
	return out, nil
}

func (s *PostgresStore) get(ctx context.Context, id string) (Message, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Message{}, unavailable("read message", err)
	}
	return msg, nil
}

func (s *PostgresStore) clampLimit(limit int) int {
	if limit <= 0 {
		return s.opts.DefaultLimit
	}
	if limit > s.opts.MaxLimit {
		return s.opts.MaxLimit
	}
	return limit
}

func (s *PostgresStore) publish(eventType event.Type, msg Message) {
	if s.publisher == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("marshal message event failed", slog.String("message_id", msg.ID), slog.Any("error", err))
		return
	}
	s.publisher.Publish(event.Event{Type: eventType, ChatID: msg.ChatID, Data: data})
}

func scanMessage(row pgx.Row) (Message, error) {
	var (
		msg       Message
		direction string
	)
	err := row.Scan(
		&msg.Seq, &msg.ID, &msg.Event, &msg.ChatID, &msg.SenderID, &direction,
		&msg.ChatName, &msg.SenderName, &msg.Body,
		&msg.Payload, &msg.Ack, &msg.AckPayload, &msg.AckUpdatedAt, &msg.IngestedAt,
	)
	if err != nil {
		return Message{}, err
	}
	msg.Direction = Direction(direction)
	return msg, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
