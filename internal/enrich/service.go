// Package enrich turns raw webhook events into stored messages carrying
// human-readable chat and sender names.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/markwave/chatvault/internal/message"
	"github.com/markwave/chatvault/internal/names"
)

// ErrInvalidEvent marks events that can never be stored, so retrying is pointless.
var ErrInvalidEvent = errors.New("enrich: invalid event")

var mentionPattern = regexp.MustCompile(`@(\d+)`)

// Event is one decoded webhook event.
type Event struct {
	Name string
	Data map[string]any
}

// Resolver turns chat identifiers into names.
type Resolver interface {
	Resolve(ctx context.Context, chatID string) (string, error)
}

// Enricher produces a storable message from an event.
type Enricher interface {
	Enrich(ctx context.Context, ev Event) (message.Message, error)
}

// Service resolves chat, sender and mention names through the name cache.
type Service struct {
	names  Resolver
	logger *slog.Logger
}

var _ Enricher = (*Service)(nil)

// NewService creates an enrichment service.
func NewService(log *slog.Logger, resolver Resolver) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{names: resolver, logger: log.With(slog.String("service", "enrich"))}
}

// Enrich resolves the chat name and, for inbound messages, the sender name in parallel.
// An unknown identifier keeps the identifier as its name; an unreachable directory fails
// the whole event so it can be retried.
func (s *Service) Enrich(ctx context.Context, ev Event) (message.Message, error) {
	if ev.Data == nil {
		return message.Message{}, fmt.Errorf("%w: missing data", ErrInvalidEvent)
	}
	doc := maps.Clone(ev.Data)
	doc["event"] = ev.Name
	if details, ok := doc["id"].(map[string]any); ok {
		doc["id_details"] = details
		delete(doc, "id")
	}

	chatID := stringField(doc, "chat_id")
	if chatID == "" {
		return message.Message{}, fmt.Errorf("%w: missing chat_id", ErrInvalidEvent)
	}
	fromMe, _ := doc["from_me"].(bool)
	senderID := stringField(doc, "sender_phone")

	msg := message.Message{
		ID:        MessageID(ev.Data),
		Event:     ev.Name,
		ChatID:    chatID,
		SenderID:  senderID,
		Direction: message.DirectionInbound,
		Body:      stringField(doc, "body"),
	}
	if fromMe {
		msg.Direction = message.DirectionOutbound
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		name, err := s.nameFor(gctx, chatID)
		msg.ChatName = name
		return err
	})
	if !fromMe && senderID != "" {
		g.Go(func() error {
			name, err := s.nameFor(gctx, senderID)
			msg.SenderName = name
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return message.Message{}, fmt.Errorf("enrich %s: %w", msg.ID, err)
	}

	msg.Body = s.replaceMentions(ctx, msg.Body)

	doc["chat_name"] = msg.ChatName
	if msg.SenderName != "" {
		doc["sender_name"] = msg.SenderName
	}
	if msg.Body != "" {
		doc["body"] = msg.Body
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return message.Message{}, fmt.Errorf("%w: encode payload: %v", ErrInvalidEvent, err)
	}
	msg.Payload = payload
	return msg, nil
}

func (s *Service) nameFor(ctx context.Context, id string) (string, error) {
	name, err := s.names.Resolve(ctx, id)
	if errors.Is(err, names.ErrNotFound) {
		return id, nil
	}
	if err != nil {
		return "", err
	}
	return name, nil
}

// replaceMentions swaps @<digits> for contact names. Lookups that fail or that
// only return the number leave the mention as it is.
func (s *Service) replaceMentions(ctx context.Context, body string) string {
	if body == "" {
		return body
	}
	matches := mentionPattern.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return body
	}
	phones := make([]string, 0, len(matches))
	seen := map[string]bool{}
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			phones = append(phones, m[1])
		}
	}

	resolved := make([]string, len(phones))
	var g errgroup.Group
	for i, phone := range phones {
		g.Go(func() error {
			name, err := s.names.Resolve(ctx, phone)
			if err != nil {
				s.logger.Debug("mention lookup failed", slog.String("phone", phone), slog.Any("error", err))
				return nil
			}
			resolved[i] = name
			return nil
		})
	}
	_ = g.Wait()

	byPhone := make(map[string]string, len(phones))
	for i, phone := range phones {
		if name := strings.TrimSpace(resolved[i]); name != "" && name != phone {
			byPhone[phone] = name
		}
	}
	if len(byPhone) == 0 {
		return body
	}
	return mentionPattern.ReplaceAllStringFunc(body, func(mention string) string {
		if name, ok := byPhone[mention[1:]]; ok {
			return name
		}
		return mention
	})
}

// MessageID returns the identifier of the message an event refers to, or "" if it has none.
func MessageID(data map[string]any) string {
	if id := stringField(data, "message_id"); id != "" {
		return id
	}
	return stringField(data, "id")
}

func stringField(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}
