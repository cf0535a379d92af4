package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/markwave/chatvault/internal/message"
	"github.com/markwave/chatvault/internal/names"
)

// MessageQuerier is the read side of the message store.
type MessageQuerier interface {
	Query(ctx context.Context, filter message.Filter, q message.Query) ([]message.Message, error)
}

// NameLister reads cached chat names.
type NameLister interface {
	List(ctx context.Context, suffix string) ([]names.Record, error)
	GetMany(ctx context.Context, ids []string) ([]names.Record, error)
}

// Gate resolves a principal's authorized chats and scopes message reads to them.
// Any failure to read the graph denies access.
type Gate struct {
	graph    Graph
	messages MessageQuerier
	names    NameLister
	timeout  time.Duration
	logger   *slog.Logger
}

// NewGate creates a Gate. timeout bounds each graph query.
func NewGate(log *slog.Logger, graph Graph, messages MessageQuerier, nameStore NameLister, timeout time.Duration) *Gate {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Gate{
		graph:    graph,
		messages: messages,
		names:    nameStore,
		timeout:  timeout,
		logger:   log.With(slog.String("service", "access")),
	}
}

// IsElevated reports whether p sees every chat without grant checks.
func IsElevated(p Principal) bool {
	return p.Role == RoleAdmin
}

// ResolvePrincipal loads the principal behind an authenticated identifier.
func (g *Gate) ResolvePrincipal(ctx context.Context, id string) (Principal, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Principal{}, ErrPrincipalNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	p, err := g.graph.Principal(ctx, id)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return Principal{}, err
		}
		return Principal{}, g.unavailable("load principal", id, err)
	}
	return p, nil
}

// AuthorizedChatSet returns the chats p may read. Elevated principals get the
// unrestricted set without a graph query.
func (g *Gate) AuthorizedChatSet(ctx context.Context, p Principal) (ChatSet, error) {
	if IsElevated(p) {
		return ChatSet{All: true}, nil
	}
	if g.graph == nil {
		return ChatSet{}, fmt.Errorf("%w: graph not configured", ErrPermissionStoreUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	ids, err := g.graph.GrantsFor(ctx, p.ID)
	if err != nil {
		return ChatSet{}, g.unavailable("load grants", p.ID, err)
	}
	return ChatSet{IDs: normalizeIDs(ids)}, nil
}

// ListAccessibleMessages returns one page of messages from chats p may read.
// An empty authorization yields an empty page without touching the message store.
func (g *Gate) ListAccessibleMessages(ctx context.Context, p Principal, q message.Query) ([]message.Message, error) {
	set, err := g.AuthorizedChatSet(ctx, p)
	if err != nil {
		return nil, err
	}
	if set.Empty() {
		return []message.Message{}, nil
	}
	if q.ChatID != "" && !set.Contains(q.ChatID) {
		return []message.Message{}, nil
	}
	return g.messages.Query(ctx, message.Filter{All: set.All, ChatIDs: set.IDs}, q)
}

// CanView reports whether p may read chatID.
func (g *Gate) CanView(ctx context.Context, p Principal, chatID string) (bool, error) {
	set, err := g.AuthorizedChatSet(ctx, p)
	if err != nil {
		return false, err
	}
	return set.Contains(strings.TrimSpace(chatID)), nil
}

// ListAccessibleChats returns the chats p may read with their cached names.
// Elevated principals see every cached group; granted chats without a cached
// name are listed under their identifier.
func (g *Gate) ListAccessibleChats(ctx context.Context, p Principal) ([]names.Record, error) {
	set, err := g.AuthorizedChatSet(ctx, p)
	if err != nil {
		return nil, err
	}
	if set.All {
		return g.names.List(ctx, names.GroupSuffix)
	}
	if set.Empty() {
		return []names.Record{}, nil
	}
	cached, err := g.names.GetMany(ctx, set.IDs)
	if err != nil {
		return nil, fmt.Errorf("read chat names: %w", err)
	}
	byID := make(map[string]names.Record, len(cached))
	for _, rec := range cached {
		byID[rec.ChatID] = rec
	}
	out := make([]names.Record, 0, len(set.IDs))
	for _, id := range set.IDs {
		rec, ok := byID[id]
		if !ok {
			rec = names.Record{ChatID: id, Name: id}
		}
		out = append(out, rec)
	}
	return out, nil
}

func (g *Gate) unavailable(op, principalID string, err error) error {
	g.logger.Warn("permission store failure, denying",
		slog.String("op", op),
		slog.String("principal", principalID),
		slog.Any("error", err))
	return fmt.Errorf("%w: %s: %v", ErrPermissionStoreUnavailable, op, err)
}
