// Package names resolves opaque chat identifiers into human-readable names.
//
// Names are served from a durable store and fetched from the upstream directory
// only on a miss. Concurrent misses for the same identifier share one upstream call.
package names

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUpstreamUnavailable is returned when the upstream directory cannot answer
	// (transport failure, non-success status, timeout).
	ErrUpstreamUnavailable = errors.New("names: upstream unavailable")
	// ErrNotFound is returned when the upstream directory has no such chat.
	ErrNotFound = errors.New("names: chat not found")
)

// Chat identifier suffixes used by the messaging platform.
const (
	GroupSuffix   = "@g.us"
	ContactSuffix = "@c.us"
)

// Record is a cached chat name.
type Record struct {
	ChatID    string    `json:"chat_id"`
	Name      string    `json:"chat_name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Member is a participant of a group chat as reported by the directory.
type Member struct {
	ID   string
	Name string
}

// Chat is a directory entry.
type Chat struct {
	ID      string
	Name    string
	Members []Member
}

// Directory is the upstream source of chat names.
type Directory interface {
	ResolveChat(ctx context.Context, chatID string) (Chat, error)
	ListChats(ctx context.Context) ([]Chat, error)
}

// Store persists chat names keyed by chat id.
type Store interface {
	// Get returns the record for chatID. ok is false when none exists.
	Get(ctx context.Context, chatID string) (rec Record, ok bool, err error)
	// Upsert creates the record or overwrites its name.
	Upsert(ctx context.Context, chatID, name string) (Record, error)
	// PutIfAbsent creates the record only if none exists and reports whether it did.
	PutIfAbsent(ctx context.Context, chatID, name string) (created bool, err error)
	// List returns records whose chat id ends with suffix ("" for all), ordered by name.
	List(ctx context.Context, suffix string) ([]Record, error)
	// GetMany returns the records that exist among ids.
	GetMany(ctx context.Context, ids []string) ([]Record, error)
}

// RefreshResult summarizes one bulk refresh run.
type RefreshResult struct {
	TotalSeen          int           `json:"total_seen"`
	NewlyCached        int           `json:"newly_cached"`
	AlreadyCached      int           `json:"already_cached"`
	NewlyCachedMembers int           `json:"newly_cached_members"`
	Skipped            int           `json:"skipped"`
	Failed             int           `json:"failed"`
	Duration           time.Duration `json:"duration_ns"`
}

// DisabledDirectory stands in when no upstream credentials are configured.
// Single lookups report ErrNotFound so callers fall back to the identifier.
type DisabledDirectory struct{}

func (DisabledDirectory) ResolveChat(context.Context, string) (Chat, error) {
	return Chat{}, ErrNotFound
}

func (DisabledDirectory) ListChats(context.Context) ([]Chat, error) {
	return nil, errors.Join(ErrUpstreamUnavailable, errors.New("directory credentials not configured"))
}
