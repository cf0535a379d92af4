// Package access decides which chats a principal may read and scopes message queries accordingly.
package access

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
)

var (
	// ErrPermissionStoreUnavailable is returned when grants or roles cannot be read.
	// Callers must treat it as a denial.
	ErrPermissionStoreUnavailable = errors.New("access: permission store unavailable")
	// ErrPrincipalNotFound is returned for identifiers with no principal record.
	ErrPrincipalNotFound = errors.New("access: principal not found")
	// ErrInvalidRole is returned when a principal is given a role outside the known set.
	ErrInvalidRole = errors.New("access: invalid role")
)

// Roles a principal can hold.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleUser
}

// Principal is an authenticated caller, identified by phone number.
type Principal struct {
	ID        string    `json:"phone"`
	Role      string    `json:"role"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Graph stores principals and their chat grant edges.
type Graph interface {
	// GrantsFor returns the chat ids principalID may read.
	GrantsFor(ctx context.Context, principalID string) ([]string, error)
	// Grant adds edges; existing edges are kept. It returns how many were new.
	Grant(ctx context.Context, principalID string, chatIDs ...string) (int, error)
	// Revoke removes an edge and reports whether it existed.
	Revoke(ctx context.Context, principalID, chatID string) (bool, error)
	Principal(ctx context.Context, id string) (Principal, error)
	UpsertPrincipal(ctx context.Context, p Principal) (Principal, error)
	DeletePrincipal(ctx context.Context, id string) (bool, error)
	ListPrincipals(ctx context.Context) ([]Principal, error)
}

// ChatSet is the set of chats a principal is authorized for.
type ChatSet struct {
	All bool
	IDs []string
}

// Empty reports whether the set authorizes nothing.
func (s ChatSet) Empty() bool {
	return !s.All && len(s.IDs) == 0
}

// Contains reports whether chatID is in the set.
func (s ChatSet) Contains(chatID string) bool {
	return s.All || slices.Contains(s.IDs, chatID)
}

// normalizeIDs trims, drops empties and de-duplicates while keeping order.
func normalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
