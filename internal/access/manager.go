package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Manager performs administrative changes to principals and grants.
type Manager struct {
	graph   Graph
	timeout time.Duration
	logger  *slog.Logger
}

// NewManager creates a Manager. timeout bounds each graph call.
func NewManager(log *slog.Logger, graph Graph, timeout time.Duration) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Manager{graph: graph, timeout: timeout, logger: log.With(slog.String("service", "access_admin"))}
}

// EnsurePrincipal creates p or updates its role and name.
func (m *Manager) EnsurePrincipal(ctx context.Context, p Principal) (Principal, error) {
	p.ID = strings.TrimSpace(p.ID)
	p.Role = strings.TrimSpace(p.Role)
	if p.ID == "" {
		return Principal{}, errors.New("principal id is required")
	}
	if p.Role == "" {
		p.Role = RoleUser
	}
	if !ValidRole(p.Role) {
		return Principal{}, fmt.Errorf("%w: %q", ErrInvalidRole, p.Role)
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	out, err := m.graph.UpsertPrincipal(ctx, p)
	if err != nil {
		return Principal{}, m.wrap("upsert principal", err)
	}
	m.logger.Info("principal saved", slog.String("principal", out.ID), slog.String("role", out.Role))
	return out, nil
}

// DeletePrincipal removes a principal and its grants.
func (m *Manager) DeletePrincipal(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	ok, err := m.graph.DeletePrincipal(ctx, strings.TrimSpace(id))
	if err != nil {
		return m.wrap("delete principal", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrPrincipalNotFound, id)
	}
	m.logger.Info("principal deleted", slog.String("principal", id))
	return nil
}

// ListPrincipals returns every principal.
func (m *Manager) ListPrincipals(ctx context.Context) ([]Principal, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	out, err := m.graph.ListPrincipals(ctx)
	if err != nil {
		return nil, m.wrap("list principals", err)
	}
	return out, nil
}

// Grant lets principalID read chatIDs. Repeating a grant is a no-op.
func (m *Manager) Grant(ctx context.Context, principalID string, chatIDs ...string) (int, error) {
	principalID = strings.TrimSpace(principalID)
	chatIDs = normalizeIDs(chatIDs)
	if principalID == "" || len(chatIDs) == 0 {
		return 0, errors.New("principal id and at least one chat id are required")
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	n, err := m.graph.Grant(ctx, principalID, chatIDs...)
	if err != nil {
		return 0, m.wrap("grant", err)
	}
	m.logger.Info("grants added", slog.String("principal", principalID), slog.Int("new", n), slog.Int("requested", len(chatIDs)))
	return n, nil
}

// Revoke removes one grant. Revoking a missing grant is not an error.
func (m *Manager) Revoke(ctx context.Context, principalID, chatID string) (bool, error) {
	principalID = strings.TrimSpace(principalID)
	chatID = strings.TrimSpace(chatID)
	if principalID == "" || chatID == "" {
		return false, errors.New("principal id and chat id are required")
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	ok, err := m.graph.Revoke(ctx, principalID, chatID)
	if err != nil {
		return false, m.wrap("revoke", err)
	}
	return ok, nil
}

func (m *Manager) wrap(op string, err error) error {
	if errors.Is(err, ErrPrincipalNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrPermissionStoreUnavailable, op, err)
}
