package access

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/markwave/chatvault/internal/message"
	"github.com/markwave/chatvault/internal/names"
)

type memGraph struct {
	mu         sync.Mutex
	principals map[string]Principal
	grants     map[string]map[string]bool
	err        error
	block      bool
	calls      int
}

func newMemGraph() *memGraph {
	return &memGraph{principals: map[string]Principal{}, grants: map[string]map[string]bool{}}
}

func (g *memGraph) enter(ctx context.Context) error {
	g.mu.Lock()
	g.calls++
	block, err := g.block, g.err
	g.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (g *memGraph) GrantsFor(ctx context.Context, principalID string) ([]string, error) {
	if err := g.enter(ctx); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := []string{}
	for id := range g.grants[principalID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (g *memGraph) Grant(ctx context.Context, principalID string, chatIDs ...string) (int, error) {
	if err := g.enter(ctx); err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.principals[principalID]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrPrincipalNotFound, principalID)
	}
	if g.grants[principalID] == nil {
		g.grants[principalID] = map[string]bool{}
	}
	n := 0
	for _, id := range chatIDs {
		if !g.grants[principalID][id] {
			g.grants[principalID][id] = true
			n++
		}
	}
	return n, nil
}

func (g *memGraph) Revoke(ctx context.Context, principalID, chatID string) (bool, error) {
	if err := g.enter(ctx); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	ok := g.grants[principalID][chatID]
	delete(g.grants[principalID], chatID)
	return ok, nil
}

func (g *memGraph) Principal(ctx context.Context, id string) (Principal, error) {
	if err := g.enter(ctx); err != nil {
		return Principal{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.principals[id]
	if !ok {
		return Principal{}, fmt.Errorf("%w: %s", ErrPrincipalNotFound, id)
	}
	return p, nil
}

func (g *memGraph) UpsertPrincipal(ctx context.Context, p Principal) (Principal, error) {
	if err := g.enter(ctx); err != nil {
		return Principal{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.principals[p.ID] = p
	return p, nil
}

func (g *memGraph) DeletePrincipal(ctx context.Context, id string) (bool, error) {
	if err := g.enter(ctx); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.principals[id]
	delete(g.principals, id)
	delete(g.grants, id)
	return ok, nil
}

func (g *memGraph) ListPrincipals(ctx context.Context) ([]Principal, error) {
	if err := g.enter(ctx); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := []Principal{}
	for _, p := range g.principals {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// memMessages applies the filter the way the real store does.
type memMessages struct {
	messages []message.Message
	filters  []message.Filter
}

func (m *memMessages) Query(_ context.Context, filter message.Filter, q message.Query) ([]message.Message, error) {
	m.filters = append(m.filters, filter)
	out := []message.Message{}
	for _, msg := range m.messages {
		if !filter.All && !slices.Contains(filter.ChatIDs, msg.ChatID) {
			continue
		}
		if q.ChatID != "" && msg.ChatID != q.ChatID {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

type memNames struct {
	records []names.Record
}

func (n memNames) List(_ context.Context, suffix string) ([]names.Record, error) {
	out := []names.Record{}
	for _, r := range n.records {
		if suffix == "" || len(r.ChatID) >= len(suffix) && r.ChatID[len(r.ChatID)-len(suffix):] == suffix {
			out = append(out, r)
		}
	}
	return out, nil
}

func (n memNames) GetMany(_ context.Context, ids []string) ([]names.Record, error) {
	out := []names.Record{}
	for _, r := range n.records {
		if slices.Contains(ids, r.ChatID) {
			out = append(out, r)
		}
	}
	return out, nil
}
