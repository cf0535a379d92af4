package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/markwave/chatvault/internal/access"
	"github.com/markwave/chatvault/internal/auth"
	"github.com/markwave/chatvault/internal/enrich"
	"github.com/markwave/chatvault/internal/message"
	"github.com/markwave/chatvault/internal/names"
	"github.com/markwave/chatvault/internal/schedule"
)

const (
	testSecret = "handler-test-secret"
	adminPhone = "910000000001"
	userPhone  = "910000000002"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tokenFor(t *testing.T, phone string) string {
	t.Helper()
	tok, _, err := auth.GenerateToken(phone, "", testSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

func newTestEcho(handlers ...interface{ Register(*echo.Echo) }) *echo.Echo {
	e := echo.New()
	e.Use(auth.JWTMiddleware(testSecret, func(c echo.Context) bool {
		return c.Request().URL.Path == "/periskopewebhook" || c.Request().URL.Path == "/ping" || c.Request().URL.Path == "/health"
	}))
	for _, h := range handlers {
		h.Register(e)
	}
	return e
}

func do(e *echo.Echo, method, path, token, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type fakeGate struct {
	mu         sync.Mutex
	principals map[string]access.Principal
	grants     map[string][]string
	messages   []message.Message
	chats      []names.Record
	err        error
	lastQuery  message.Query
}

func newFakeGate() *fakeGate {
	return &fakeGate{
		principals: map[string]access.Principal{
			adminPhone: {ID: adminPhone, Role: access.RoleAdmin},
			userPhone:  {ID: userPhone, Role: access.RoleUser},
		},
		grants: map[string][]string{userPhone: {"A@g.us", "B@g.us"}},
	}
}

func (g *fakeGate) ResolvePrincipal(_ context.Context, id string) (access.Principal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.principals[id]
	if !ok {
		return access.Principal{}, access.ErrPrincipalNotFound
	}
	return p, nil
}

func (g *fakeGate) visible(p access.Principal, chatID string) bool {
	return access.IsElevated(p) || slices.Contains(g.grants[p.ID], chatID)
}

func (g *fakeGate) ListAccessibleMessages(_ context.Context, p access.Principal, q message.Query) ([]message.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastQuery = q
	if g.err != nil {
		return nil, g.err
	}
	out := []message.Message{}
	for _, m := range g.messages {
		if g.visible(p, m.ChatID) && m.Seq > q.After && (q.ChatID == "" || q.ChatID == m.ChatID) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (g *fakeGate) CanView(_ context.Context, p access.Principal, chatID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false, g.err
	}
	return g.visible(p, chatID), nil
}

func (g *fakeGate) ListAccessibleChats(_ context.Context, p access.Principal) ([]names.Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	var out []names.Record
	for _, rec := range g.chats {
		if g.visible(p, rec.ChatID) {
			out = append(out, rec)
		}
	}
	return out, nil
}

type fakeNames struct {
	names map[string]string
	err   error
	set   map[string]string
}

func (f *fakeNames) Resolve(_ context.Context, chatID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	name, ok := f.names[chatID]
	if !ok {
		return "", names.ErrNotFound
	}
	return name, nil
}

func (f *fakeNames) Set(_ context.Context, chatID, name string) (names.Record, error) {
	if f.set == nil {
		f.set = map[string]string{}
	}
	f.set[chatID] = name
	return names.Record{ChatID: chatID, Name: name}, nil
}

type fakeRefresh struct {
	calls  int
	result names.RefreshResult
	err    error
	last   *schedule.Run
}

func (f *fakeRefresh) Trigger(context.Context) (names.RefreshResult, error) {
	f.calls++
	f.last = &schedule.Run{Trigger: schedule.TriggerManual, Result: f.result}
	return f.result, f.err
}

func (f *fakeRefresh) Last() (schedule.Run, bool) {
	if f.last == nil {
		return schedule.Run{}, false
	}
	return *f.last, true
}

type fakeManager struct {
	principals map[string]access.Principal
	grants     map[string]map[string]bool
	err        error
}

func newFakeManager() *fakeManager {
	return &fakeManager{principals: map[string]access.Principal{}, grants: map[string]map[string]bool{}}
}

func (m *fakeManager) EnsurePrincipal(_ context.Context, p access.Principal) (access.Principal, error) {
	if m.err != nil {
		return access.Principal{}, m.err
	}
	if p.Role == "" {
		p.Role = access.RoleUser
	}
	if !access.ValidRole(p.Role) {
		return access.Principal{}, access.ErrInvalidRole
	}
	m.principals[p.ID] = p
	return p, nil
}

func (m *fakeManager) DeletePrincipal(_ context.Context, id string) error {
	if _, ok := m.principals[id]; !ok {
		return access.ErrPrincipalNotFound
	}
	delete(m.principals, id)
	return nil
}

func (m *fakeManager) ListPrincipals(context.Context) ([]access.Principal, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]access.Principal, 0, len(m.principals))
	for _, p := range m.principals {
		out = append(out, p)
	}
	return out, nil
}

func (m *fakeManager) Grant(_ context.Context, principalID string, chatIDs ...string) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	if _, ok := m.principals[principalID]; !ok {
		return 0, access.ErrPrincipalNotFound
	}
	if m.grants[principalID] == nil {
		m.grants[principalID] = map[string]bool{}
	}
	n := 0
	for _, id := range chatIDs {
		if !m.grants[principalID][id] {
			m.grants[principalID][id] = true
			n++
		}
	}
	return n, nil
}

func (m *fakeManager) Revoke(_ context.Context, principalID, chatID string) (bool, error) {
	if !m.grants[principalID][chatID] {
		return false, nil
	}
	delete(m.grants[principalID], chatID)
	return true, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []enrich.Event
	traces []string
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, ev enrich.Event, traceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	p.traces = append(p.traces, traceID)
	return nil
}
