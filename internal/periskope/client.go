// Package periskope is the HTTP client for the Periskope chat directory API.
package periskope

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/markwave/chatvault/internal/config"
	"github.com/markwave/chatvault/internal/names"
)

const maxBodyBytes = 32 << 20

// Client implements names.Directory against the Periskope REST API.
type Client struct {
	baseURL     string
	apiKey      string
	orgPhone    string
	timeout     time.Duration
	listTimeout time.Duration
	httpClient  *http.Client
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	logger      *slog.Logger
}

var _ names.Directory = (*Client)(nil)

// NewClient creates a client from config. The caller should check cfg.Enabled first.
func NewClient(log *slog.Logger, cfg config.PeriskopeConfig) *Client {
	if log == nil {
		log = slog.Default()
	}
	logger := log.With(slog.String("service", "periskope"))
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = config.DefaultPeriskopeBaseURL
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		orgPhone:    strings.TrimSpace(cfg.OrgPhone),
		timeout:     config.Duration(cfg.Timeout, 5*time.Second),
		listTimeout: config.Duration(cfg.ListTimeout, 30*time.Second),
		httpClient:  &http.Client{},
		limiter:     rate.NewLimiter(limit, burst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "periskope",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, names.ErrNotFound) || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		}),
		logger: logger,
	}
}

type memberInfo struct {
	ContactName string `json:"contact_name"`
}

type chatPayload struct {
	ChatID   string                `json:"chat_id"`
	ChatName string                `json:"chat_name"`
	Members  map[string]memberInfo `json:"members"`
}

func (p chatPayload) toChat(fallbackID string) names.Chat {
	chat := names.Chat{ID: p.ChatID, Name: p.ChatName}
	if chat.ID == "" {
		chat.ID = fallbackID
	}
	if len(p.Members) > 0 {
		chat.Members = make([]names.Member, 0, len(p.Members))
		for id, info := range p.Members {
			chat.Members = append(chat.Members, names.Member{ID: id, Name: info.ContactName})
		}
		sort.Slice(chat.Members, func(i, j int) bool { return chat.Members[i].ID < chat.Members[j].ID })
	}
	return chat
}

// ResolveChat fetches one chat. A 404 maps to names.ErrNotFound; every other
// failure maps to names.ErrUpstreamUnavailable.
func (c *Client) ResolveChat(ctx context.Context, chatID string) (names.Chat, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return names.Chat{}, names.ErrNotFound
	}
	body, err := c.get(ctx, c.timeout, "/chat/"+url.PathEscape(chatID))
	if err != nil {
		return names.Chat{}, err
	}
	var payload chatPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return names.Chat{}, fmt.Errorf("%w: decode chat %s: %v", names.ErrUpstreamUnavailable, chatID, err)
	}
	return payload.toChat(chatID), nil
}

// ListChats fetches every chat visible to the organization phone.
func (c *Client) ListChats(ctx context.Context) ([]names.Chat, error) {
	body, err := c.get(ctx, c.listTimeout, "/chats")
	if err != nil {
		return nil, err
	}
	payloads, err := decodeChatList(body)
	if err != nil {
		return nil, fmt.Errorf("%w: decode chats: %v", names.ErrUpstreamUnavailable, err)
	}
	chats := make([]names.Chat, 0, len(payloads))
	for _, p := range payloads {
		chats = append(chats, p.toChat(""))
	}
	return chats, nil
}

// decodeChatList accepts either a bare array or an object wrapping it in "chats".
func decodeChatList(body []byte) ([]chatPayload, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []chatPayload
		err := json.Unmarshal(trimmed, &list)
		return list, err
	}
	var wrapped struct {
		Chats []chatPayload `json:"chats"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Chats, nil
}

func (c *Client) get(ctx context.Context, timeout time.Duration, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, fmt.Errorf("rate limit wait: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: rate limit wait: %v", names.ErrUpstreamUnavailable, err)
	}
	out, err := c.breaker.Execute(func() (any, error) {
		return c.do(ctx, path)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", names.ErrUpstreamUnavailable, err)
		}
		return nil, err
	}
	return out.([]byte), nil
}

func (c *Client) do(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", names.ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("x-phone", c.orgPhone)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// the caller went away; the upstream is not at fault
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, fmt.Errorf("get %s: %w", path, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", names.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", names.ErrUpstreamUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", names.ErrNotFound, path)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		c.logger.Error("periskope error",
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("body_prefix", truncate(string(body), 300)))
		return nil, fmt.Errorf("%w: %s returned status %d", names.ErrUpstreamUnavailable, path, resp.StatusCode)
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
