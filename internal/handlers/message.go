package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	messagepkg "github.com/markwave/chatvault/internal/message"
	messageevent "github.com/markwave/chatvault/internal/message/event"
)

const (
	streamBuffer      = 128
	heartbeatInterval = 20 * time.Second
)

// MessageHandler serves scoped message reads and the live stream.
type MessageHandler struct {
	gate      AccessGate
	events    messageevent.Subscriber
	heartbeat time.Duration
	logger    *slog.Logger
}

// NewMessageHandler creates a message handler. events may be nil, in which
// case the stream endpoint reports 500.
func NewMessageHandler(log *slog.Logger, gate AccessGate, events messageevent.Subscriber) *MessageHandler {
	return &MessageHandler{
		gate:      gate,
		events:    events,
		heartbeat: heartbeatInterval,
		logger:    log.With(slog.String("handler", "message")),
	}
}

// Register mounts the message routes.
func (h *MessageHandler) Register(e *echo.Echo) {
	e.GET("/messages", h.ListMessages)
	e.GET("/messages/stream", h.StreamMessages)
}

// MessagePage is the response body of GET /messages.
type MessagePage struct {
	Items     []messagepkg.Message `json:"items"`
	NextAfter int64                `json:"next_after,omitempty"`
}

func writeSSEData(writer *bufio.Writer, flusher http.Flusher, payload string) error {
	if _, err := fmt.Fprintf(writer, "data: %s\n\n", payload); err != nil {
		return err
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func writeSSEJSON(writer *bufio.Writer, flusher http.Flusher, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return writeSSEData(writer, flusher, string(data))
}

func parseQuery(c echo.Context) (messagepkg.Query, error) {
	q := messagepkg.Query{ChatID: strings.TrimSpace(c.QueryParam("chat_id"))}
	if s := strings.TrimSpace(c.QueryParam("limit")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return q, echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		q.Limit = n
	}
	if s := strings.TrimSpace(c.QueryParam("after")); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			return q, echo.NewHTTPError(http.StatusBadRequest, "after must be a non-negative integer")
		}
		q.After = n
	}
	return q, nil
}

// ListMessages godoc
// @Summary List messages
// @Description List stored messages from the chats the caller may read, oldest first
// @Tags messages
// @Produce json
// @Param chat_id query string false "Restrict to one chat"
// @Param limit query int false "Page size"
// @Param after query int false "Return messages with seq greater than this"
// @Success 200 {object} MessagePage
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /messages [get]
func (h *MessageHandler) ListMessages(c echo.Context) error {
	p, err := requirePrincipal(c, h.gate)
	if err != nil {
		return err
	}
	q, err := parseQuery(c)
	if err != nil {
		return err
	}
	items, err := h.gate.ListAccessibleMessages(c.Request().Context(), p, q)
	if err != nil {
		return httpError(err)
	}
	page := MessagePage{Items: items}
	if n := len(items); n > 0 {
		page.NextAfter = items[n-1].Seq
	}
	return c.JSON(http.StatusOK, page)
}

// StreamMessages streams newly ingested messages of one authorized chat as
// server-sent events. Access is checked again on every heartbeat and before
// every delivered event; the stream closes once it no longer holds.
func (h *MessageHandler) StreamMessages(c echo.Context) error {
	p, err := requirePrincipal(c, h.gate)
	if err != nil {
		return err
	}
	chatID := strings.TrimSpace(c.QueryParam("chat_id"))
	if chatID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "chat_id is required")
	}
	if err := requireViewable(c, h.gate, p, chatID); err != nil {
		return err
	}
	if h.events == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "message events not configured")
	}

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming not supported")
	}

	sub := h.events.Subscribe(chatID, streamBuffer)
	defer sub.Cancel()

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
	writer := bufio.NewWriter(c.Response().Writer)

	if err := writeSSEJSON(writer, flusher, map[string]any{"type": "ready", "chat_id": chatID}); err != nil {
		return nil
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !h.stillViewable(ctx, writer, flusher, p.ID, chatID) {
				return nil
			}
			if err := writeSSEJSON(writer, flusher, map[string]any{"type": "ping"}); err != nil {
				return nil
			}
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			if len(ev.Data) == 0 {
				continue
			}
			var msg messagepkg.Message
			if err := json.Unmarshal(ev.Data, &msg); err != nil {
				h.logger.Warn("decode message event failed", slog.Any("error", err))
				continue
			}
			if !h.stillViewable(ctx, writer, flusher, p.ID, chatID) {
				return nil
			}
			if err := writeSSEJSON(writer, flusher, map[string]any{
				"type":    string(ev.Type),
				"chat_id": chatID,
				"message": msg,
			}); err != nil {
				return nil
			}
		}
	}
}

// stillViewable re-reads the principal and its grants for an open stream. On
// denial or any lookup failure it writes a closing event and reports false.
func (h *MessageHandler) stillViewable(ctx context.Context, writer *bufio.Writer, flusher http.Flusher, principalID, chatID string) bool {
	ok, err := h.canView(ctx, principalID, chatID)
	if err == nil && ok {
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	final := map[string]any{"type": "revoked", "chat_id": chatID}
	if err != nil {
		h.logger.Warn("stream authorization check failed", slog.String("chat_id", chatID), slog.Any("error", err))
		final = map[string]any{"type": "error", "chat_id": chatID, "message": "authorization unavailable"}
	} else {
		h.logger.Info("stream access revoked", slog.String("principal", principalID), slog.String("chat_id", chatID))
	}
	_ = writeSSEJSON(writer, flusher, final)
	return false
}

func (h *MessageHandler) canView(ctx context.Context, principalID, chatID string) (bool, error) {
	p, err := h.gate.ResolvePrincipal(ctx, principalID)
	if err != nil {
		return false, err
	}
	return h.gate.CanView(ctx, p, chatID)
}
