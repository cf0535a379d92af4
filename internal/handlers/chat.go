package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/markwave/chatvault/internal/names"
)

// NameResolver resolves a chat id to its display name.
type NameResolver interface {
	Resolve(ctx context.Context, chatID string) (string, error)
}

// ChatHandler serves the chat listing and name lookups.
type ChatHandler struct {
	gate   AccessGate
	names  NameResolver
	logger *slog.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(log *slog.Logger, gate AccessGate, resolver NameResolver) *ChatHandler {
	return &ChatHandler{
		gate:   gate,
		names:  resolver,
		logger: log.With(slog.String("handler", "chat")),
	}
}

// Register mounts the chat routes.
func (h *ChatHandler) Register(e *echo.Echo) {
	e.GET("/chats", h.ListChats)
	e.GET("/chats/:chat_id/name", h.GetChatName)
}

// ChatName is the response body of GET /chats/:chat_id/name.
type ChatName struct {
	ChatID string `json:"chat_id"`
	Name   string `json:"chat_name"`
}

// ListChats godoc
// @Summary List accessible chats
// @Tags chats
// @Produce json
// @Success 200 {object} map[string][]names.Record
// @Failure 403 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /chats [get]
func (h *ChatHandler) ListChats(c echo.Context) error {
	p, err := requirePrincipal(c, h.gate)
	if err != nil {
		return err
	}
	items, err := h.gate.ListAccessibleChats(c.Request().Context(), p)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []names.Record{}
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

// GetChatName godoc
// @Summary Resolve a chat name
// @Description Resolve through the name cache, asking upstream on a miss
// @Tags chats
// @Produce json
// @Param chat_id path string true "Chat ID"
// @Success 200 {object} ChatName
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /chats/{chat_id}/name [get]
func (h *ChatHandler) GetChatName(c echo.Context) error {
	p, err := requirePrincipal(c, h.gate)
	if err != nil {
		return err
	}
	chatID := strings.TrimSpace(c.Param("chat_id"))
	if chatID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "chat id is required")
	}
	if err := requireViewable(c, h.gate, p, chatID); err != nil {
		return err
	}
	if h.names == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "name cache not configured")
	}
	name, err := h.names.Resolve(c.Request().Context(), chatID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ChatName{ChatID: chatID, Name: name})
}
