package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/markwave/chatvault/internal/access"
	"github.com/markwave/chatvault/internal/names"
	"github.com/markwave/chatvault/internal/schedule"
)

// RefreshTrigger runs an on-demand bulk refresh.
type RefreshTrigger interface {
	Trigger(ctx context.Context) (names.RefreshResult, error)
	Last() (schedule.Run, bool)
}

// NameWriter overrides a cached chat name.
type NameWriter interface {
	Set(ctx context.Context, chatID, name string) (names.Record, error)
}

// PrincipalAdmin manages principals and grants.
type PrincipalAdmin interface {
	EnsurePrincipal(ctx context.Context, p access.Principal) (access.Principal, error)
	DeletePrincipal(ctx context.Context, id string) error
	ListPrincipals(ctx context.Context) ([]access.Principal, error)
	Grant(ctx context.Context, principalID string, chatIDs ...string) (int, error)
	Revoke(ctx context.Context, principalID, chatID string) (bool, error)
}

// AdminHandler serves the elevated-only maintenance endpoints.
type AdminHandler struct {
	gate      AccessGate
	refresher RefreshTrigger
	names     NameWriter
	manager   PrincipalAdmin
	logger    *slog.Logger
}

// NewAdminHandler creates the admin handler.
func NewAdminHandler(log *slog.Logger, gate AccessGate, refresher RefreshTrigger, nameWriter NameWriter, manager PrincipalAdmin) *AdminHandler {
	return &AdminHandler{
		gate:      gate,
		refresher: refresher,
		names:     nameWriter,
		manager:   manager,
		logger:    log.With(slog.String("handler", "admin")),
	}
}

// Register mounts /admin routes behind the admin check.
func (h *AdminHandler) Register(e *echo.Echo) {
	g := e.Group("/admin", h.adminOnly)
	g.POST("/refresh-cache", h.RefreshCache)
	g.GET("/refresh-cache", h.LastRefresh)
	g.PUT("/chat-names/:chat_id", h.SetChatName)
	g.POST("/principals", h.UpsertPrincipal)
	g.GET("/principals", h.ListPrincipals)
	g.DELETE("/principals/:phone", h.DeletePrincipal)
	g.POST("/grants", h.Grant)
	g.DELETE("/grants", h.Revoke)
}

func (h *AdminHandler) adminOnly(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := requireAdmin(c, h.gate)
		if err != nil {
			return err
		}
		c.Set("principal", p)
		return next(c)
	}
}

// RefreshCache godoc
// @Summary Refresh the chat name cache
// @Description Page through every upstream chat and store names not yet cached
// @Tags admin
// @Produce json
// @Success 200 {object} names.RefreshResult
// @Failure 403 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /admin/refresh-cache [post]
func (h *AdminHandler) RefreshCache(c echo.Context) error {
	if h.refresher == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "refresher not configured")
	}
	result, err := h.refresher.Trigger(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// LastRefresh returns the most recent refresh run.
func (h *AdminHandler) LastRefresh(c echo.Context) error {
	if h.refresher == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "refresher not configured")
	}
	run, ok := h.refresher.Last()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no refresh has run yet")
	}
	return c.JSON(http.StatusOK, run)
}

// SetChatNameRequest is the body for PUT /admin/chat-names/:chat_id.
type SetChatNameRequest struct {
	Name string `json:"chat_name"`
}

// SetChatName godoc
// @Summary Override a chat name
// @Tags admin
// @Accept json
// @Produce json
// @Param chat_id path string true "Chat ID"
// @Param payload body SetChatNameRequest true "New name"
// @Success 200 {object} names.Record
// @Failure 400 {object} ErrorResponse
// @Router /admin/chat-names/{chat_id} [put]
func (h *AdminHandler) SetChatName(c echo.Context) error {
	if h.names == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "name cache not configured")
	}
	var req SetChatNameRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	chatID := strings.TrimSpace(c.Param("chat_id"))
	if chatID == "" || strings.TrimSpace(req.Name) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "chat id and chat_name are required")
	}
	rec, err := h.names.Set(c.Request().Context(), chatID, req.Name)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

// PrincipalRequest is the body for POST /admin/principals.
type PrincipalRequest struct {
	Phone string `json:"phone"`
	Role  string `json:"role"`
	Name  string `json:"name"`
}

// UpsertPrincipal godoc
// @Summary Create or update a principal
// @Tags admin
// @Accept json
// @Produce json
// @Param payload body PrincipalRequest true "Principal"
// @Success 200 {object} access.Principal
// @Failure 400 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /admin/principals [post]
func (h *AdminHandler) UpsertPrincipal(c echo.Context) error {
	if h.manager == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "access manager not configured")
	}
	var req PrincipalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Phone) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "phone is required")
	}
	p, err := h.manager.EnsurePrincipal(c.Request().Context(), access.Principal{
		ID:   req.Phone,
		Role: req.Role,
		Name: strings.TrimSpace(req.Name),
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// ListPrincipals returns every principal.
func (h *AdminHandler) ListPrincipals(c echo.Context) error {
	if h.manager == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "access manager not configured")
	}
	items, err := h.manager.ListPrincipals(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []access.Principal{}
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

// DeletePrincipal removes a principal and its grants.
func (h *AdminHandler) DeletePrincipal(c echo.Context) error {
	if h.manager == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "access manager not configured")
	}
	phone := strings.TrimSpace(c.Param("phone"))
	if phone == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "phone is required")
	}
	if err := h.manager.DeletePrincipal(c.Request().Context(), phone); err != nil {
		if errors.Is(err, access.ErrPrincipalNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "principal not found")
		}
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// GrantRequest is the body for POST /admin/grants.
type GrantRequest struct {
	Phone   string   `json:"phone"`
	ChatIDs []string `json:"chat_ids"`
}

// GrantResponse reports how many of the requested grants were new.
type GrantResponse struct {
	Phone   string `json:"phone"`
	Created int    `json:"created"`
}

// Grant godoc
// @Summary Grant chat access
// @Description Add principal-to-chat edges. Existing edges are left alone.
// @Tags admin
// @Accept json
// @Produce json
// @Param payload body GrantRequest true "Grant"
// @Success 200 {object} GrantResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /admin/grants [post]
func (h *AdminHandler) Grant(c echo.Context) error {
	if h.manager == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "access manager not configured")
	}
	var req GrantRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	phone := strings.TrimSpace(req.Phone)
	if phone == "" || len(req.ChatIDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "phone and chat_ids are required")
	}
	n, err := h.manager.Grant(c.Request().Context(), phone, req.ChatIDs...)
	if err != nil {
		if errors.Is(err, access.ErrPrincipalNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "principal not found")
		}
		return httpError(err)
	}
	return c.JSON(http.StatusOK, GrantResponse{Phone: phone, Created: n})
}

// Revoke removes one grant given by the phone and chat_id query parameters.
func (h *AdminHandler) Revoke(c echo.Context) error {
	if h.manager == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "access manager not configured")
	}
	phone := strings.TrimSpace(c.QueryParam("phone"))
	chatID := strings.TrimSpace(c.QueryParam("chat_id"))
	if phone == "" || chatID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "phone and chat_id are required")
	}
	removed, err := h.manager.Revoke(c.Request().Context(), phone, chatID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"removed": removed})
}
