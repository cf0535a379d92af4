package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/markwave/chatvault/internal/access"
	"github.com/markwave/chatvault/internal/auth"
	"github.com/markwave/chatvault/internal/message"
	"github.com/markwave/chatvault/internal/names"
)

// AccessGate is the authorization surface the read endpoints depend on.
type AccessGate interface {
	ResolvePrincipal(ctx context.Context, id string) (access.Principal, error)
	ListAccessibleMessages(ctx context.Context, p access.Principal, q message.Query) ([]message.Message, error)
	CanView(ctx context.Context, p access.Principal, chatID string) (bool, error)
	ListAccessibleChats(ctx context.Context, p access.Principal) ([]names.Record, error)
}

// requirePrincipal resolves the caller behind the bearer token.
func requirePrincipal(c echo.Context, gate AccessGate) (access.Principal, error) {
	if gate == nil {
		return access.Principal{}, echo.NewHTTPError(http.StatusInternalServerError, "access gate not configured")
	}
	phone, err := auth.PhoneFromContext(c)
	if err != nil {
		return access.Principal{}, err
	}
	p, err := gate.ResolvePrincipal(c.Request().Context(), phone)
	if err != nil {
		return access.Principal{}, httpError(err)
	}
	return p, nil
}

// requireAdmin resolves the caller and rejects non-elevated principals.
func requireAdmin(c echo.Context, gate AccessGate) (access.Principal, error) {
	p, err := requirePrincipal(c, gate)
	if err != nil {
		return access.Principal{}, err
	}
	if !access.IsElevated(p) {
		return access.Principal{}, echo.NewHTTPError(http.StatusForbidden, "admin role required")
	}
	return p, nil
}

// requireViewable rejects chats outside the caller's authorized set.
func requireViewable(c echo.Context, gate AccessGate, p access.Principal, chatID string) error {
	ok, err := gate.CanView(c.Request().Context(), p, chatID)
	if err != nil {
		return httpError(err)
	}
	if !ok {
		return echo.NewHTTPError(http.StatusForbidden, "chat access denied")
	}
	return nil
}
