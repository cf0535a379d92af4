package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/markwave/chatvault/internal/access"
	"github.com/markwave/chatvault/internal/message"
	"github.com/markwave/chatvault/internal/names"
)

// statusClientClosed reports a request abandoned by the client before a response.
const statusClientClosed = 499

// ErrorResponse is the standard API error body (message only).
type ErrorResponse struct {
	Message string `json:"message"`
}

// httpError maps domain sentinels onto status codes. Unknown errors become 500
// with the detail kept as the internal error only.
func httpError(err error) error {
	var he *echo.HTTPError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &he):
		return he
	case errors.Is(err, context.Canceled):
		return echo.NewHTTPError(statusClientClosed, "request cancelled").SetInternal(err)
	case errors.Is(err, access.ErrPermissionStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "permission store unavailable").SetInternal(err)
	case errors.Is(err, message.ErrStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "message store unavailable").SetInternal(err)
	case errors.Is(err, names.ErrUpstreamUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, "upstream unavailable").SetInternal(err)
	case errors.Is(err, names.ErrNotFound), errors.Is(err, message.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found").SetInternal(err)
	case errors.Is(err, access.ErrPrincipalNotFound):
		return echo.NewHTTPError(http.StatusForbidden, "unknown principal").SetInternal(err)
	case errors.Is(err, access.ErrInvalidRole):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}
