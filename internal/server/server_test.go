package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markwave/chatvault/internal/auth"
)

type routes struct{}

func (routes) Register(e *echo.Echo) {
	ok := func(c echo.Context) error { return c.NoContent(http.StatusOK) }
	e.GET("/ping", ok)
	e.POST("/periskopewebhook", ok)
	e.GET("/messages", ok)
	e.GET("/boom", func(echo.Context) error { panic("boom") })
}

func TestServerAuthBoundary(t *testing.T) {
	srv := NewServer(slog.New(slog.NewTextHandler(io.Discard, nil)), "", "secret", routes{}, nil)
	token, _, err := auth.GenerateToken("919876543210", "", "secret", time.Minute)
	require.NoError(t, err)

	tests := []struct {
		method, path, token string
		status              int
	}{
		{http.MethodGet, "/ping", "", http.StatusOK},
		{http.MethodPost, "/periskopewebhook", "", http.StatusOK},
		{http.MethodPost, "/periskopewebhook/", "", http.StatusNotFound},
		{http.MethodGet, "/messages", "", http.StatusUnauthorized},
		{http.MethodGet, "/messages", token, http.StatusOK},
		{http.MethodGet, "/boom", token, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		if tt.token != "" {
			req.Header.Set(echo.HeaderAuthorization, "Bearer "+tt.token)
		}
		rec := httptest.NewRecorder()
		srv.Echo().ServeHTTP(rec, req)
		assert.Equal(t, tt.status, rec.Code, "%s %s", tt.method, tt.path)
	}
}
