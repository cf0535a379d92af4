package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key"

func newEcho(skip func(echo.Context) bool) *echo.Echo {
	e := echo.New()
	e.Use(JWTMiddleware(testSecret, skip))
	e.GET("/me", func(c echo.Context) error {
		phone, err := PhoneFromContext(c)
		if err != nil {
			return err
		}
		return c.String(http.StatusOK, phone)
	})
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })
	return e
}

func TestGenerateToken(t *testing.T) {
	tok, exp, err := GenerateToken(" 919876543210 ", "admin", testSecret, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	parsed, err := jwt.Parse(tok, func(*jwt.Token) (any, error) { return []byte(testSecret), nil })
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "919876543210", claims[ClaimSubject])
	assert.Equal(t, "admin", claims[ClaimRole])
}

func TestGenerateTokenValidation(t *testing.T) {
	tests := []struct {
		name, phone, secret string
		ttl                 time.Duration
	}{
		{"no secret", "9198", "", time.Hour},
		{"no phone", " ", testSecret, time.Hour},
		{"bad ttl", "9198", testSecret, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := GenerateToken(tt.phone, "", tt.secret, tt.ttl)
			assert.Error(t, err)
		})
	}
}

func TestMiddleware(t *testing.T) {
	valid, _, err := GenerateToken("919876543210", "user", testSecret, time.Hour)
	require.NoError(t, err)
	foreign, _, err := GenerateToken("919876543210", "user", "other-secret", time.Hour)
	require.NoError(t, err)
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "919876543210",
		"exp": time.Now().Add(-time.Minute).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		header string
		status int
		body   string
	}{
		{"valid bearer", "/me", "Bearer " + valid, http.StatusOK, "919876543210"},
		{"query token", "/me?token=" + valid, "", http.StatusOK, "919876543210"},
		{"missing", "/me", "", http.StatusUnauthorized, ""},
		{"wrong secret", "/me", "Bearer " + foreign, http.StatusUnauthorized, ""},
		{"expired", "/me", "Bearer " + expired, http.StatusUnauthorized, ""},
		{"no subject", "/me", "Bearer " + noSubject, http.StatusUnauthorized, ""},
		{"skipped", "/ping", "", http.StatusOK, "pong"},
	}
	e := newEcho(func(c echo.Context) bool { return c.Request().URL.Path == "/ping" })
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}
