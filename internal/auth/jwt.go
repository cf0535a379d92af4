// Package auth issues and verifies the bearer tokens that identify principals.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// contextKey is where the echo-jwt middleware stores the parsed token.
const contextKey = "user"

// Claim names carried by issued tokens.
const (
	ClaimSubject = "sub"
	ClaimPhone   = "phone"
	ClaimRole    = "role"
)

var (
	// ErrMissingSecret is returned when no signing secret is configured.
	ErrMissingSecret = errors.New("jwt secret not configured")
	// ErrNoPrincipal is returned when the request carries no usable subject.
	ErrNoPrincipal = errors.New("token has no subject")
)

// JWTMiddleware validates HS256 bearer tokens. Requests for which skipper
// returns true pass through unauthenticated.
func JWTMiddleware(secret string, skipper middleware.Skipper) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey:    []byte(secret),
		SigningMethod: jwt.SigningMethodHS256.Alg(),
		ContextKey:    contextKey,
		TokenLookup:   "header:Authorization:Bearer ,query:token",
		Skipper:       skipper,
		NewClaimsFunc: func(echo.Context) jwt.Claims {
			return jwt.MapClaims{}
		},
		ErrorHandler: func(_ echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing token").SetInternal(err)
		},
	})
}

// GenerateToken signs a token for phone valid for ttl. The role claim is
// informational; authorization reads the role from the access graph.
func GenerateToken(phone, role, secret string, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(secret) == "" {
		return "", time.Time{}, ErrMissingSecret
	}
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", time.Time{}, ErrNoPrincipal
	}
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("invalid token ttl %s", ttl)
	}
	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := jwt.MapClaims{
		ClaimSubject: phone,
		ClaimPhone:   phone,
		"iat":        now.Unix(),
		"exp":        expiresAt.Unix(),
	}
	if role = strings.TrimSpace(role); role != "" {
		claims[ClaimRole] = role
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// PhoneFromContext returns the principal id of the authenticated request.
func PhoneFromContext(c echo.Context) (string, error) {
	token, ok := c.Get(contextKey).(*jwt.Token)
	if !ok || token == nil {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid token claims")
	}
	for _, key := range []string{ClaimSubject, ClaimPhone} {
		if v, ok := claims[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), nil
		}
	}
	return "", echo.NewHTTPError(http.StatusUnauthorized, ErrNoPrincipal.Error())
}
