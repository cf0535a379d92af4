package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/markwave/chatvault/internal/enrich"
	"github.com/markwave/chatvault/internal/ingest"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "x-periskope-signature"

const maxWebhookBody = 4 << 20

// EventPublisher queues webhook events for background processing.
type EventPublisher interface {
	Publish(ctx context.Context, ev enrich.Event, traceID string) error
}

// WebhookHandler receives Periskope webhook deliveries.
type WebhookHandler struct {
	publisher EventPublisher
	secret    []byte
	logger    *slog.Logger
}

// NewWebhookHandler creates the webhook handler. An empty secret disables
// signature verification.
func NewWebhookHandler(log *slog.Logger, publisher EventPublisher, signingSecret string) *WebhookHandler {
	h := &WebhookHandler{
		publisher: publisher,
		logger:    log.With(slog.String("handler", "webhook")),
	}
	if s := strings.TrimSpace(signingSecret); s != "" {
		h.secret = []byte(s)
	}
	return h
}

// Register mounts POST /periskopewebhook.
func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/periskopewebhook", h.Receive)
}

type webhookPayload struct {
	Event     string         `json:"event"`
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
}

// Receive godoc
// @Summary Receive a webhook event
// @Description Verify, then queue message.created and message.ack.updated events. Other events are acknowledged and dropped.
// @Tags webhook
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /periskopewebhook [post]
func (h *WebhookHandler) Receive(c echo.Context) error {
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body failed")
	}
	if h.secret != nil && !h.verify(raw, c.Request().Header.Get(SignatureHeader)) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}

	var payload webhookPayload
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid JSON")
	}
	name := strings.TrimSpace(payload.Event)
	if name == "" {
		name = strings.TrimSpace(payload.EventType)
	}
	if !ingest.Supported(name) || len(payload.Data) == 0 {
		h.logger.Debug("webhook event ignored", slog.String("event", name))
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
	if h.publisher == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "event publisher not configured")
	}

	traceID := uuid.NewString()
	if err := h.publisher.Publish(c.Request().Context(), enrich.Event{Name: name, Data: payload.Data}, traceID); err != nil {
		h.logger.Error("queue webhook event failed",
			slog.String("event", name),
			slog.String("trace_id", traceID),
			slog.Any("error", err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event queue unavailable")
	}
	h.logger.Debug("webhook event queued", slog.String("event", name), slog.String("trace_id", traceID))
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *WebhookHandler) verify(body []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), got)
}

// Sign returns the signature header value for body. Useful for clients and tests.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
