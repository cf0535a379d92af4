package enrich

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/markwave/chatvault/internal/message"
	"github.com/markwave/chatvault/internal/names"
)

// LoggingMiddleware decorates an Enricher with timing and outcome logs.
type LoggingMiddleware struct {
	Next   Enricher
	Logger *slog.Logger
}

// NewLoggingMiddleware wraps next.
func NewLoggingMiddleware(next Enricher, log *slog.Logger) Enricher {
	if log == nil {
		log = slog.Default()
	}
	return &LoggingMiddleware{Next: next, Logger: log.With(slog.String("service", "enrich"))}
}

func (m *LoggingMiddleware) Enrich(ctx context.Context, ev Event) (message.Message, error) {
	start := time.Now()
	msg, err := m.Next.Enrich(ctx, ev)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		m.Logger.Debug("message enriched",
			slog.String("message_id", msg.ID),
			slog.String("chat_id", msg.ChatID),
			slog.String("chat_name", msg.ChatName),
			slog.Int64("duration_ms", elapsed.Milliseconds()))
	case errors.Is(err, names.ErrUpstreamUnavailable):
		m.Logger.Warn("enrichment deferred, directory unavailable",
			slog.String("event", ev.Name),
			slog.Any("error", err),
			slog.Int64("duration_ms", elapsed.Milliseconds()))
	default:
		m.Logger.Error("enrichment failed",
			slog.String("event", ev.Name),
			slog.Any("error", err),
			slog.Int64("duration_ms", elapsed.Milliseconds()))
	}
	return msg, err
}
