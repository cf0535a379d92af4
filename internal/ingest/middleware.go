package ingest

import (
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/google/uuid"

	"github.com/markwave/chatvault/internal/logger"
)

// TraceIDMiddleware makes sure every message carries a trace id and attaches a
// logger with it to the message context.
func TraceIDMiddleware(base *slog.Logger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			traceID := msg.Metadata.Get(metadataTraceID)
			if traceID == "" {
				traceID = uuid.NewString()
				msg.Metadata.Set(metadataTraceID, traceID)
			}
			ctx := logger.WithContext(msg.Context(), base.With(slog.String(metadataTraceID, traceID)))
			msg.SetContext(ctx)
			return h(msg)
		}
	}
}

// LoggingMiddleware logs the latency and outcome of every handled message.
func LoggingMiddleware(log *slog.Logger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			start := time.Now()
			msgs, err := h(msg)
			attrs := []any{
				slog.String("msg_uuid", msg.UUID),
				slog.String(metadataTraceID, msg.Metadata.Get(metadataTraceID)),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			}
			if err != nil {
				log.Warn("event handling failed", append(attrs, slog.Any("error", err))...)
			} else {
				log.Debug("event handled", attrs...)
			}
			return msgs, err
		}
	}
}

// RetryPolicy bounds redelivery of failed events before they go to the poison topic.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries three times with exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialInterval: 2 * time.Second, MaxInterval: 15 * time.Second}
}

func (p RetryPolicy) middleware(log *slog.Logger) message.HandlerMiddleware {
	return middleware.Retry{
		MaxRetries:      p.MaxRetries,
		InitialInterval: p.InitialInterval,
		MaxInterval:     p.MaxInterval,
		Multiplier:      2.0,
		OnRetryHook: func(retryNum int, delay time.Duration) {
			log.Debug("retrying event", slog.Int("attempt", retryNum), slog.Duration("delay", delay))
		},
	}.Middleware
}
