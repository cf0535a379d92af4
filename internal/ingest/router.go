package ingest

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
)

// Handler names registered on the router.
const (
	HandlerPeriskopeEvents = "ON_PERISKOPE_EVENT"
	HandlerPoisonLog       = "ON_POISON_EVENT"
)

// RouterOptions tunes the consumer pipeline.
type RouterOptions struct {
	Topic   string
	Retry   RetryPolicy
	Timeout time.Duration
	// LogPoison consumes the poison topic and logs what lands there.
	// Only sensible for brokers that do not keep a dead-letter queue.
	LogPoison bool
}

// PoisonTopic is where events go once retries are exhausted.
func PoisonTopic(topic string) string {
	return topic + ".poison"
}

// NewRouter wires the event handler onto the bus with trace, logging, retry,
// poison-queue, timeout and panic-recovery middleware.
func NewRouter(log *slog.Logger, ps PubSub, h *Handler, opts RouterOptions) (*message.Router, error) {
	if opts.Topic == "" {
		return nil, fmt.Errorf("ingest topic is required")
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.InitialInterval == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	log = log.With(slog.String("service", "ingest_router"))

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, watermill.NewSlogLogger(log))
	if err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}

	poison, err := middleware.PoisonQueue(ps.Publisher, PoisonTopic(opts.Topic))
	if err != nil {
		return nil, fmt.Errorf("poison queue: %w", err)
	}

	router.AddConsumerHandler(HandlerPeriskopeEvents, opts.Topic, ps.Subscriber, h.Handle).AddMiddleware(
		TraceIDMiddleware(log),
		LoggingMiddleware(log),
		poison,
		opts.Retry.middleware(log),
		middleware.Timeout(opts.Timeout),
		middleware.Recoverer,
	)

	if opts.LogPoison {
		router.AddConsumerHandler(HandlerPoisonLog, PoisonTopic(opts.Topic), ps.Subscriber, func(msg *message.Message) error {
			log.Error("event exhausted retries",
				slog.String("msg_uuid", msg.UUID),
				slog.String("reason", msg.Metadata.Get(middleware.ReasonForPoisonedKey)),
				slog.String(metadataTraceID, msg.Metadata.Get(metadataTraceID)),
				slog.String("payload", string(msg.Payload)))
			return nil
		})
	}

	log.Info("ingest pipeline ready", slog.String("topic", opts.Topic), slog.String("broker", ps.Kind))
	return router, nil
}
