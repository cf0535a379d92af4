package modules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"

	"github.com/markwave/chatvault/internal/config"
	"github.com/markwave/chatvault/internal/enrich"
	"github.com/markwave/chatvault/internal/ingest"
	msgstore "github.com/markwave/chatvault/internal/message"
)

var IngestModule = fx.Module(
	"ingest",
	fx.Provide(
		providePubSub,
		provideIngestPublisher,
		provideIngestHandler,
		provideIngestRouter,
	),
	fx.Invoke(startIngestRouter),
)

func providePubSub(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (ingest.PubSub, error) {
	ps, err := ingest.NewPubSub(log, cfg.Ingest)
	if err != nil {
		return ingest.PubSub{}, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return ps.Close()
		},
	})
	return ps, nil
}

func provideIngestPublisher(ps ingest.PubSub, cfg config.Config) *ingest.Publisher {
	return ingest.NewPublisher(ps.Publisher, cfg.Ingest.Topic)
}

func provideIngestHandler(log *slog.Logger, enricher enrich.Enricher, store *msgstore.PostgresStore) *ingest.Handler {
	return ingest.NewHandler(log, enricher, store)
}

func provideIngestRouter(log *slog.Logger, cfg config.Config, ps ingest.PubSub, h *ingest.Handler) (*message.Router, error) {
	retry := ingest.DefaultRetryPolicy()
	if cfg.Ingest.MaxRetries > 0 {
		retry.MaxRetries = cfg.Ingest.MaxRetries
	}
	return ingest.NewRouter(log, ps, h, ingest.RouterOptions{
		Topic:     cfg.Ingest.Topic,
		Retry:     retry,
		Timeout:   config.Duration(cfg.Ingest.HandlerTimeout, 30*time.Second),
		LogPoison: ps.Kind == ingest.BrokerMemory,
	})
}

func startIngestRouter(lc fx.Lifecycle, log *slog.Logger, router *message.Router, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := router.Run(context.Background()); err != nil {
					log.Error("ingest router stopped", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			select {
			case <-router.Running():
				return nil
			case <-ctx.Done():
				return fmt.Errorf("ingest router start: %w", ctx.Err())
			}
		},
		OnStop: func(context.Context) error {
			if err := router.Close(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("ingest router stop: %w", err)
			}
			return nil
		},
	})
}
