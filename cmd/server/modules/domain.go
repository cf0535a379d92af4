package modules

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"

	"github.com/markwave/chatvault/internal/access"
	"github.com/markwave/chatvault/internal/config"
	"github.com/markwave/chatvault/internal/enrich"
	"github.com/markwave/chatvault/internal/message"
	"github.com/markwave/chatvault/internal/message/event"
	"github.com/markwave/chatvault/internal/names"
	"github.com/markwave/chatvault/internal/schedule"
)

var DomainModule = fx.Module(
	"domain",
	fx.Provide(
		event.NewHub,
		provideNameCache,
		provideRefresher,
		provideMessageStore,
		provideAccessGraph,
		provideGate,
		provideManager,
		provideEnricher,
		provideScheduler,
	),
	fx.Invoke(startScheduler),
)

func provideNameCache(log *slog.Logger, cfg config.Config, store names.Store, dir names.Directory) (*names.Cache, error) {
	return names.NewCache(log, store, dir, names.CacheOptions{
		HotSize: cfg.Cache.HotSize,
		Timeout: config.Duration(cfg.Cache.ResolveTimeout, 0),
	})
}

func provideRefresher(log *slog.Logger, cfg config.Config, store names.Store, dir names.Directory) *names.Refresher {
	return names.NewRefresher(log, store, dir, refresherOptions(cfg.Cache))
}

// refresherOptions bounds each store call like a cache resolve. The upstream
// listing has its own timeout in the directory client.
func refresherOptions(cfg config.CacheConfig) names.RefresherOptions {
	return names.RefresherOptions{
		StoreTimeout: config.Duration(cfg.ResolveTimeout, 0),
		RunTimeout:   config.Duration(cfg.RefreshTimeout, 0),
	}
}

func provideMessageStore(log *slog.Logger, cfg config.Config, conn *pgxpool.Pool, hub *event.Hub) *message.PostgresStore {
	return message.NewPostgresStore(log, conn, message.StoreOptions{
		Timeout:      config.Duration(cfg.Message.Timeout, 0),
		DefaultLimit: cfg.Message.DefaultLimit,
		MaxLimit:     cfg.Message.MaxLimit,
	}, hub)
}

func provideAccessGraph(conn *pgxpool.Pool) access.Graph {
	return access.NewPostgresGraph(conn)
}

func provideGate(log *slog.Logger, cfg config.Config, graph access.Graph, messages *message.PostgresStore, store names.Store) *access.Gate {
	return access.NewGate(log, graph, messages, store, config.Duration(cfg.Access.QueryTimeout, 0))
}

func provideManager(log *slog.Logger, cfg config.Config, graph access.Graph) *access.Manager {
	return access.NewManager(log, graph, config.Duration(cfg.Access.QueryTimeout, 0))
}

func provideEnricher(log *slog.Logger, cache *names.Cache) enrich.Enricher {
	return enrich.NewLoggingMiddleware(enrich.NewService(log, cache), log)
}

func provideScheduler(log *slog.Logger, cfg config.Config, refresher *names.Refresher) *schedule.Service {
	return schedule.NewService(log, refresher, cfg.Cache)
}

// startScheduler registers the periodic refresh and the startup refresh. The
// startup run is cancelled and joined on stop.
func startScheduler(lc fx.Lifecycle, svc *schedule.Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return svc.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return svc.Stop(ctx)
		},
	})
}
