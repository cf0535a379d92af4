package modules

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"

	"github.com/markwave/chatvault/internal/config"
	"github.com/markwave/chatvault/internal/db"
	"github.com/markwave/chatvault/internal/logger"
	"github.com/markwave/chatvault/internal/names"
	"github.com/markwave/chatvault/internal/periskope"
)

var InfraModule = fx.Module(
	"infra",
	fx.Provide(
		provideConfig,
		provideLogger,
		provideDBConn,
		provideNameStore,
		provideDirectory,
	),
)

const connectTimeout = 15 * time.Second

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	conn, err := db.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			conn.Close()
			return nil
		},
	})
	return conn, nil
}

// provideNameStore picks the chat name backend. Postgres shares the main pool;
// sqlite keeps names in a local file.
func provideNameStore(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, conn *pgxpool.Pool) (names.Store, error) {
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Storage.NamesDriver)); driver {
	case "", "postgres":
		return names.NewPostgresStore(conn), nil
	case "sqlite":
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		store, err := names.OpenSQLiteStore(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite name store: %w", err)
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return store.Close()
			},
		})
		log.Info("chat names stored in sqlite", slog.String("path", cfg.Storage.SQLitePath))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage.names_driver %q", driver)
	}
}

func provideDirectory(log *slog.Logger, cfg config.Config) names.Directory {
	if !cfg.Periskope.Enabled() {
		log.Warn("periskope credentials missing; chat names resolve to their ids")
		return names.DisabledDirectory{}
	}
	return periskope.NewClient(log, cfg.Periskope)
}
