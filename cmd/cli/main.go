package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/markwave/chatvault/internal/config"
	"github.com/markwave/chatvault/internal/db"
	"github.com/markwave/chatvault/internal/logger"
	"github.com/markwave/chatvault/internal/names"
	"github.com/markwave/chatvault/internal/version"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "chatvault",
		Short:         "chatvault maintenance commands",
		Version:       version.GetInfo(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "path to config.toml")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(refreshCmd())
	rootCmd.AddCommand(setNameCmd())
	rootCmd.AddCommand(principalCmd())
	rootCmd.AddCommand(grantCmd())
	rootCmd.AddCommand(revokeCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return cfg, logger.L, nil
}

func openPool(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	pool, err := db.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	return pool, nil
}

// openNameStore honours storage.names_driver the same way the server does.
func openNameStore(ctx context.Context, cfg config.Config, pool *pgxpool.Pool) (names.Store, func(), error) {
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Storage.NamesDriver)); driver {
	case "", "postgres":
		return names.NewPostgresStore(pool), func() {}, nil
	case "sqlite":
		store, err := names.OpenSQLiteStore(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage.names_driver %q", driver)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chatvault %s\n", version.GetInfo())
			if version.BuildTime != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "built %s\n", version.BuildTime)
			}
		},
	}
}
