package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/markwave/chatvault/internal/config"
	"github.com/markwave/chatvault/internal/names"
	"github.com/markwave/chatvault/internal/periskope"
)

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Fetch every upstream chat and cache names not yet stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Periskope.Enabled() {
				return fmt.Errorf("periskope api key and org phone are required")
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			store, closeStore, err := openNameStore(ctx, cfg, pool)
			if err != nil {
				return err
			}
			defer closeStore()

			client := periskope.NewClient(log, cfg.Periskope)
			refresher := names.NewRefresher(log, store, client, names.RefresherOptions{
				StoreTimeout: config.Duration(cfg.Cache.ResolveTimeout, 0),
				RunTimeout:   config.Duration(cfg.Cache.RefreshTimeout, 0),
			})
			result, err := refresher.RefreshAll(ctx)
			out, _ := json.MarshalIndent(result, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
}

func setNameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-name <chat_id> <name>",
		Short: "Override the cached name of a chat",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			store, closeStore, err := openNameStore(ctx, cfg, pool)
			if err != nil {
				return err
			}
			defer closeStore()

			cache, err := names.NewCache(log, store, names.DisabledDirectory{}, names.CacheOptions{HotSize: -1})
			if err != nil {
				return err
			}
			rec, err := cache.Set(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", rec.ChatID, rec.Name)
			return nil
		},
	}
}
