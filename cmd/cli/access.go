package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/markwave/chatvault/internal/access"
	"github.com/markwave/chatvault/internal/auth"
	"github.com/markwave/chatvault/internal/config"
)

func withManager(cmd *cobra.Command, fn func(*access.Manager) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	pool, err := openPool(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(access.NewManager(log, access.NewPostgresGraph(pool), config.Duration(cfg.Access.QueryTimeout, 0)))
}

func principalCmd() *cobra.Command {
	var role, name string
	cmd := &cobra.Command{
		Use:   "principal <phone>",
		Short: "Create a principal or change its role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(m *access.Manager) error {
				p, err := m.EnsurePrincipal(cmd.Context(), access.Principal{ID: args[0], Role: role, Name: name})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s role=%s\n", p.ID, p.Role)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&role, "role", "r", access.RoleUser, "role (admin or user)")
	cmd.Flags().StringVarP(&name, "name", "n", "", "display name")
	return cmd
}

func grantCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grant <phone> <chat_id>...",
		Short: "Let a principal read one or more chats",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(m *access.Manager) error {
				n, err := m.Grant(cmd.Context(), args[0], args[1:]...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d new grant(s) for %s\n", n, args[0])
				return nil
			})
		},
	}
}

func revokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <phone> <chat_id>",
		Short: "Remove a chat grant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(m *access.Manager) error {
				removed, err := m.Revoke(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				if !removed {
					fmt.Fprintln(cmd.OutOrStdout(), "no such grant")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %s from %s\n", args[1], args[0])
				return nil
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <phone>",
		Short: "Issue a bearer token for a principal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = config.Duration(cfg.Auth.JWTExpiresIn, 24*time.Hour)
			}
			token, expiresAt, err := auth.GenerateToken(args[0], "", cfg.Auth.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to auth.jwt_expires_in)")
	return cmd
}
