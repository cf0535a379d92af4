package modules

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/fx"

	"github.com/markwave/chatvault/internal/access"
	"github.com/markwave/chatvault/internal/config"
	"github.com/markwave/chatvault/internal/handlers"
	"github.com/markwave/chatvault/internal/ingest"
	"github.com/markwave/chatvault/internal/message/event"
	"github.com/markwave/chatvault/internal/names"
	"github.com/markwave/chatvault/internal/schedule"
	"github.com/markwave/chatvault/internal/server"
	"github.com/markwave/chatvault/internal/version"
)

var ServerModule = fx.Module(
	"server",
	fx.Provide(
		provideServerHandler(handlers.NewPingHandler),
		provideServerHandler(provideWebhookHandler),
		provideServerHandler(provideMessageHandler),
		provideServerHandler(provideChatHandler),
		provideServerHandler(provideAdminHandler),
		provideServer,
	),
	fx.Invoke(startServer),
)

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideWebhookHandler(log *slog.Logger, cfg config.Config, publisher *ingest.Publisher) *handlers.WebhookHandler {
	if cfg.Webhook.SigningSecret == "" {
		log.Warn("webhook signing secret not set; signatures are not verified")
	}
	return handlers.NewWebhookHandler(log, publisher, cfg.Webhook.SigningSecret)
}

func provideMessageHandler(log *slog.Logger, gate *access.Gate, hub *event.Hub) *handlers.MessageHandler {
	return handlers.NewMessageHandler(log, gate, hub)
}

func provideChatHandler(log *slog.Logger, gate *access.Gate, cache *names.Cache) *handlers.ChatHandler {
	return handlers.NewChatHandler(log, gate, cache)
}

func provideAdminHandler(log *slog.Logger, gate *access.Gate, scheduler *schedule.Service, cache *names.Cache, manager *access.Manager) *handlers.AdminHandler {
	return handlers.NewAdminHandler(log, gate, scheduler, cache, manager)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) (*server.Server, error) {
	if params.Config.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwt_secret (or JWT_SECRET) is required")
	}
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Config.Auth.JWTSecret, params.ServerHandlers...), nil
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	logger.Info("starting chatvault", slog.String("version", version.GetInfo()))

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
