package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httptransport "github.com/spec-kit/support-portal/internal/api/http"
	"github.com/spec-kit/support-portal/internal/api/http/handlers"
	"github.com/spec-kit/support-portal/internal/audit"
	"github.com/spec-kit/support-portal/internal/auth"
	"github.com/spec-kit/support-portal/internal/config"
	"github.com/spec-kit/support-portal/internal/conversation"
	"github.com/spec-kit/support-portal/internal/events"
	"github.com/spec-kit/support-portal/internal/notification"
	"github.com/spec-kit/support-portal/internal/observability"
	"github.com/spec-kit/support-portal/internal/persistence"
	"github.com/spec-kit/support-portal/internal/realtime"
	"github.com/spec-kit/support-portal/internal/repository"
	"github.com/spec-kit/support-portal/internal/service"
	"github.com/spec-kit/support-portal/internal/settings"
	"github.com/spec-kit/support-portal/internal/sla"
	"github.com/spec-kit/support-portal/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("service stopped with error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return err
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.Pool, logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	basePolicy, err := cfg.SLA.Policy()
	if err != nil {
		return err
	}
	metrics := observability.NewMetrics()
	settingsSource := settings.NewRedisSource(redis.Client, basePolicy, logger)
	clock := sla.NewClock(settingsSource)
	bus := events.NewInMemoryDispatcher(logger)

	var sink audit.Sink
	var rabbit *audit.RabbitSink
	if cfg.Audit.RabbitURL != "" {
		rabbit, err = audit.DialRabbitSink(cfg.Audit.RabbitURL, cfg.Audit.Exchange, cfg.Audit.BufferSize, logger, metrics)
		if err != nil {
			return err
		}
		defer rabbit.Close() //nolint:errcheck
		sink = rabbit
	} else {
		sink = audit.NewLogSink(logger)
	}
	audit.Subscribe(bus, sink)

	templates, err := notification.NewTemplates(cfg.Notification.PortalURL)
	if err != nil {
		return err
	}
	notifier := notification.NewDispatcher(
		notification.SendersFromConfig(cfg.Notification),
		templates,
		notification.WithLogger(logger),
		notification.WithMetrics(metrics),
		notification.WithSink(sink),
	)

	ticketRepo := repository.NewTicketRepository(pg.Pool)
	messageRepo := repository.NewMessageRepository(pg.Pool)
	userRepo := repository.NewUserRepository(pg.Pool)

	transport := realtime.NewRedisTransport(redis.Client, logger)
	presence := conversation.NewPresence(cfg.Sync.TypingTTL, nil)
	hub := conversation.NewHub(ctx, messageRepo, transport, presence, conversation.Config{
		PollInterval: cfg.Sync.PollInterval,
		Lookback:     cfg.Sync.Lookback,
	}, logger, conversation.WithSessionMetrics(metrics))
	defer hub.Close()

	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo: ticketRepo,
		Clock:      clock,
		Dispatcher: bus,
		Metrics:    metrics,
		Logger:     logger,
	})
	conversationService := service.NewConversationService(service.ConversationDependencies{
		TicketRepo: ticketRepo,
		Store:      messageRepo,
		Publisher:  transport,
		Hub:        hub,
		Logger:     logger,
	})
	preferenceService := service.NewPreferenceService(userRepo)
	notificationService := service.NewNotificationService(userRepo, notifier, logger)

	notificationWorker := worker.NewNotificationWorker(notificationService, cfg.Notification.QueueSize, logger, metrics)
	notificationWorker.Register(bus)
	monitor := worker.NewSLAMonitor(ticketRepo, bus, cfg.SLA.BreachScanInterval, logger)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL())
	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
		IdleTimeout:           2 * time.Minute,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, metrics,
			handlers.Dependency{Name: "postgres", Check: pg},
			handlers.Dependency{Name: "redis", Check: redis, Optional: true},
		),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		Messages:       handlers.NewMessagesHandler(conversationService, 0, logger),
		Preferences:    handlers.NewPreferencesHandler(preferenceService),
		Settings:       handlers.NewSettingsHandler(settingsSource),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return notificationWorker.Run(gctx) })
	g.Go(func() error { return monitor.Run(gctx) })
	if rabbit != nil {
		g.Go(func() error { return rabbit.Run(gctx) })
	}
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.App.Addr()))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			return fmt.Errorf("fiber listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		hub.Close()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
