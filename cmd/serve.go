package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/spf13/cobra"

	"github.com/hstar0124/cpp-boost-chat/internal/command"
	"github.com/hstar0124/cpp-boost-chat/internal/config"
	"github.com/hstar0124/cpp-boost-chat/internal/handler"
	"github.com/hstar0124/cpp-boost-chat/internal/migrations"
	"github.com/hstar0124/cpp-boost-chat/internal/query"
	"github.com/hstar0124/cpp-boost-chat/internal/repository"
	"github.com/hstar0124/cpp-boost-chat/internal/session"
	"github.com/hstar0124/cpp-boost-chat/shared/events"
	"github.com/hstar0124/cpp-boost-chat/shared/logging"
	"github.com/hstar0124/cpp-boost-chat/shared/middleware"
	sharedredis "github.com/hstar0124/cpp-boost-chat/shared/redis"
	"github.com/hstar0124/cpp-boost-chat/shared/utils"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Args:  cobra.NoArgs,
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logging.New(cfg.Logger.Level, cfg.Logger.Format)

	// Database connection (write store)
	db, err := openDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Error("database unavailable")
		return err
	}
	defer db.Close()

	if cfg.AutoMigrate {
		if err := migrations.Up(ctx, db); err != nil {
			log.WithError(err).Error("migrations failed")
			return err
		}
	}

	// Redis connection (sessions, read model, event streaming)
	redis, err := sharedredis.NewClient(ctx, sharedredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.WithError(err).Error("redis unavailable")
		return err
	}
	defer redis.Close()

	// --- CQRS wiring ---
	hasher := utils.NewPasswordHasher(cfg.BcryptCost)
	publisher := events.NewPublisher(redis.Client)

	writeRepo := repository.NewAccountWriteRepository(db, log)
	readRepo := repository.NewAccountReadRepository(db, redis.Client, hasher, repository.ReadConfig{ViewTTL: cfg.ViewCacheTTL}, log)

	backend := session.NewRedisBackend(redis.Client, session.BreakerConfig{})
	sessions := session.NewStore(backend, cfg.SessionTTL, log)

	commandSvc := command.NewAccountCommandService(writeRepo, readRepo, hasher, sessions, publisher,
		command.ChatServer{IP: cfg.ChatServerIP, Port: cfg.ChatServerPort}, log)
	querySvc := query.NewAccountQueryService(readRepo)

	accountHandler := handler.NewAccountHandler(commandSvc, querySvc)

	// Setup router
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.LoggingMiddleware(log))
	accountHandler.RegisterRoutes(router, middleware.SessionAuth(sessions))

	router.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		dbState := "ok"
		if err := db.PingContext(c.Request.Context()); err != nil {
			status, dbState = http.StatusServiceUnavailable, "down"
		}
		sessionState := backend.State().String()
		if backend.State() == gobreaker.StateOpen {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": http.StatusText(status), "database": dbState, "sessionStore": sessionState})
	})

	// account.deleted events revoke sessions
	subscriber := events.NewSubscriber(redis.Client, events.SubscriberConfig{
		Group:    "account-service-group",
		Consumer: consumerName(),
		Stream:   events.AccountEventsStream,
		Handler:  commandSvc.HandleAccountEvent,
		Logger:   log,
	})
	go func() {
		if err := subscriber.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("subscriber stopped")
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Port).Info("account service starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server failed")
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// consumerName is stable across restarts of the same host so the consumer's
// pending backlog is picked up again.
func consumerName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return "account-consumer-" + host
	}
	return "account-consumer-" + uuid.NewString()[:8]
}
