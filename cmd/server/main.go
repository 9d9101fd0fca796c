// Command server runs the chat backend: the REST API, the live socket
// endpoint and the presence hub.
//
// @title        duochat API
// @version      1.0
// @description  Two-party chat backend with live presence and message push.
// @BasePath     /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sirpyerre/duochat/internal/api"
	"github.com/sirpyerre/duochat/internal/api/handler"
	"github.com/sirpyerre/duochat/internal/api/metrics"
	"github.com/sirpyerre/duochat/internal/core/ports"
	"github.com/sirpyerre/duochat/internal/core/service"
	"github.com/sirpyerre/duochat/internal/infrastructure/config"
	mongostore "github.com/sirpyerre/duochat/internal/infrastructure/db/mongo"
	redisstore "github.com/sirpyerre/duochat/internal/infrastructure/db/redis"
	"github.com/sirpyerre/duochat/internal/infrastructure/db/sqlstore"
	"github.com/sirpyerre/duochat/internal/infrastructure/queue"
	"github.com/sirpyerre/duochat/internal/infrastructure/realtime"
	"github.com/sirpyerre/duochat/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

// storage bundles the repositories of the selected driver with its
// readiness check and shutdown hook.
type storage struct {
	users    ports.UserRepository
	messages ports.MessageRepository
	ping     handler.Pinger
	close    func(context.Context) error
}

func run(ctx context.Context) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	log := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  cfg.IsDevelopment(),
		Service: "duochat",
	})

	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := store.close(closeCtx); err != nil {
			log.Warn().Err(err).Msg("storage close")
		}
	}()

	health := map[string]handler.Pinger{"store": store.ping}

	// The hub and its presence mirror live until shutdown.
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()

	var hubOpts []realtime.Option
	if cfg.Redis.Addr != "" {
		client, err := redisstore.Connect(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer client.Close()

		presence := redisstore.NewPresenceStore(client, redisstore.DefaultPresenceKey)
		if err := presence.Reset(ctx); err != nil {
			return fmt.Errorf("reset presence mirror: %w", err)
		}

		dispatcher := queue.NewDispatcher(0, presence, logger.Component("presence-mirror"))
		dispatcher.Start(hubCtx)
		hubOpts = append(hubOpts, realtime.WithMirror(dispatcher))

		health["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		log.Info().Str("addr", cfg.Redis.Addr).Msg("presence mirror enabled")
	}

	hub := realtime.NewHub(realtime.NewRegistry(), logger.Component("hub"), hubOpts...)
	go hub.Run(hubCtx)

	tokens := service.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	authService := service.NewAuthService(store.users, tokens, logger.Component("auth"))
	verifier := service.NewSessionVerifier(tokens, store.users)
	messageService := service.NewMessageService(store.users, store.messages, hub, logger.Component("messages"),
		service.WithSentCounter(metrics.MessagesSentTotal))

	e := api.NewRouter(api.RouterConfig{
		Log:                log,
		Auth:               authService,
		Messages:           messageService,
		Verifier:           verifier,
		Live:               realtime.NewUpgrader(hub, cfg.HTTP.CORSOrigins),
		Health:             health,
		CORSOrigins:        cfg.HTTP.CORSOrigins,
		CookieSecure:       cfg.Auth.CookieSecure,
		TokenTTL:           cfg.Auth.TokenTTL,
		AuthRateLimit:      cfg.Auth.RateLimit,
		AllowAnonymousLive: cfg.Live.AllowAnonymous,
	})

	srvErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("port", cfg.Port).
			Str("store", cfg.Store.Driver).
			Msg("server listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	select {
	case err, ok := <-srvErr:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	stopHub()
	return nil
}

func openStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*storage, error) {
	switch cfg.Store.Driver {
	case config.StoreMongo:
		client, db, err := mongostore.Connect(ctx, mongostore.Config{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database})
		if err != nil {
			return nil, err
		}
		users := mongostore.NewUserRepository(db)
		messages := mongostore.NewMessageRepository(db)

		indexCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := users.EnsureIndexes(indexCtx); err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
		if err := messages.EnsureIndexes(indexCtx); err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}

		log.Info().Str("database", cfg.Mongo.Database).Msg("connected to mongodb")
		return &storage{
			users:    users,
			messages: messages,
			ping: handler.PingFunc(func(ctx context.Context) error {
				return client.Ping(ctx, nil)
			}),
			close: client.Disconnect,
		}, nil

	default:
		store, err := sqlstore.Open(ctx, cfg.Store.Driver, cfg.Store.DSN,
			sqlstore.WithLogger(logger.Component("migrations")))
		if err != nil {
			return nil, err
		}
		log.Info().Str("driver", cfg.Store.Driver).Msg("sql store ready")
		return &storage{
			users:    store.Users(),
			messages: store.Messages(),
			ping:     store,
			close:    func(context.Context) error { return store.Close() },
		}, nil
	}
}
