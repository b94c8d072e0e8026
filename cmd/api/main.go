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

	"github.com/cassiomorais/callbacks/internal/bootstrap"
	"github.com/cassiomorais/callbacks/internal/controller"
	infraRedis "github.com/cassiomorais/callbacks/internal/infrastructure/redis"
	"github.com/cassiomorais/callbacks/internal/notifier"
	"github.com/cassiomorais/callbacks/internal/repository/postgres"
	"github.com/cassiomorais/callbacks/internal/service"
	"github.com/cassiomorais/callbacks/pkg/keyqueue"
	"golang.org/x/sync/errgroup"
)

const relayRestartDelay = time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "callbacks-api", "callbacks")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	cfg := app.Config

	// --- Repositories ---
	txManager := postgres.NewTxManager(app.Pool)
	transactionRepo := postgres.NewTransactionRepository(app.Pool, txManager)
	auditRepo := postgres.NewAuditRepository(app.Pool)

	// --- Notification fan-out ---
	hub := notifier.NewHub(64, cfg.Notifier.PingInterval, app.Metrics, app.Logger)
	redisChannel := notifier.NewRedisChannel(infraRedis.NewPubSub(app.Redis), notifier.RedisChannelConfig{
		Channel:          cfg.Notifier.RedisChannel,
		Origin:           cfg.InstanceID,
		BreakerThreshold: cfg.Notifier.BreakerThreshold,
		BreakerTimeout:   cfg.Notifier.BreakerTimeout,
	}, app.Metrics, app.Logger)
	events := notifier.New(notifier.Multi{hub, redisChannel}, cfg.Notifier.BufferSize, app.Metrics, app.Logger)

	// --- Reconciliation ---
	opts := service.Options{
		SharedSecret:    cfg.Callback.SharedSecret,
		BulkConcurrency: cfg.Callback.BulkConcurrency,
		Audit:           auditRepo,
		Metrics:         app.Metrics,
		Logger:          app.Logger,
	}
	if cfg.Callback.DistributedLock {
		opts.Locker = infraRedis.NewLocker(app.Redis, cfg.Callback.LockTTL)
		app.Logger.Info().Dur("ttl", cfg.Callback.LockTTL).Msg("Distributed callback lock enabled")
	}
	resolver := service.NewResolver(transactionRepo, cfg.Callback.ResolveAttempts, cfg.Callback.ResolveDelay, app.Metrics, app.Logger)
	reconcileService := service.NewReconcileService(transactionRepo, resolver, keyqueue.New(), events, opts)

	// --- Build router ---
	router := controller.NewRouter(controller.RouterDeps{
		Pool:             app.Pool,
		RedisClient:      app.Redis,
		ReconcileService: reconcileService,
		Hub:              hub,
		Metrics:          app.Metrics,
		Logger:           app.Logger,
		Server:           cfg.Server,
		Callback:         cfg.Callback,
		JWTSecret:        cfg.Auth.JWTSecret,
	})
	if cfg.Auth.JWTSecret == "" {
		app.Logger.Warn().Msg("auth.jwt_secret not set, /ws is disabled")
	}

	// --- HTTP server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return events.Run(gctx)
	})

	g.Go(func() error {
		for gctx.Err() == nil {
			if err := redisChannel.Relay(gctx, hub); err != nil {
				app.Logger.Warn().Err(err).Msg("Notification relay stopped, restarting")
			}
			select {
			case <-gctx.Done():
			case <-time.After(relayRestartDelay):
			}
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		app.Logger.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		hub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.Logger.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		app.Logger.Error().Err(err).Msg("Server exited with error")
		return
	}
	app.Logger.Info().Msg("Server exited")
}
