package controller

import (
	"context"
	"time"

	"github.com/cassiomorais/callbacks/internal/infrastructure/config"
	"github.com/cassiomorais/callbacks/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/callbacks/internal/middleware"
	"github.com/cassiomorais/callbacks/internal/notifier"
	"github.com/cassiomorais/callbacks/internal/service"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type RouterDeps struct {
	Pool             *pgxpool.Pool
	RedisClient      *redis.Client
	ReconcileService *service.ReconcileService
	Hub              *notifier.Hub
	Metrics          *observability.Metrics
	Logger           zerolog.Logger
	Server           config.ServerConfig
	Callback         config.CallbackConfig
	JWTSecret        string
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(customMW.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Server.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", SignatureHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: deps.Server.CORS.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.Metrics(deps.Metrics))

	healthH := NewHealthController(readinessChecks(deps)...)
	callbackH := NewCallbackController(deps.ReconcileService, deps.Callback.BulkMaxItems)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	r.Handle("/metrics", promhttp.Handler())

	// Long-lived websocket connections stay outside the request timeout.
	if deps.Hub != nil && deps.JWTSecret != "" {
		wsH := NewWSController(deps.ReconcileService, deps.Hub, deps.Server.CORS.AllowedOrigins)
		r.With(customMW.RequireAuth(deps.JWTSecret)).Get("/ws", wsH.Subscribe)
	}

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(requestTimeout(deps.Server.RequestTimeout)))

		r.Route("/callback", func(r chi.Router) {
			if deps.Callback.RateLimitPerMinute > 0 {
				r.Use(customMW.RateLimit(deps.Callback.RateLimitPerMinute, time.Minute))
			}
			r.Post("/", callbackH.Callback)
			r.Post("/bulk", callbackH.Bulk)
			r.Get("/status/{ref_id}", callbackH.Status)
			r.Get("/batch/{batch_id}", callbackH.Batch)
		})
	})

	return r
}

func readinessChecks(deps RouterDeps) []HealthCheck {
	var checks []HealthCheck
	if deps.Pool != nil {
		checks = append(checks, HealthCheck{Name: "database", Ping: deps.Pool.Ping})
	}
	if deps.RedisClient != nil {
		checks = append(checks, HealthCheck{Name: "redis", Ping: func(ctx context.Context) error {
			return deps.RedisClient.Ping(ctx).Err()
		}})
	}
	return checks
}

func requestTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 60 * time.Second
	}
	return d
}
