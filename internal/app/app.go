package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/semilia/storefront/internal/auth"
	"github.com/semilia/storefront/internal/config"
	"github.com/semilia/storefront/internal/gateway"
	"github.com/semilia/storefront/internal/gueststore"
	redisstore "github.com/semilia/storefront/internal/gueststore/redis"
	sqlitestore "github.com/semilia/storefront/internal/gueststore/sqlite"
	handler "github.com/semilia/storefront/internal/handler/http"
	"github.com/semilia/storefront/internal/notify"
	"github.com/semilia/storefront/internal/storefront"
	"github.com/semilia/storefront/pkg/database"
	"github.com/semilia/storefront/pkg/health"
	"github.com/semilia/storefront/pkg/httpclient"
	pkgkafka "github.com/semilia/storefront/pkg/kafka"
	"github.com/semilia/storefront/pkg/middleware"
	"github.com/semilia/storefront/pkg/tracing"
)

const serviceName = "storefront"

// App wires together all dependencies and runs the storefront server.
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	rdb        *goredis.Client
	db         *sql.DB
	producer   *pkgkafka.Producer
	registry   *storefront.Registry
	httpServer *http.Server

	stopTracing func(context.Context) error
	cancel      context.CancelFunc
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}

	// Tracing first, so storage connections get spans.
	tcfg := tracing.DefaultConfig(serviceName)
	tcfg.Environment = cfg.Environment
	tcfg.OTLPEndpoint = cfg.OTELEndpoint
	tcfg.SampleRate = cfg.OTELSampleRate
	tcfg.Enabled = cfg.OTELEnabled
	stopTracing, err := tracing.InitTracer(ctx, tcfg)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.stopTracing = stopTracing
	database.SetSlowQueryLogging(100*time.Millisecond, logger)

	healthHandler := health.NewHandler()

	backend, err := a.openGuestBackend(ctx, healthHandler)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	// Notifications go to the log, to the session inbox and, when enabled,
	// to Kafka.
	notifiers := notify.Multi{notify.NewLog(logger)}
	if cfg.NotifyKafkaEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		notifiers = append(notifiers, notify.NewKafka(a.producer, logger))
		healthHandler.RegisterNonCritical("kafka", a.producer.Ping)
		logger.Info("kafka notifications enabled", slog.Any("brokers", cfg.KafkaBrokers))
	}

	// Remote cart API behind retries and a circuit breaker.
	hcfg := httpclient.DefaultConfig()
	hcfg.Timeout = cfg.CartAPITimeout
	hcfg.MaxRetries = cfg.CartAPIMaxRetries
	hcfg.RetryWaitMin = 100 * time.Millisecond
	hcfg.RetryWaitMax = time.Second
	cb := httpclient.NewCircuitBreakerClient(
		httpclient.New(hcfg),
		httpclient.DefaultCircuitBreakerConfig("cart-api"),
		logger,
	)
	cartAPI := gateway.New(cfg.CartAPIURL, cb, logger)
	healthHandler.RegisterNonCritical("cart-api", cartAPI.Ping)
	logger.Info("readiness checks registered", slog.Any("checks", healthHandler.Names()))

	a.registry = storefront.NewRegistry(
		backend,
		cartAPI,
		auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer),
		storefront.Options{IdleTTL: cfg.SessionIdleTTL(), Notifier: notifiers},
		logger,
	)

	runCtx, stop := context.WithCancel(context.Background())
	a.cancel = stop

	router := handler.NewRouter(runCtx, a.registry, healthHandler, logger, handler.RouterOptions{
		CORS:           middleware.CORSConfig{AllowedOrigins: cfg.AllowedOrigins, AllowCredentials: true},
		PprofCIDRs:     cfg.PprofCIDRs,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return a, nil
}

// openGuestBackend connects the configured guest store and registers its
// health check.
func (a *App) openGuestBackend(ctx context.Context, h *health.Handler) (gueststore.Backend, error) {
	switch a.cfg.GuestStoreBackend {
	case config.BackendRedis:
		rcfg := database.DefaultRedisConfig()
		rcfg.Addr = a.cfg.RedisAddr
		rcfg.Password = a.cfg.RedisPass
		rcfg.DB = a.cfg.RedisDB
		rdb, err := database.NewRedisClient(ctx, rcfg, a.logger)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.rdb = rdb
		a.logger.Info("connected to Redis",
			slog.String("addr", a.cfg.RedisAddr),
			slog.Int("db", a.cfg.RedisDB),
		)
		backend := redisstore.NewBackend(rdb, serviceName+":", a.cfg.GuestCartTTL())
		h.RegisterCritical("redis", backend.Ping)
		return backend, nil

	case config.BackendSQLite:
		db, err := database.OpenSQLite(ctx, a.cfg.GuestStorePath, a.logger)
		if err != nil {
			return nil, fmt.Errorf("open guest store: %w", err)
		}
		a.db = db
		if err := database.RegisterDBStats(db, "guest_store"); err != nil {
			a.logger.Warn("register sqlite stats", slog.String("error", err.Error()))
		}
		backend, err := sqlitestore.NewBackend(ctx, db)
		if err != nil {
			return nil, fmt.Errorf("prepare guest store: %w", err)
		}
		a.logger.Info("guest store opened", slog.String("path", a.cfg.GuestStorePath))
		h.RegisterCritical("sqlite", backend.Ping)
		return backend, nil

	default:
		a.logger.Warn("guest carts are kept in memory and lost on restart")
		return gueststore.NewMemory(), nil
	}
}

// Handler returns the HTTP handler of the server.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go a.registry.Run(ctx)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	// Graceful HTTP server shutdown with a 10-second deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.closeResources()

	if err := a.stopTracing(shutdownCtx); err != nil {
		a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
	}

	a.logger.Info("application shutdown complete")
	return nil
}

func (a *App) closeResources() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		}
		a.producer = nil
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
		}
		a.rdb = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("sqlite close error", slog.String("error", err.Error()))
		}
		a.db = nil
	}
}
