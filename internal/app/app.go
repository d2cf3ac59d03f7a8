// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/relaydesk/inbox/internal/config"
	"github.com/relaydesk/inbox/internal/domain"
	"github.com/relaydesk/inbox/internal/gateway"
	"github.com/relaydesk/inbox/internal/gateway/twilio"
	"github.com/relaydesk/inbox/internal/ledger"
	"github.com/relaydesk/inbox/internal/pkg/ctxlog"
	"github.com/relaydesk/inbox/internal/pkg/httputil"
	"github.com/relaydesk/inbox/internal/pkg/metrics"
	"github.com/relaydesk/inbox/internal/pkg/postgres"
	"github.com/relaydesk/inbox/internal/scheduled"
	scheduledpostgres "github.com/relaydesk/inbox/internal/scheduled/postgres"
	"github.com/relaydesk/inbox/internal/version"
)

const metricsInterval = 15 * time.Second

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	redis         *redis.Client
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
	sweeper       *scheduled.Sweeper
	worker        *scheduled.Worker
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	app := &App{
		config: cfg,
		logger: logger,
		db:     db,
	}

	var sentLedger scheduled.Ledger
	if cfg.Redis.Enabled {
		rdb, err := connectRedis(cfg.Redis)
		if err != nil {
			db.Close()
			return nil, err
		}
		app.redis = rdb
		sentLedger = ledger.NewRedisLedger(rdb, cfg.Redis.TTL)
	}

	dispatcher, err := newDispatcher(cfg.Twilio)
	if err != nil {
		app.closeStores()
		return nil, fmt.Errorf("setup gateway: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())
	app.metricsCancel = metricsCancel

	repo := scheduledpostgres.NewRepository(db)
	app.sweeper = scheduled.NewSweeper(repo, dispatcher, sentLedger, scheduled.SweeperConfig{
		ClaimTimeout: cfg.Scheduler.ClaimTimeout,
	})

	if cfg.Scheduler.Enabled {
		app.worker = scheduled.NewWorker(app.sweeper, cfg.Scheduler.Interval)
		app.worker.Start(metricsCtx)
	} else {
		slog.Info("in-process scheduler disabled, sweeps run only through the cron endpoint")
	}

	metrics.RecordBuildInfo(version.Version, version.GitCommit)
	go metrics.CollectDBPoolMetrics(metricsCtx, db, metricsInterval)
	go app.collectQueueMetrics(metricsCtx, repo)

	router := app.setupRouter(scheduled.NewService(repo))

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

func connectRedis(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Address, err)
	}

	slog.Info("connected to redis", "address", cfg.Address, "ttl", cfg.TTL)
	return rdb, nil
}

func newDispatcher(cfg config.TwilioConfig) (*gateway.Dispatcher, error) {
	if !cfg.Enabled {
		slog.Warn("twilio is disabled: due scheduled messages will be marked as failed")
		return gateway.NewDispatcher(), nil
	}

	var senders []gateway.Sender

	numbers := []struct {
		channel domain.Channel
		from    string
	}{
		{domain.ChannelSMS, cfg.PhoneNumber},
		{domain.ChannelWhatsApp, cfg.WhatsAppNumber},
	}
	for _, n := range numbers {
		if n.from == "" {
			slog.Warn("no sender number configured, channel disabled", "channel", n.channel)
			continue
		}
		sender, err := twilio.NewSender(twilio.Config{
			AccountSID: cfg.AccountSID,
			AuthToken:  cfg.AuthToken,
			BaseURL:    cfg.BaseURL,
			From:       n.from,
			Channel:    n.channel,
			RateLimit:  cfg.RateLimit,
			Timeout:    cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create %s sender: %w", n.channel, err)
		}
		senders = append(senders, sender)
	}

	return gateway.NewDispatcher(senders...), nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	// Let the running sweep finish before the stores go away.
	if a.worker != nil {
		a.worker.Stop()
	}
	a.metricsCancel()

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	for name, srv := range map[string]*http.Server{"server": a.server, "metrics server": a.metricsServer} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Shutdown(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("shutdown %s: %w", name, err))
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	a.closeStores()

	return errors.Join(errs...)
}

func (a *App) closeStores() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis client", "error", err)
		}
	}
	a.db.Close()
}

func (a *App) collectQueueMetrics(ctx context.Context, repo scheduled.Repository) {
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats, err := repo.GetQueueStats(ctx)
			if err != nil {
				slog.Error("failed to get queue stats", "error", err)
				continue
			}
			scheduled.RecordQueueStats(stats)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Sweeper returns the scheduled message sweeper. Used in tests to run sweeps directly.
func (a *App) Sweeper() *scheduled.Sweeper {
	return a.sweeper
}

func (a *App) setupRouter(service *scheduled.Service) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	handler := scheduled.NewHandler(service, a.sweeper)

	// A sweep runs every due item to completion, so it gets no request timeout and the
	// handler lifts the server write deadline.
	handler.RegisterCronRoutes(r, a.config.Cron.Secret)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		handler.RegisterRoutes(r)
	})

	return r
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
			httputil.Text(w, http.StatusServiceUnavailable, "Redis unavailable")
			return
		}
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Get())
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
