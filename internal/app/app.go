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

	"github.com/bissquit/incident-tracker/internal/config"
	"github.com/bissquit/incident-tracker/internal/incidents"
	"github.com/bissquit/incident-tracker/internal/incidents/natskv"
	incidentspostgres "github.com/bissquit/incident-tracker/internal/incidents/postgres"
	"github.com/bissquit/incident-tracker/internal/notifications"
	natspublisher "github.com/bissquit/incident-tracker/internal/notifications/nats"
	slackpublisher "github.com/bissquit/incident-tracker/internal/notifications/slack"
	"github.com/bissquit/incident-tracker/internal/notifications/webhook"
	"github.com/bissquit/incident-tracker/internal/pkg/ctxlog"
	"github.com/bissquit/incident-tracker/internal/pkg/httputil"
	"github.com/bissquit/incident-tracker/internal/pkg/metrics"
	"github.com/bissquit/incident-tracker/internal/pkg/natsconn"
	"github.com/bissquit/incident-tracker/internal/pkg/postgres"
	"github.com/bissquit/incident-tracker/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	nc            *nats.Conn
	service       *incidents.Service
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
}

// New creates a new application instance. The record store and the
// notification publisher are built once here and shared by every request.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	metricsCtx, metricsCancel := context.WithCancel(context.Background())
	app := &App{
		config:        cfg,
		logger:        logger,
		metricsCancel: metricsCancel,
	}

	setupTimeout := cfg.Database.ConnectTimeout
	if setupTimeout <= 0 {
		setupTimeout = 30 * time.Second
	}
	setupCtx, setupCancel := context.WithTimeout(context.Background(), setupTimeout)
	defer setupCancel()

	if cfg.UsesNATS() {
		nc, err := natsconn.Connect(natsconn.Config{
			URL:            cfg.NATS.URL,
			Name:           cfg.NATS.Name,
			ConnectTimeout: cfg.NATS.ConnectTimeout,
		})
		if err != nil {
			app.closeConnections()
			return nil, err
		}
		app.nc = nc
	}

	repo, err := app.buildRepository(setupCtx)
	if err != nil {
		app.closeConnections()
		return nil, fmt.Errorf("setup store: %w", err)
	}
	if app.db != nil {
		go collectDBMetrics(metricsCtx, app.db)
	}

	publisher, err := app.buildPublisher(setupCtx)
	if err != nil {
		app.closeConnections()
		return nil, fmt.Errorf("setup notifications: %w", err)
	}

	logger.Info("components configured",
		"store", cfg.Store.Driver,
		"collection", cfg.Store.Collection,
		"notifications", publisher.Name(),
		"api_keys", len(cfg.Auth.APIKeys),
	)

	app.service = incidents.NewService(
		incidents.Instrument(repo, cfg.Store.Driver),
		notifications.NewNotifier(publisher, cfg.Notifications.Timeout),
	)

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           app.setupRouter(),
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

func (a *App) buildRepository(ctx context.Context) (incidents.Repository, error) {
	store := a.config.Store

	switch store.Driver {
	case config.StoreDriverPostgres:
		db, err := postgres.Connect(ctx, postgres.Config{
			URL:             a.config.Database.URL,
			MaxOpenConns:    a.config.Database.MaxOpenConns,
			MaxIdleConns:    a.config.Database.MaxIdleConns,
			ConnMaxLifetime: a.config.Database.ConnMaxLifetime,
			ConnectTimeout:  a.config.Database.ConnectTimeout,
			ConnectAttempts: a.config.Database.ConnectAttempts,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.db = db
		// Connect retries until the server is up, so migrate afterwards.
		if a.config.Database.AutoMigrate {
			if err := postgres.Migrate(a.config.Database.URL); err != nil {
				return nil, err
			}
		}
		return incidentspostgres.NewRepository(db, store.Collection, store.PageSize), nil

	case config.StoreDriverNATSKV:
		return natskv.NewRepository(ctx, a.nc, store.Collection, natskv.Options{
			PageSize:      store.PageSize,
			UpdateRetries: store.UpdateRetries,
		})

	default:
		return nil, fmt.Errorf("unknown store driver %q", store.Driver)
	}
}

func (a *App) buildPublisher(ctx context.Context) (notifications.Publisher, error) {
	cfg := a.config.Notifications

	if cfg.Driver == config.NotificationDriverNATS {
		return natspublisher.NewPublisher(ctx, a.nc, natspublisher.Config{
			Subject:   cfg.Target,
			JetStream: cfg.JetStream,
			Stream:    cfg.Stream,
		})
	}

	renderer, err := notifications.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("create notification renderer: %w", err)
	}

	switch cfg.Driver {
	case config.NotificationDriverWebhook:
		return webhook.NewPublisher(webhook.Config{
			URL:       cfg.Target,
			Username:  cfg.Username,
			IconURL:   cfg.IconURL,
			Timeout:   cfg.Timeout,
			RateLimit: cfg.RateLimit,
		}, renderer)
	case config.NotificationDriverSlack:
		return slackpublisher.NewPublisher(slackpublisher.Config{
			WebhookURL: cfg.Target,
			Username:   cfg.Username,
			IconURL:    cfg.IconURL,
			Timeout:    cfg.Timeout,
		}, renderer)
	default:
		return nil, fmt.Errorf("unknown notification driver %q", cfg.Driver)
	}
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
		"version", version.Version,
	)

	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown stops both servers, then releases store and broker connections.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
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

	a.closeConnections()

	return errors.Join(errs...)
}

func (a *App) closeConnections() {
	a.metricsCancel()
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.logger.Warn("drain nats connection", "error", err)
		}
		a.nc = nil
	}
	if a.db != nil {
		a.db.Close()
		a.db = nil
	}
}

func collectDBMetrics(ctx context.Context, db *pgxpool.Pool) {
	metrics.RecordDBPoolMetrics(db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(db)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

func (a *App) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS answers preflight requests for every path before routing
	r.Use(httputil.CORSMiddleware)
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if a.config.Server.RequestTimeout > 0 {
		r.Use(middleware.Timeout(a.config.Server.RequestTimeout))
	}

	// Installed before any sub-router so mounted routes inherit them.
	r.MethodNotAllowed(httputil.MethodNotAllowed)
	r.NotFound(httputil.NotFound)

	r.Get("/health", a.healthHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	handler := incidents.NewHandler(a.service)
	r.Group(func(r chi.Router) {
		r.Use(httputil.APIKeyMiddleware(a.config.Auth.APIKeys))
		handler.RegisterRoutes(r)
	})

	return r
}

func (a *App) healthHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.service.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
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
