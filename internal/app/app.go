// Package app wires configuration, storage, the pricing engine, and the HTTP
// transport into one runnable server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"carvalue/internal/config"
	"carvalue/internal/infrastructure"
	customMiddleware "carvalue/internal/middleware"
	"carvalue/internal/normalizer"
	"carvalue/internal/pricing"
	"carvalue/internal/services"
	"carvalue/internal/store"
	handlers "carvalue/internal/transport/http"
)

// Version is set at compile time via -ldflags.
var Version = "dev"

const AppName = "carvalue"

// Application represents the main application container
type Application struct {
	Config         *config.Config
	Router         *chi.Mux
	Server         *http.Server
	PricingService *services.PricingService
	Store          pricing.ModelStore
	Logger         *slog.Logger
	OTelProviders  *infrastructure.OTelProviders

	metrics    *infrastructure.BusinessMetrics
	closeStore func() error
}

// NewApplication creates a new application instance with dependency injection
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("application starting",
		slog.String("name", AppName),
		slog.String("version", Version),
		slog.String("store_driver", cfg.Store.Driver))

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices builds the store, engine, and service container.
func (a *Application) initializeServices() error {
	modelStore, closer, err := openStore(a.Config.Store)
	if err != nil {
		return fmt.Errorf("failed to open model store: %w", err)
	}
	a.Store = modelStore
	a.closeStore = closer

	params := a.Config.Params()
	router := pricing.NewRouter(a.Config.Families(), a.Config.Catalog.Exclusions)

	trainer := pricing.NewTrainer(params, router, modelStore, a.Logger)
	if a.Config.Pricing.MaxConcurrency > 0 {
		trainer.SetConcurrency(a.Config.Pricing.MaxConcurrency)
	}

	resolver := pricing.NewResolver(modelStore, normalizer.New(), a.Logger)

	metrics, err := infrastructure.CreateBusinessMetrics(a.OTelProviders.Meter)
	if err != nil {
		a.Logger.Warn("business metrics unavailable", slog.String("error", err.Error()))
	}
	a.metrics = metrics

	a.PricingService = services.NewPricingService(trainer, resolver, modelStore, metrics, a.Logger)
	return nil
}

// openStore opens the configured model store backend. The returned closer is
// nil for backends without resources to release.
func openStore(cfg config.StoreConfig) (pricing.ModelStore, func() error, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemory(), nil, nil
	case "sqlite":
		s, err := store.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s, err := store.OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver: %q", cfg.Driver)
	}
}

// setupRouter builds the middleware chain and mounts the API.
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	r.Group(func(r chi.Router) {
		otelMiddleware := customMiddleware.NewOTelMiddleware(a.OTelProviders, a.metrics)
		r.Use(otelMiddleware.Handler)

		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(customMiddleware.Recoverer(a.Logger))
		r.Use(customMiddleware.SecurityHeaders)
		r.Use(customMiddleware.Compress(5))

		if a.Config.Server.RateLimit.Enabled {
			r.Use(customMiddleware.NewRateLimiter(
				a.Config.Server.RateLimit.RPS,
				a.Config.Server.RateLimit.Burst,
				a.Logger,
			).Handler)
		}

		a.setupAPIRoutes(r)
	})

	// Prometheus endpoint stays outside the middleware group.
	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
}

// setupAPIRoutes configures API endpoints
func (a *Application) setupAPIRoutes(r chi.Router) {
	validator := customMiddleware.NewRequestValidator(a.Logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		handlers.NewPredictHandler(a.PricingService, validator, a.Logger).RegisterRoutes(r)
		handlers.NewTrainHandler(a.PricingService, a.Logger).RegisterRoutes(r)
		handlers.NewModelsHandler(a.PricingService, a.Logger).RegisterRoutes(r)
		handlers.NewHealthHandler(a.PricingService, a.Logger).RegisterRoutes(r)
	})
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Start starts the HTTP server in the background.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "starting server",
		slog.Int("port", a.Config.Server.Port),
		slog.String("level", a.Config.Logging.Level))

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.ErrorContext(ctx, "server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	a.Logger.InfoContext(ctx, "server started",
		slog.String("address", fmt.Sprintf("http://localhost:%d", a.Config.Server.Port)))
	return nil
}

// Stop gracefully stops the application
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	if a.closeStore != nil {
		if err := a.closeStore(); err != nil {
			a.Logger.ErrorContext(ctx, "error closing model store", slog.String("error", err.Error()))
		}
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "application shutdown complete")
	return nil
}

// Run runs the application until interrupted
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case <-sigChan:
		a.Logger.InfoContext(ctx, "received interrupt signal")
	case <-ctx.Done():
	}

	return a.Stop(context.Background())
}
