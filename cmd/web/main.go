package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"sales-forecast/internal/config"
	"sales-forecast/internal/forecast"
	"sales-forecast/internal/handlers"
	"sales-forecast/internal/middleware"
	"sales-forecast/internal/observability"
	"sales-forecast/internal/server"
	"sales-forecast/internal/services"
	"sales-forecast/internal/store"
	"sales-forecast/internal/ui/templates"
)

const (
	renderTimeout    = 10 * time.Second
	telemetryTimeout = 10 * time.Second
	limiterSweep     = time.Minute
	cacheMaxAge      = "public, max-age=300"
)

func handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), renderTimeout)
	defer cancel()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", cacheMaxAge)
	if err := templates.Dashboard().Render(ctx, w); err != nil {
		http.Error(w, "render error", http.StatusInternalServerError)
	}
}

// newDependencies builds the services on top of an opened store.
func newDependencies(cfg *config.Config, st *store.Store, logger *slog.Logger) handlers.Dependencies {
	opts := forecast.DefaultOptions()
	opts.IntervalWidth = cfg.Forecast.IntervalWidth

	return handlers.Dependencies{
		Transactions:   services.NewTransactionService(st, logger),
		Forecasts:      services.NewForecastService(st, forecast.New(opts), cfg.Forecast, logger),
		Analytics:      services.NewAnalytics(st, logger),
		Database:       st,
		MaxUploadBytes: cfg.Upload.MaxBytes,
	}
}

func newHandler(cfg *config.Config, deps handlers.Dependencies, limiter *middleware.RateLimiter, logger *slog.Logger) http.Handler {
	srv := server.NewServer(deps, logger, &server.TemplateHandlers{
		Dashboard: handleDashboard,
	})

	chain := middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Logger(logger),
		middleware.Tracing(cfg.Telemetry.ServiceName),
		middleware.SecurityHeaders(),
		middleware.CORS(cfg.Security),
		middleware.TrustedProxy(cfg.Security),
		middleware.RateLimit(limiter, logger),
	)
	return chain(srv)
}

// newGracefulServer wires the HTTP server over st and registers the hooks
// that release the limiter sweep, the store and telemetry on shutdown.
func newGracefulServer(cfg *config.Config, st *store.Store, shutdownTelemetry func(context.Context) error, logger *slog.Logger) *server.GracefulServer {
	limiterCtx, stopLimiter := context.WithCancel(context.Background())
	limiter := middleware.NewRateLimiter(cfg.Security)
	go limiter.Run(limiterCtx, limiterSweep)

	deps := newDependencies(cfg, st, logger)
	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      newHandler(cfg, deps, limiter, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	gracefulServer := server.NewGracefulServer(httpServer, logger, cfg.Server)
	gracefulServer.RegisterShutdownHook("rate-limiter", func(ctx context.Context) error {
		stopLimiter()
		return nil
	})
	gracefulServer.RegisterShutdownHook("store", func(ctx context.Context) error {
		return st.Close()
	})
	gracefulServer.RegisterShutdownHook("telemetry", shutdownTelemetry)
	return gracefulServer
}

func run(cfg *config.Config, logger *slog.Logger) error {
	initCtx, cancel := context.WithTimeout(context.Background(), telemetryTimeout)
	shutdownTelemetry, err := observability.InitTelemetry(initCtx, cfg.Telemetry, logger)
	cancel()
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	st, err := store.Open(cfg.Database, logger)
	if err != nil {
		shutdownTelemetry(context.Background())
		return fmt.Errorf("open store: %w", err)
	}

	return newGracefulServer(cfg, st, shutdownTelemetry, logger).ListenAndServe()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Logger)
	slog.SetDefault(logger)

	logger.Info("starting application",
		"version", "1.0.0",
		"addr", cfg.Address(),
		"db_driver", cfg.Database.Driver,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("application stopped gracefully")
}
