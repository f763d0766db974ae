package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"retail-dashboard/internal/cleaner"
	"retail-dashboard/internal/config"
	"retail-dashboard/internal/loader"
	"retail-dashboard/internal/middleware"
	"retail-dashboard/internal/observability"
	"retail-dashboard/internal/server"
	"retail-dashboard/internal/services"
	"retail-dashboard/internal/store/sqlite"
	"retail-dashboard/internal/ui/templates"
)

const (
	version       = "1.0.0"
	renderTimeout = 10 * time.Second
)

// dashboardHandler renders the page shell seeded with the dataset's
// country list and date bounds.
func dashboardHandler(analytics *services.Analytics, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), renderTimeout)
		defer cancel()

		filters := analytics.Filters()
		props := templates.DashboardProps{
			Countries: filters.Countries,
			MinDate:   filters.MinDate,
			MaxDate:   filters.MaxDate,
			Ready:     analytics.Ready(),
		}
		if ds := analytics.Dataset(); ds != nil {
			props.Rows = ds.Len()
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		if err := templates.Dashboard(props).Render(ctx, w); err != nil {
			logger.ErrorContext(ctx, "render dashboard", "error", err)
			http.Error(w, "render error", http.StatusInternalServerError)
		}
	}
}

func newHandler(cfg *config.Config, analytics *services.Analytics, logger *slog.Logger) http.Handler {
	templateHandlers := &server.TemplateHandlers{
		Dashboard: dashboardHandler(analytics, logger),
	}
	srv := server.NewServer(analytics, logger, cfg, templateHandlers)

	rateLimiter := middleware.NewRateLimiter(cfg.Security)

	middlewareChain := middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Tracing(),
		middleware.Logger(logger),
		middleware.SecurityHeaders(),
		middleware.CORS(cfg.Security),
		middleware.TrustedProxy(cfg.Security),
		middleware.RateLimit(rateLimiter, logger),
		middleware.Compression(logger),
	)

	return middlewareChain(srv)
}

func newAnalytics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*services.Analytics, *sqlite.Store, error) {
	rules, err := cleaner.LoadRules(cfg.Data.RulesFile)
	if err != nil {
		return nil, nil, fmt.Errorf("cleaning rules: %w", err)
	}
	c, err := cleaner.New(rules, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("cleaner: %w", err)
	}

	store, err := sqlite.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("open transaction store: %w", err)
	}

	analytics := services.NewAnalytics(services.Options{
		Loader: loader.New(loader.Options{
			Encoding:  cfg.Data.Encoding,
			Delimiter: cfg.Data.Delimiter,
			Logger:    logger,
		}),
		Cleaner:     c,
		Store:       store,
		TopN:        cfg.Query.TopN,
		LoadTimeout: cfg.Data.LoadTimeout,
		Logger:      logger,
	})
	return analytics, store, nil
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Tracing, logger)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	analytics, store, err := newAnalytics(ctx, cfg, logger)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := analytics.LoadFromArchive(ctx, cfg.Data.Archive); err != nil {
		_ = store.Close()
		_ = shutdownTracing(ctx)
		return fmt.Errorf("load dataset: %w", err)
	}
	logger.Info("dataset loaded", "duration", time.Since(start), "rows", analytics.Dataset().Len())

	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      newHandler(cfg, analytics, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	gracefulServer := server.NewGracefulServer(httpServer, logger, cfg)

	gracefulServer.RegisterShutdownHook(func(ctx context.Context) error {
		logger.Info("closing transaction store")
		return store.Close()
	})
	gracefulServer.RegisterShutdownHook(func(ctx context.Context) error {
		return shutdownTracing(ctx)
	})
	if cfg.Data.ReloadOnHUP {
		gracefulServer.RegisterReloadHook(analytics.Reload)
	}

	return gracefulServer.ListenAndServe()
}

func main() {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Logger)
	slog.SetDefault(logger)

	logger.Info("starting application",
		"version", version,
		"addr", cfg.Address(),
		"archive", cfg.Data.Archive,
		"encoding", cfg.Data.Encoding,
		"tracing", cfg.Tracing.Enabled,
		"admin_auth", cfg.Security.AdminToken != "",
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("application failed", "error", err)
		os.Exit(1)
	}

	logger.Info("application stopped gracefully")
}
