package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"retail-dashboard/internal/config"
)

const hookTimeout = 10 * time.Second

type Hook func(ctx context.Context) error

// GracefulServer runs an http.Server until SIGINT or SIGTERM, then drains
// it and runs the shutdown hooks. SIGHUP runs the reload hooks instead.
type GracefulServer struct {
	server     *http.Server
	logger     *slog.Logger
	config     *config.Config
	shutdownFn []Hook
	reloadFn   []Hook
	mu         sync.RWMutex
}

func NewGracefulServer(server *http.Server, logger *slog.Logger, config *config.Config) *GracefulServer {
	return &GracefulServer{
		server: server,
		logger: logger,
		config: config,
	}
}

func (gs *GracefulServer) RegisterShutdownHook(fn Hook) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.shutdownFn = append(gs.shutdownFn, fn)
}

func (gs *GracefulServer) RegisterReloadHook(fn Hook) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.reloadFn = append(gs.reloadFn, fn)
}

func (gs *GracefulServer) ListenAndServe() error {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signals)

	return gs.run(signals)
}

func (gs *GracefulServer) run(signals <-chan os.Signal) error {
	serverErrors := make(chan error, 1)

	go func() {
		gs.logger.Info("starting server",
			"addr", gs.server.Addr,
			"read_timeout", gs.config.Server.ReadTimeout,
			"write_timeout", gs.config.Server.WriteTimeout,
		)
		serverErrors <- gs.server.ListenAndServe()
	}()

	for {
		select {
		case err := <-serverErrors:
			if err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil

		case sig := <-signals:
			if sig == syscall.SIGHUP {
				gs.logger.Info("reload signal received", "signal", sig)
				go gs.reload()
				continue
			}

			gs.logger.Info("shutdown signal received", "signal", sig)

			ctx, cancel := context.WithTimeout(context.Background(), gs.config.Server.ShutdownTimeout)
			defer cancel()

			return gs.shutdown(ctx)
		}
	}
}

func (gs *GracefulServer) reload() {
	gs.mu.RLock()
	hooks := append([]Hook(nil), gs.reloadFn...)
	gs.mu.RUnlock()

	if len(hooks) == 0 {
		gs.logger.Debug("no reload hooks registered")
		return
	}

	for i, hook := range hooks {
		if err := hook(context.Background()); err != nil {
			gs.logger.Error("reload hook failed", "hook_index", i, "error", err)
		}
	}
}

func (gs *GracefulServer) shutdown(ctx context.Context) error {
	gs.logger.Info("starting graceful shutdown",
		"timeout", gs.config.Server.ShutdownTimeout,
	)

	// Drain in-flight requests before releasing what they depend on.
	gs.logger.Info("stopping HTTP server")
	if err := gs.server.Shutdown(ctx); err != nil {
		gs.logger.Error("HTTP server shutdown failed", "error", err)
		return fmt.Errorf("HTTP server shutdown failed: %w", err)
	}
	gs.logger.Info("HTTP server stopped gracefully")

	gs.mu.RLock()
	hooks := append([]Hook(nil), gs.shutdownFn...)
	gs.mu.RUnlock()

	var g errgroup.Group
	for i, hook := range hooks {
		g.Go(func() error {
			hookCtx, cancel := context.WithTimeout(ctx, hookTimeout)
			defer cancel()

			gs.logger.Debug("executing shutdown hook", "hook_index", i)
			if err := hook(hookCtx); err != nil {
				gs.logger.Error("shutdown hook failed",
					"hook_index", i,
					"error", err,
				)
				return fmt.Errorf("shutdown hook %d failed: %w", i, err)
			}
			gs.logger.Debug("shutdown hook completed", "hook_index", i)
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		gs.logger.Info("graceful shutdown completed")
		return err

	case <-ctx.Done():
		gs.logger.Warn("shutdown timeout exceeded, forcing exit")
		return ctx.Err()
	}
}
