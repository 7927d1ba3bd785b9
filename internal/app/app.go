// Package app provides the top-level application lifecycle management for
// arbicore. It wires the MCP Client Layer, Connection Hub, Arbitrage
// Service, Worker Supervisor, Pipeline, and Orchestrator behind the Unified
// Facade, then starts the goroutines and (in serve/full mode) the HTTP
// server appropriate to the configured operating mode.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arcwave/arbicore/internal/config"
)

const shutdownGrace = 10 * time.Second

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, initializes the Facade, selects the operating
// mode, starts the corresponding goroutines and (where applicable) the HTTP
// server, and blocks until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if !deps.Core.Initialize(ctx) {
		return fmt.Errorf("app: core facade failed to initialize")
	}

	mode := strings.ToLower(a.cfg.Mode)
	switch mode {
	case "autonomous":
		return a.AutonomousMode(ctx, deps)
	case "serve":
		return a.ServeMode(ctx, deps)
	case "full":
		return a.FullMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// AutonomousMode runs the Facade's autonomous discovery loop until ctx is
// cancelled, then stops it.
func (a *App) AutonomousMode(ctx context.Context, deps *Dependencies) error {
	deps.Core.StartAutonomousMode(ctx)
	<-ctx.Done()
	deps.Core.StopAutonomousMode()
	return nil
}

// ServeMode mounts the Connection Hub's WebSocket upgrade endpoint and a
// status endpoint, blocking until ctx is cancelled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	return a.serveHTTP(ctx, deps)
}

// FullMode runs the autonomous discovery loop alongside the HTTP server,
// the default standalone-deployment mode.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	deps.Core.StartAutonomousMode(ctx)
	defer deps.Core.StopAutonomousMode()
	return a.serveHTTP(ctx, deps)
}

func (a *App) serveHTTP(ctx context.Context, deps *Dependencies) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		clientID := r.URL.Query().Get("client_id")
		if clientID == "" {
			clientID = uuid.NewString()
		}
		if err := deps.Hub.ServeWS(w, r, clientID); err != nil {
			a.logger.WarnContext(r.Context(), "hub: websocket upgrade failed", slog.String("error", err.Error()))
		}
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(deps.Core.DetailedMetrics())
	})

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(a.cfg.Server.Port),
		Handler: withCORS(mux, a.cfg.Server.CORSOrigins),
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server: listening", slog.Int("port", a.cfg.Server.Port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	}
}

func withCORS(next http.Handler, origins []string) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		next.ServeHTTP(w, r)
	})
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
