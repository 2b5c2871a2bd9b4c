// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/holt/lattice/internal/api"
	"github.com/holt/lattice/internal/backend"
	"github.com/holt/lattice/internal/graph"
	"github.com/holt/lattice/internal/index"
	"github.com/holt/lattice/internal/layout"
	"github.com/holt/lattice/internal/mcpserver"
	"github.com/holt/lattice/internal/sse"
	"github.com/holt/lattice/internal/store"
	"github.com/holt/lattice/internal/watch"
)

// Run starts the HTTP service with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("backend_mode", cfg.Backend.Mode),
		slog.String("content_path", cfg.Content.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	adapter, err := buildAdapter(cfg)
	if err != nil {
		return err
	}

	st := store.New(adapter, "", logger)
	if err := st.LoadAll(ctx); err != nil {
		return fmt.Errorf("load graph: %w", err)
	}

	idx, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init index: %w", err)
	}
	defer idx.Close()

	if err := idx.Rebuild(st.Snapshot()); err != nil {
		logger.Warn("initial index rebuild failed", slog.String("error", err.Error()))
	}

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	// Every successful store mutation flows into the index and out to
	// SSE clients.
	st.Subscribe(func(ev store.Event) {
		if ev.Err != nil {
			return
		}
		var n *graph.Node
		if ev.Kind != "removed" {
			n, _ = st.Node(ev.Path)
		}
		if applyErr := idx.Apply(ev, n); applyErr != nil {
			logger.Warn("index apply failed",
				slog.String("path", ev.Path),
				slog.String("error", applyErr.Error()))
		}
		broker.PublishChange(ev)
	})

	layoutOpts := layout.Options{
		RankSpacing:  cfg.Layout.RankSpacing,
		NodeSpacing:  cfg.Layout.NodeSpacing,
		LeafSpacing:  cfg.Layout.LeafSpacing,
		BranchOffset: cfg.Layout.BranchOffset,
	}
	h := api.NewHandler(st, idx, layoutOpts)

	// The raw file surface is only served when the documents are local;
	// in remote mode this service is itself a client of another one.
	var fh *api.FileHandler
	if cfg.Backend.Mode == BackendModeFS {
		fh = api.NewFileHandler(adapter, st)
	}
	apiRouter := api.NewRouter(h, fh, cfg.Auth.AuthEnabled(), cfg.Auth.Token, cfg.Content.ProjectID, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Filesystem watcher only applies when the files are local.
	if cfg.Backend.Mode == BackendModeFS {
		g.Go(func() error {
			if watchErr := watch.Run(gCtx, st, adapter, cfg.Content.Path, logger); watchErr != nil {
				logger.Error("watcher failed", slog.String("error", watchErr.Error()))
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP starts the MCP stdio server over the same graph.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	// Logs go to stderr so stdout stays clean for the MCP transport.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	adapter, err := buildAdapter(cfg)
	if err != nil {
		return err
	}

	st := store.New(adapter, "", logger)
	if err := st.LoadAll(ctx); err != nil {
		return fmt.Errorf("load graph: %w", err)
	}

	idx, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init index: %w", err)
	}
	defer idx.Close()
	if err := idx.Rebuild(st.Snapshot()); err != nil {
		logger.Warn("initial index rebuild failed", slog.String("error", err.Error()))
	}
	st.Subscribe(func(ev store.Event) {
		if ev.Err != nil {
			return
		}
		var n *graph.Node
		if ev.Kind != "removed" {
			n, _ = st.Node(ev.Path)
		}
		_ = idx.Apply(ev, n)
	})

	return mcpserver.New(st, idx).ServeStdio()
}

// buildAdapter selects the backend from configuration. Everything
// environment-specific stays behind the Adapter interface.
func buildAdapter(cfg *Config) (backend.Adapter, error) {
	switch cfg.Backend.Mode {
	case BackendModeRemote:
		adapter, err := backend.NewRemote(cfg.Backend.Remote.URL, cfg.Backend.Remote.ProjectID, cfg.Backend.Remote.Token)
		if err != nil {
			return nil, fmt.Errorf("init remote backend: %w", err)
		}
		return adapter, nil
	default:
		if err := os.MkdirAll(cfg.Content.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create content dir: %w", err)
		}
		adapter, err := backend.NewFS(cfg.Content.Path)
		if err != nil {
			return nil, fmt.Errorf("init fs backend: %w", err)
		}
		return adapter, nil
	}
}
