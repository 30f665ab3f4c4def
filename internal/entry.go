// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/cortex/internal/api"
	"github.com/starford/cortex/internal/engine"
	"github.com/starford/cortex/internal/graph"
	"github.com/starford/cortex/internal/index"
	"github.com/starford/cortex/internal/mcpserver"
	"github.com/starford/cortex/internal/models"
	"github.com/starford/cortex/internal/noteservice"
	"github.com/starford/cortex/internal/sse"
	"github.com/starford/cortex/internal/storage"
)

// stack holds the components shared by the serve and MCP modes.
type stack struct {
	logger *slog.Logger
	store  *storage.FS
	db     *index.DB
	engine *engine.Engine
}

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev", logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// setup opens the vault and the index and builds the engine. The caller owns
// the returned db and must close it.
func setup(ctx context.Context, app *application, engineOpts ...engine.Option) (*stack, error) {
	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("state_file", cfg.Runtime.StateFile),
		slog.String("log_level", cfg.App.LogLevel.String()))

	for _, dir := range []string{cfg.Vault.Path, filepath.Dir(cfg.SQLite.Path), dirOf(cfg.Runtime.StateFile), dirOf(cfg.Runtime.SnapshotFile)} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	store, err := storage.NewFS(cfg.Vault.Path, storage.WithSkipDirs(cfg.Vault.SkipDirs...))
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	if err := index.Sync(ctx, db, store, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	g := graph.New(store, cfg.Graph,
		graph.WithLogger(logger),
		graph.WithIOTimeout(cfg.Runtime.IOTimeout),
		graph.WithStateFile(cfg.Runtime.StateFile))

	opts := append([]engine.Option{
		engine.WithLogger(logger),
		engine.WithJournal(db),
	}, engineOpts...)

	return &stack{
		logger: logger,
		store:  store,
		db:     db,
		engine: engine.New(g, cfg.EngineConfig(), opts...),
	}, nil
}

func dirOf(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Dir(path)
}

// watch mirrors vault changes into the index and forwards them to the engine
// as reload requests. notify, if non-nil, sees every index event.
func (rt *stack) watch(ctx context.Context, notify func(index.Event)) error {
	return index.Watch(ctx, rt.db, rt.store, rt.store.Root(), rt.store.Skipped, rt.logger, func(ev index.Event) {
		if notify != nil {
			notify(ev)
		}
		if err := rt.engine.FileChanged(ctx, ev.Path, ev.Checksum); err != nil && ctx.Err() == nil {
			rt.logger.Warn("engine: file change dropped",
				slog.String("path", ev.Path),
				slog.String("error", err.Error()))
		}
	})
}

// resync mirrors the vault into the index again once the engine's initial
// load has rewritten score lines, which may predate the watcher's setup.
func (rt *stack) resync(ctx context.Context) error {
	select {
	case <-rt.engine.Loaded():
	case <-ctx.Done():
		return nil
	}
	if err := index.Sync(ctx, rt.db, rt.store, rt.logger); err != nil && ctx.Err() == nil {
		rt.logger.Warn("post-load sync failed", slog.String("error", err.Error()))
	}
	return nil
}

// Run starts the HTTP server, the engine and the vault watcher.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	broker := sse.NewBroker(cfg.App.HTTP.SSEThrottle)
	defer broker.Close()

	rt, err := setup(ctx, app, engine.OnSnapshot(broker.PublishSnapshot))
	if err != nil {
		return err
	}
	defer rt.db.Close()
	logger := rt.logger

	svc := noteservice.NewService(rt.engine, rt.db, func(s models.Stimulus) {
		broker.Publish(sse.Event{Type: sse.TypeStimulus, Data: s})
	})
	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           api.NewServer(svc, apiRouter, logger),
		ReadHeaderTimeout: 10 * time.Second,
		// Long-lived event streams end with the group.
		BaseContext: func(net.Listener) context.Context { return gCtx },
	}

	g.Go(func() error {
		return rt.engine.Run(gCtx)
	})

	g.Go(func() error {
		return rt.watch(gCtx, func(ev index.Event) {
			broker.PublishNoteEvent(ev.Kind, ev.Path)
		})
	})

	g.Go(func() error {
		return rt.resync(gCtx)
	})

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
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			cancel()
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
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

// RunMCP serves the MCP tools on stdio next to the engine and the watcher.
// It returns when stdin closes or a signal arrives.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}

	rt, err := setup(ctx, app)
	if err != nil {
		return err
	}
	defer rt.db.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rt.engine.Run(gCtx)
	})
	g.Go(func() error {
		return rt.watch(gCtx, nil)
	})
	g.Go(func() error {
		return rt.resync(gCtx)
	})

	srv := mcpserver.New(noteservice.NewService(rt.engine, rt.db, nil), app.version)
	g.Go(func() error {
		defer cancel()
		rt.logger.Info("mcp: serving on stdio")
		if err := srv.Serve(gCtx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mcp server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		rt.logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}
	rt.logger.Info("mcp: stopped")
	return nil
}
