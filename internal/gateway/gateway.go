// ABOUTME: Gateway composition root wiring subsystems, completion service and HTTP server
// ABOUTME: Bootstraps the database behind the configuration and owns graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/2389/worldgpt/internal/config"
	"github.com/2389/worldgpt/internal/conversation"
	"github.com/2389/worldgpt/internal/database"
	"github.com/2389/worldgpt/internal/llm"
	"github.com/2389/worldgpt/internal/subsystem"
)

// Gateway serves the character API on top of the configuration and
// database subsystems.
type Gateway struct {
	conf         *config.Configuration
	db           *database.Database
	subsystems   *subsystem.Group
	broadcaster  *conversation.Broadcaster
	conversation *conversation.Service
	httpServer   *http.Server
	logger       *slog.Logger

	shutdownTimeout time.Duration
	startedAt       time.Time

	// overridable for tests; the default follows config.Update of the llm section
	completer   llm.Completer
	counter     llm.TokenCounter
	storeOpener database.StoreOpener
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithCompleter replaces the OpenAI client.
func WithCompleter(c llm.Completer) Option {
	return func(g *Gateway) { g.completer = c }
}

// WithTokenCounter replaces the tiktoken counter.
func WithTokenCounter(c llm.TokenCounter) Option {
	return func(g *Gateway) { g.counter = c }
}

// WithStoreOpener replaces the SQLite datastore.
func WithStoreOpener(open database.StoreOpener) Option {
	return func(g *Gateway) { g.storeOpener = open }
}

// New builds the gateway and bootstraps its subsystems. conf must already be
// active; it is adopted into the subsystem group and shut down with it.
func New(ctx context.Context, conf *config.Configuration, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !conf.Active() {
		return nil, fmt.Errorf("configuration: %w", subsystem.ErrNotActive)
	}
	cfg := conf.Snapshot()

	g := &Gateway{
		conf:            conf,
		logger:          logger.With("component", "gateway"),
		shutdownTimeout: cfg.Subsystems.ShutdownTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}

	g.broadcaster = conversation.NewBroadcaster(logger)

	dbOpts := []database.Option{
		database.WithObserver(g.broadcaster),
		database.WithLogger(logger),
		database.WithDeadLetterLimit(cfg.Subsystems.DeadLetterLimit),
	}
	if g.storeOpener != nil {
		dbOpts = append(dbOpts, database.WithStoreOpener(g.storeOpener))
	}
	g.db = database.New(conf, dbOpts...)

	g.subsystems = subsystem.NewGroup(cfg.Subsystems.ShutdownTimeout, logger, conf, g.db)
	if err := g.subsystems.Bootstrap(ctx); err != nil {
		g.broadcaster.Close()
		return nil, err
	}

	if g.completer == nil {
		g.completer = llm.NewLiveClient(conf, logger)
		if cfg.LLM.OpenAIAPIKey == "" {
			g.logger.Warn("llm.openai_api_key is empty, completions will fail")
		}
	}
	if g.counter == nil {
		g.counter = llm.NewTiktokenCounter(logger)
	}
	g.conversation = conversation.New(g.db, conf, g.completer,
		conversation.WithTokenCounter(g.counter),
		conversation.WithUsageStore(g.db),
		conversation.WithLogger(logger))

	mux := http.NewServeMux()
	g.registerRoutes(mux)
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	g.httpServer = &http.Server{
		Addr:              cfg.API.Addr(),
		Handler:           g.withRequestID(g.withAccessLog(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Event streams end when the broadcaster closes their channels.
	g.httpServer.RegisterOnShutdown(g.broadcaster.Close)

	g.startedAt = time.Now()
	g.logger.Info("gateway ready",
		"listen", cfg.API.Addr(),
		"datastore", cfg.Database.Path,
		"model", cfg.LLM.Model,
		"characters", len(g.db.Names()))
	return g, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Database returns the database subsystem.
func (g *Gateway) Database() *database.Database {
	return g.db
}

// Run listens on the configured address and serves until ctx is cancelled,
// then shuts everything down.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.httpServer.Addr)
	if err != nil {
		_ = g.gracefulShutdown()
		return fmt.Errorf("listening on %s: %w", g.httpServer.Addr, err)
	}
	return g.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled or the server fails.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		g.logger.Info("context canceled, initiating shutdown")
		return g.gracefulShutdown()
	})

	return eg.Wait()
}

// gracefulShutdown uses a fresh context since the serving one is already
// cancelled.
func (g *Gateway) gracefulShutdown() error {
	timeout := g.shutdownTimeout
	if timeout <= 0 {
		timeout = subsystem.DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, then the subsystems in reverse order.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	g.broadcaster.Close()
	errs = appendCloseError(errs, "subsystems", g.subsystems.Shutdown())

	return errors.Join(errs...)
}
