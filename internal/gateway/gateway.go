// ABOUTME: Gateway orchestrator that wires storage, completion, the controller and the web shell
// ABOUTME: Owns the HTTP server lifecycle: listen, serve until the context ends, shut down in order

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-chat/internal/completion"
	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/store"
	"github.com/2389/coven-chat/internal/webui"
)

// Gateway owns every long-lived coven-chat component.
type Gateway struct {
	config      *config.Config
	store       store.ConversationStore
	controller  *conversation.Controller
	broadcaster *conversation.FragmentBroadcaster
	webUI       *webui.Server
	httpServer  *http.Server
	logger      *slog.Logger

	shutdownOnce sync.Once
	shutdownErr  error
}

// New opens the configured store and completion service and builds the
// controller and web shell on top of them.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	completer, err := completion.New(cfg.Completion)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("creating completion service: %w", err)
	}

	broadcaster := conversation.NewFragmentBroadcaster(logger)
	ctrl := conversation.New(s, completer, logger, conversation.WithBroadcaster(broadcaster))

	ui, err := webui.New(webui.Config{
		Controller:  ctrl,
		Broadcaster: broadcaster,
		WebUI:       cfg.WebUI,
		Logger:      logger,
	})
	if err != nil {
		broadcaster.Close()
		_ = s.Close()
		return nil, fmt.Errorf("creating web UI: %w", err)
	}

	mux := http.NewServeMux()
	ui.RegisterRoutes(mux)

	gw := &Gateway{
		config:      cfg,
		store:       s,
		controller:  ctrl,
		broadcaster: broadcaster,
		webUI:       ui,
		logger:      logger.With("component", "gateway"),
		httpServer: &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	gw.logger.Info("gateway ready",
		"backend", cfg.Database.Backend,
		"provider", cfg.Completion.Provider,
		"model", cfg.Completion.Model,
	)
	return gw, nil
}

// initStore opens the configured backend. COVEN_CHAT_DB_PATH overrides
// database.path.
func initStore(ctx context.Context, cfg *config.Config) (store.ConversationStore, error) {
	dbCfg := cfg.Database
	if envPath := os.Getenv("COVEN_CHAT_DB_PATH"); envPath != "" {
		dbCfg.Path = envPath
	}

	s, err := store.Open(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", dbCfg.Backend, err)
	}
	return s, nil
}

// Controller returns the conversation controller, for shells that run in
// process instead of over HTTP.
func (g *Gateway) Controller() *conversation.Controller {
	return g.controller
}

// Handler returns the HTTP handler serving the web shell.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run listens on server.http_addr and serves until ctx is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled or the server fails, then shuts
// everything down.
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

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
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

// Shutdown stops the HTTP server, then the web shell and broadcaster, and
// closes the store last so in-flight sends can finish recording. Safe to
// call more than once.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.logger.Info("shutting down gateway")

		var errs []error
		errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

		g.webUI.Close()
		g.broadcaster.Close()

		errs = appendCloseError(errs, "store close", g.store.Close())
		g.shutdownErr = errors.Join(errs...)
	})
	return g.shutdownErr
}
