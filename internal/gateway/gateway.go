// ABOUTME: Gateway orchestrator that owns the client websocket server, HTTP endpoints and gRPC health
// ABOUTME: Manages listener setup (TCP or Tailscale), graceful shutdown and the pool/ledger lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"tailscale.com/tsnet"

	"github.com/2389/asr-gateway/internal/auth"
	"github.com/2389/asr-gateway/internal/config"
	"github.com/2389/asr-gateway/internal/feed"
	"github.com/2389/asr-gateway/internal/metrics"
	"github.com/2389/asr-gateway/internal/pool"
	"github.com/2389/asr-gateway/internal/session"
	"github.com/2389/asr-gateway/internal/store"
)

// shutdownTimeout bounds graceful shutdown once Run's context is cancelled.
const shutdownTimeout = 5 * time.Second

// Deps are the collaborators a Gateway is built from.
type Deps struct {
	Pool       *pool.Pool
	Authorizer auth.Authorizer
	Ledger     store.Ledger
	Logger     *slog.Logger

	// Optional. A registry is created when nil.
	Sessions *session.Registry
	// Optional. Created from Pool and Sessions when nil and metrics are enabled.
	Metrics *metrics.Metrics
	// Optional. A broadcaster is created when nil.
	Feed *feed.Broadcaster
}

// Gateway accepts client websockets and binds each one to a backend pool slot.
type Gateway struct {
	config   *config.Config
	pool     *pool.Pool
	auth     auth.Authorizer
	ledger   *auditor
	sessions *session.Registry
	metrics  *metrics.Metrics
	feed     *feed.Broadcaster
	logger   *slog.Logger

	upgrader   websocket.Upgrader
	httpServer *http.Server
	grpcServer *grpc.Server
	health     *healthReporter

	tsnetServer *tsnet.Server

	mu       sync.Mutex
	conns    map[string]*clientConn
	closing  bool
	handlers sync.WaitGroup

	shutdownOnce sync.Once
	shutdownErr  error
}

// New wires a Gateway. The pool should already be started.
func New(cfg *config.Config, deps Deps) (*Gateway, error) {
	if deps.Pool == nil {
		return nil, errors.New("gateway requires a pool")
	}
	if deps.Authorizer == nil {
		return nil, errors.New("gateway requires an authorizer")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ledger := deps.Ledger
	if ledger == nil {
		ledger = store.NopLedger{}
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = session.NewRegistry()
	}
	m := deps.Metrics
	if m == nil && cfg.Metrics.Enabled {
		m = metrics.New(deps.Pool, sessions)
	}

	events := deps.Feed
	if events == nil {
		events = feed.New(logger)
	}

	gw := &Gateway{
		config:   cfg,
		pool:     deps.Pool,
		auth:     deps.Authorizer,
		sessions: sessions,
		metrics:  m,
		feed:     events,
		logger:   logger.With("component", "gateway"),
		conns:    make(map[string]*clientConn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients are devices and test harnesses, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	gw.ledger = newAuditor(ledger, m, logger.With("component", "ledger"))

	mux := http.NewServeMux()
	gw.registerRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Event streams never go idle on their own.
	gw.httpServer.RegisterOnShutdown(events.Close)

	if cfg.Server.GRPCAddr != "" {
		gw.grpcServer, gw.health = newHealthServer(deps.Pool, logger.With("component", "grpc"))
	}

	return gw, nil
}

// Handler returns the HTTP handler serving the websocket endpoint and the API.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Feed returns the live session event broadcaster.
func (g *Gateway) Feed() *feed.Broadcaster {
	return g.feed
}

// Sessions returns the session registry.
func (g *Gateway) Sessions() *session.Registry {
	return g.sessions
}

// setupTCPListeners creates standard TCP listeners for HTTP and, when configured, gRPC.
func (g *Gateway) setupTCPListeners() (httpLn, grpcLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"addr", g.config.Server.Addr,
		"path", g.config.Server.Path,
		"grpc_addr", g.config.Server.GRPCAddr,
	)

	httpLn, err = net.Listen("tcp", g.config.Server.Addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if g.grpcServer == nil {
		return httpLn, nil, nil
	}
	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		_ = httpLn.Close()
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}
	return httpLn, grpcLn, nil
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (httpLn, grpcLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// Run serves until ctx is cancelled or a server fails, then shuts down.
// Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	httpLn, grpcLn, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}
	return g.Serve(ctx, httpLn, grpcLn)
}

// Serve runs the servers on existing listeners. grpcLn may be nil.
func (g *Gateway) Serve(ctx context.Context, httpLn, grpcLn net.Listener) error {
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	if grpcLn != nil && g.grpcServer != nil {
		eg.Go(func() error {
			g.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("gRPC server: %w", err)
			}
			return nil
		})
		eg.Go(func() error {
			g.health.watch(egCtx)
			return nil
		})
	}

	eg.Go(func() error {
		<-egCtx.Done()
		if ctx.Err() != nil {
			g.logger.Info("context canceled, initiating shutdown")
		}
		return g.gracefulShutdown()
	})

	return eg.Wait()
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting clients, closes every client session, then the
// pool and finally the ledger. Safe to call more than once.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.shutdownErr = g.shutdown(ctx)
	})
	return g.shutdownErr
}

func (g *Gateway) shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.grpcServer != nil {
		g.shutdownGRPCServer(ctx)
	}

	g.closeClients(ctx)

	g.pool.Close()

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "ledger close", g.ledger.Close())

	return errors.Join(errs...)
}

// closeClients sends a going-away close to every client and waits for their
// teardown to release pool slots.
func (g *Gateway) closeClients(ctx context.Context) {
	g.mu.Lock()
	g.closing = true
	conns := make([]*clientConn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		g.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		g.logger.Warn("client sessions did not finish before shutdown deadline", "remaining", len(conns))
	}
}

// track registers a live connection. It fails once shutdown has begun.
// A tracked connection must call untrack when its handler returns.
func (g *Gateway) track(c *clientConn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closing {
		return false
	}
	g.conns[c.sess.ID] = c
	g.handlers.Add(1)
	return true
}

func (g *Gateway) untrack(id string) {
	g.mu.Lock()
	delete(g.conns, id)
	g.mu.Unlock()
	g.handlers.Done()
}

// connections returns a snapshot of live connections.
func (g *Gateway) connections() []*clientConn {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*clientConn, 0, len(g.conns))
	for _, c := range g.conns {
		out = append(out, c)
	}
	return out
}
