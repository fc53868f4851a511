// Package server composes the room engine from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/txn2/room-engine/pkg/activity"
	"github.com/txn2/room-engine/pkg/admin"
	"github.com/txn2/room-engine/pkg/config"
	"github.com/txn2/room-engine/pkg/database"
	"github.com/txn2/room-engine/pkg/health"
	"github.com/txn2/room-engine/pkg/lifecycle"
	"github.com/txn2/room-engine/pkg/plugin"
	"github.com/txn2/room-engine/pkg/protocol"
	"github.com/txn2/room-engine/pkg/router"
	"github.com/txn2/room-engine/pkg/session"
	"github.com/txn2/room-engine/pkg/store"
	"github.com/txn2/room-engine/pkg/store/memory"
	"github.com/txn2/room-engine/pkg/store/sqlstore"
	"github.com/txn2/room-engine/pkg/transport"
)

// Build information, set at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

// Server is a fully wired engine.
type Server struct {
	cfg       *config.Config
	health    *health.Checker
	store     store.Store
	table     *session.Table
	registry  *plugin.Registry
	router    *router.Router
	transport *transport.Client
	manager   *lifecycle.Manager
	lifecycle *lifecycle.Lifecycle
	handler   http.Handler
}

// New builds every component from cfg. recent may be nil.
func New(ctx context.Context, cfg *config.Config, recent *activity.Log) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	auth, err := authMiddleware(cfg.Server)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       cfg,
		health:    health.NewChecker(),
		table:     session.NewTable(),
		registry:  plugin.NewRegistry(),
		lifecycle: lifecycle.New(),
	}

	st, err := openStore(ctx, cfg.Database, s.health)
	if err != nil {
		return nil, err
	}
	s.store = st

	n := s.registry.RegisterAll(builtins(cfg.Plugins)...)
	slog.Info("plugins registered", activity.KindKey, activity.KindSystem,
		"count", n, "triggers", s.registry.Triggers())

	s.transport = transport.New(transport.Config{
		URL:            cfg.Bot.URL,
		DialTimeout:    cfg.Transport.DialTimeout,
		WriteTimeout:   cfg.Transport.WriteTimeout,
		PingInterval:   cfg.Transport.PingInterval,
		PingTimeout:    cfg.Transport.PingTimeout,
		ReconnectDelay: cfg.Transport.ReconnectDelay,
	}, s.dispatch)

	s.router = router.New(s.table, s.registry, s.store, s.transport, router.Config{
		RateLimit:      cfg.Router.RateLimit,
		RateLimitScope: cfg.Router.RateLimitScope,
		HandlerTimeout: cfg.Router.HandlerTimeout,
	})

	s.manager = lifecycle.NewManager(s.table, s.store, s.transport, s.router, lifecycle.ManagerConfig{
		IdleTimeout:      cfg.Sessions.IdleTimeout,
		SweepInterval:    cfg.Sessions.SweepInterval,
		SnapshotInterval: cfg.Snapshot.Interval,
		SnapshotKey:      cfg.Snapshot.Key,
		NotifyOnEvict:    cfg.NotifyOnEvict(),
	})

	s.handler = admin.NewHandler(admin.Deps{
		Connector: &connector{Client: s.transport, router: s.router},
		Sessions:  s.table,
		Plugins:   s.registry,
		Health:    s.health,
		Activity:  recent,
	}, auth)

	s.lifecycle.RegisterCloser("store", s.store)
	s.lifecycle.Append("sessions", s.restore, s.manager.SnapshotOnce)
	s.lifecycle.Append("transport", s.autoConnect, func(context.Context) error {
		s.transport.Disconnect()
		return nil
	})

	return s, nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, checker *health.Checker) (store.Store, error) {
	var inner store.Store
	switch cfg.Driver {
	case config.DriverMemory:
		slog.Warn("using in-memory store, scores are lost on restart")
		inner = memory.New()
	default:
		dialect, err := sqlstore.DialectFor(cfg.Driver)
		if err != nil {
			return nil, err
		}
		db, err := database.Open(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		inner = sqlstore.New(db, dialect, cfg.MaxIdleConns)
	}
	return store.NewResilient(inner, checker, cfg.Timeout), nil
}

// authMiddleware protects the API when API keys or a JWT secret are
// configured. It returns nil when the API is open.
func authMiddleware(cfg config.ServerConfig) (func(http.Handler) http.Handler, error) {
	var auths []admin.Authenticator
	if len(cfg.APIKeys) > 0 {
		auths = append(auths, admin.NewAPIKeyAuthenticator(cfg.APIKeys))
	}
	if cfg.JWTSecret != "" {
		j, err := admin.NewJWTAuthenticator(cfg.JWTIssuer, []byte(cfg.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("configuring jwt auth: %w", err)
		}
		auths = append(auths, j)
	}
	if len(auths) == 0 {
		slog.Warn("control plane API is unauthenticated")
		return nil, nil
	}
	return admin.RequireOperator(admin.NewChainedAuthenticator(auths...)), nil
}

// restore loads the last snapshot. Failures start the table empty.
func (s *Server) restore(ctx context.Context) error {
	if _, err := s.manager.Restore(ctx); err != nil {
		slog.Warn("snapshot restore failed, starting cold", activity.KindKey, activity.KindError, "error", err)
	}
	return nil
}

func (s *Server) autoConnect(ctx context.Context) error {
	bot := s.cfg.Bot
	if bot.Username == "" {
		slog.Info("no bot account configured, waiting for connect request")
		return nil
	}
	c := &connector{Client: s.transport, router: s.router}
	return c.Connect(ctx, transport.Credentials{
		Username: bot.Username,
		Password: bot.Password,
		Rooms:    bot.Rooms,
	})
}

func (s *Server) dispatch(ctx context.Context, ev protocol.Event) {
	outcome := s.router.Dispatch(ctx, ev)
	slog.Debug("event dispatched", "room", ev.Room, "user", ev.From, "outcome", outcome)
}

// Handler returns the control plane HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run starts the engine and blocks until ctx is cancelled or a component
// fails, then shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.lifecycle.Start(ctx); err != nil {
		return err
	}
	s.health.SetReady()
	slog.Info("engine started", activity.KindKey, activity.KindSystem,
		"version", Version, "address", s.cfg.Server.Address)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.serveHTTP(gctx) })
	g.Go(func() error { return s.manager.RunEviction(gctx) })
	g.Go(func() error { return s.manager.RunSnapshots(gctx) })
	runErr := g.Wait()

	s.health.SetDraining()
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	stopErr := s.lifecycle.Stop(stopCtx)

	slog.Info("engine stopped", activity.KindKey, activity.KindSystem)
	return errors.Join(runErr, stopErr)
}

func (s *Server) serveHTTP(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Address, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()
	slog.Info("control plane listening", "address", ln.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving http: %w", err)
	}
}

// connector records the bot's own name on the router before connecting so
// the bot never answers itself.
type connector struct {
	*transport.Client
	router *router.Router
}

func (c *connector) Connect(ctx context.Context, creds transport.Credentials) error {
	c.router.SetSelf(creds.Username)
	return c.Client.Connect(ctx, creds)
}
