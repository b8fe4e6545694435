// Package server implements the authoritative synchronization server for
// board sessions: it admits connections, fans client operations into the
// transformer, and fans resolved operations back out to board members.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/haasonsaas/boardsync/internal/auth"
	"github.com/haasonsaas/boardsync/internal/config"
	"github.com/haasonsaas/boardsync/internal/hub"
	"github.com/haasonsaas/boardsync/internal/observability"
	"github.com/haasonsaas/boardsync/internal/ratelimit"
	"github.com/haasonsaas/boardsync/internal/transform"
	"github.com/robfig/cron/v3"
)

// Server is the per-process synchronization authority. Version assignment
// happens in exactly one place per board: the transformer owned here.
type Server struct {
	config      *config.Config
	logger      *slog.Logger
	metrics     *observability.Metrics
	tracer      *observability.Tracer
	sessions    *auth.Manager
	limiters    *ratelimit.Set
	transformer *transform.Transformer
	store       transform.Store
	hub         *hub.Hub

	httpServer   *http.Server
	httpListener net.Listener
	cron         *cron.Cron
	tracerStop   func(context.Context) error

	mu     sync.Mutex
	conns  map[string]*wsConn
	seeded map[string]bool
}

// New wires a server from configuration. Every store and registry is owned
// by the returned instance; nothing lives in package-level state.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	var store transform.Store
	if cfg.Storage.OperationLog != "" {
		sqliteStore, err := transform.NewSQLiteStore(cfg.Storage.OperationLog)
		if err != nil {
			return nil, fmt.Errorf("open operation log: %w", err)
		}
		store = sqliteStore
	} else {
		store = transform.NewMemoryStore()
	}

	tracer, tracerStop := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "boardsync",
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		EnableInsecure: cfg.Observability.Tracing.EnableInsecure,
	})

	metrics := observability.NewMetrics()
	h := hub.New()
	h.OnDrop(func() { metrics.DroppedFramesTotal.Inc() })

	transformer := transform.New(logger)
	transformer.OnDegrade(func() { metrics.DegradedOpsTotal.Inc() })

	s := &Server{
		config:      cfg,
		logger:      logger.With("component", "server"),
		metrics:     metrics,
		tracer:      tracer,
		tracerStop:  tracerStop,
		sessions:    auth.NewManager(cfg.AuthManagerConfig(), logger),
		limiters:    cfg.LimiterSet(),
		transformer: transformer,
		store:       store,
		hub:         h,
		conns:       map[string]*wsConn{},
		seeded:      map[string]bool{},
	}
	return s, nil
}

// Sessions exposes the session manager, e.g. for seeding test credentials.
func (s *Server) Sessions() *auth.Manager {
	return s.sessions
}

// Start binds the HTTP listener and launches the janitor. It returns once
// the server is accepting connections.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.HTTPPort)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.httpListener = listener

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.startJanitor()

	s.logger.Info("sync server listening", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound listen address, useful when port 0 was configured.
func (s *Server) Addr() string {
	if s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// Shutdown stops accepting connections, closes live channel connections, and
// flushes the tracer.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cron != nil {
		s.cron.Stop()
	}

	s.mu.Lock()
	conns := make([]*wsConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.shutdown()
	}

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	if closeErr := s.store.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if s.tracerStop != nil {
		if stopErr := s.tracerStop(ctx); stopErr != nil && err == nil {
			err = stopErr
		}
	}
	return err
}

// seedBoard loads a board's persisted operations into the in-memory history
// the first time the board is touched after startup.
func (s *Server) seedBoard(ctx context.Context, boardID string) {
	s.mu.Lock()
	done := s.seeded[boardID]
	s.seeded[boardID] = true
	s.mu.Unlock()
	if done {
		return
	}

	ops, err := s.store.ListOperations(ctx, boardID, 0)
	if err != nil {
		s.logger.Warn("seed board history", "board_id", boardID, "error", err)
		return
	}
	if len(ops) > 0 {
		s.transformer.Seed(boardID, ops)
		s.logger.Info("seeded board history", "board_id", boardID, "operations", len(ops))
	}
}

func (s *Server) registerConn(c *wsConn) {
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
	s.metrics.ActiveConnections.Inc()
}

func (s *Server) unregisterConn(c *wsConn) {
	s.mu.Lock()
	_, ok := s.conns[c.id]
	delete(s.conns, c.id)
	s.mu.Unlock()
	if ok {
		s.metrics.ActiveConnections.Dec()
	}
}

// minKnownVersion returns the lowest board version any live connection on
// the board still depends on, and whether the board has such connections.
func (s *Server) minKnownVersion(boardID string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	min := int64(0)
	found := false
	for _, c := range s.conns {
		if c.boardID() != boardID {
			continue
		}
		v := c.knownVersion.Load()
		if !found || v < min {
			min = v
			found = true
		}
	}
	return min, found
}
