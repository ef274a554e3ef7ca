// Package http serves relay conversations over HTTP, streaming turns as
// server-sent events.
package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/fwojciec/relay"
	"github.com/fwojciec/relay/agent"
	"github.com/fwojciec/relay/telemetry"
)

// Adapters builds the adapter serving a model.
type Adapters interface {
	Create(model string) (relay.Adapter, error)
	Resolve(model string) (relay.Vendor, relay.Mode, error)
}

// Conversations loads stored conversations in key order.
type Conversations interface {
	Load(ctx context.Context, conversationID string) ([]relay.Event, string, error)
}

// Config holds the dependencies of a Server.
type Config struct {
	Adapters      Adapters
	Conversations Conversations
	Loop          *agent.Loop
	Tools         []relay.Tool
	Workspace     relay.Workspace
	DefaultModel  string
	Logger        zerolog.Logger
	// ServiceName names the server spans; empty disables HTTP tracing.
	ServiceName string
}

// Server is the relay HTTP API.
type Server struct {
	cfg    Config
	router chi.Router

	// turns serializes turns per conversation. Entries live while a turn
	// holds or waits for them.
	turns *haxmap.Map[string, *turnLock]
}

type turnLock struct {
	mu sync.Mutex
	// refs counts holders and waiters; -1 marks an entry being removed.
	refs atomic.Int64
}

// NewServer creates a Server and mounts its routes.
func NewServer(cfg Config) *Server {
	s := &Server{
		cfg:   cfg,
		turns: haxmap.New[string, *turnLock](),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestID(cfg.Logger))
	r.Use(AccessLog)
	if cfg.ServiceName != "" {
		r.Use(telemetry.HTTPMiddleware(cfg.ServiceName))
	}

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Post("/conversations/{id}/messages", s.handleMessage)
		r.Get("/conversations/{id}/events", s.handleEvents)
		r.Get("/conversations/{id}/export", s.handleExport)
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down,
// waiting up to shutdownTimeout for running turns.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		s.cfg.Logger.Info().Str("addr", addr).Msg("http server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// lockConversation blocks until no other turn of id runs and returns the
// unlock func.
func (s *Server) lockConversation(id string) func() {
	var l *turnLock
	for l == nil {
		e, _ := s.turns.GetOrSet(id, &turnLock{})
		n := e.refs.Load()
		switch {
		case n < 0:
			runtime.Gosched()
		case e.refs.CompareAndSwap(n, n+1):
			l = e
		}
	}
	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.release(id, l)
	}
}

// release drops one reference, removing the entry with the last one.
func (s *Server) release(id string, l *turnLock) {
	for {
		n := l.refs.Load()
		if n == 1 {
			if l.refs.CompareAndSwap(1, -1) {
				s.turns.Del(id)
				return
			}
			continue
		}
		if l.refs.CompareAndSwap(n, n-1) {
			return
		}
	}
}
