// Package server turns registered method handlers into an rpc.Dispatcher.
//
// Call processing pipeline:
//
//	rpc.Channel recvLoop → go Dispatch (one goroutine per call)
//	  → shutdown check → Middleware Chain → method handler → response back on the channel
package server

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"workerlink/message"
	"workerlink/middleware"
	"workerlink/rpc"
	"workerlink/transport"
)

// Server holds the worker's method table and serves it on one or more channels.
type Server struct {
	mu          sync.RWMutex
	methods     methodTable             // "fetch" → handler
	middlewares []middleware.Middleware // Applied in the order they were added
	handler     middleware.HandlerFunc  // middleware(middleware(...(route))), built on first use
	buildOnce   sync.Once

	channels []*rpc.Channel // Channels bound by Serve, drained on Shutdown
	shutdown atomic.Bool    // Once set, new calls are answered with unavailable
	log      zerolog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) { s.log = log.With().Str("component", "server").Logger() }
}

// NewServer creates a server with an empty method table.
func NewServer(opts ...Option) *Server {
	s := &Server{
		methods: make(methodTable),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register installs h for method, replacing any previous handler.
func (s *Server) Register(method string, h middleware.HandlerFunc) {
	s.mu.Lock()
	s.methods[method] = h
	s.mu.Unlock()
}

// Methods lists the registered method names in sorted order.
func (s *Server) Methods() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.methods.names()
}

// Use registers a middleware. Middlewares must be added before the first call.
func (s *Server) Use(mw middleware.Middleware) {
	s.mu.Lock()
	s.middlewares = append(s.middlewares, mw)
	s.mu.Unlock()
}

// Serve binds a new channel to t with this server as its dispatcher.
func (s *Server) Serve(t transport.Transport, opts ...rpc.Option) *rpc.Channel {
	opts = append(opts, rpc.WithDispatcher(s))
	ch := rpc.New(t, opts...)
	s.mu.Lock()
	s.channels = append(s.channels, ch)
	s.mu.Unlock()
	return ch
}

// Dispatch implements rpc.Dispatcher.
func (s *Server) Dispatch(ctx context.Context, call *message.RPCMessage) *message.RPCMessage {
	if s.shutdown.Load() {
		return message.NewFailure("", message.NewCallError(message.ErrKindUnavailable, "worker is shutting down"))
	}
	return s.chain()(ctx, call)
}

func (s *Server) chain() middleware.HandlerFunc {
	s.buildOnce.Do(func() {
		s.mu.RLock()
		mws := append([]middleware.Middleware(nil), s.middlewares...)
		s.mu.RUnlock()
		// Chain(A, B, C)(route) → A(B(C(route)))
		s.handler = middleware.Chain(mws...)(s.route)
	})
	return s.handler
}

func (s *Server) route(ctx context.Context, call *message.RPCMessage) *message.RPCMessage {
	s.mu.RLock()
	h, ok := s.methods[call.Method]
	s.mu.RUnlock()
	if !ok {
		return unknownMethod(call.Method)
	}
	return h(ctx, call)
}

// Shutdown stops accepting new calls and waits, up to timeout, until every
// bound channel has answered the calls already in flight.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.shutdown.Store(true)

	s.mu.RLock()
	channels := append([]*rpc.Channel(nil), s.channels...)
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, ch := range channels {
		if err := ch.WaitIdle(ctx); err != nil {
			return fmt.Errorf("timeout waiting for ongoing calls to finish: %w", err)
		}
	}
	return nil
}
