// Package worker is the backend half of the process pair. It serves the RPC
// method surface on a channel and, on request, a real HTTP listener.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"workerlink/config"
	"workerlink/events"
	"workerlink/fetch"
	"workerlink/message"
	"workerlink/middleware"
	"workerlink/pubsub"
	"workerlink/registry"
	"workerlink/rpc"
	"workerlink/server"
	"workerlink/transport"
)

// Event types published by the worker itself.
const (
	EventReloaded        = "worker.reloaded"
	EventUpdateAvailable = "installation.update-available"
)

// DrainTimeout bounds how long Run waits for in-flight calls after shutdown.
const DrainTimeout = 5 * time.Second

// UpgradeChecker returns a newer version, or "" when the running one is current.
type UpgradeChecker interface {
	Check(ctx context.Context) (string, error)
}

// Worker implements fetch, server, reload, shutdown and checkUpgrade.
type Worker struct {
	srv      *server.Server
	handler  http.Handler
	broker   *pubsub.Broker[message.Event]
	log      zerolog.Logger
	version  string
	dir      string
	tracer   trace.Tracer
	limits   config.LimitsConfig
	reg      registry.Registry
	ttl      int64
	checker  UpgradeChecker
	onReload func(ctx context.Context) error

	mu      sync.Mutex
	channel *rpc.Channel
	httpSrv *http.Server
	url     string
	listed  bool // url is advertised in reg

	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures a Worker.
type Option func(*Worker)

func WithLogger(log zerolog.Logger) Option {
	return func(w *Worker) { w.log = log.With().Str("component", "worker").Logger() }
}

// WithHandler sets the application handler served by fetch and by the HTTP
// listener. It defaults to NewAppHandler.
func WithHandler(h http.Handler) Option {
	return func(w *Worker) { w.handler = h }
}

func WithVersion(v string) Option {
	return func(w *Worker) { w.version = v }
}

// WithDirectory sets the project directory advertised with the server URL.
func WithDirectory(dir string) Option {
	return func(w *Worker) { w.dir = dir }
}

func WithTracer(t trace.Tracer) Option {
	return func(w *Worker) { w.tracer = t }
}

// WithLimits applies rate limiting and a per-call timeout to served calls.
func WithLimits(l config.LimitsConfig) Option {
	return func(w *Worker) { w.limits = l }
}

// WithRegistry advertises the server-mode URL in reg, with a ttl in seconds,
// when mdns is requested.
func WithRegistry(reg registry.Registry, ttl int64) Option {
	return func(w *Worker) {
		w.reg = reg
		w.ttl = ttl
	}
}

func WithUpgradeChecker(c UpgradeChecker) Option {
	return func(w *Worker) { w.checker = c }
}

// WithReloadHook runs fn for every reload call.
func WithReloadHook(fn func(ctx context.Context) error) Option {
	return func(w *Worker) { w.onReload = fn }
}

// New builds a worker. Middlewares run in the order
// Logging → Tracing → Timeout → RateLimit → Recover → method. shutdown is
// exempt from the call timeout and bounded by DrainTimeout instead.
func New(opts ...Option) *Worker {
	w := &Worker{
		broker:  pubsub.NewBroker[message.Event](256),
		log:     zerolog.Nop(),
		version: "dev",
		ttl:     10,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.handler == nil {
		w.handler = NewAppHandler(w)
	}

	w.srv = server.NewServer(server.WithLogger(w.log))
	w.srv.Use(middleware.Chain(
		middleware.Logging(w.log),
		middleware.Tracing(w.tracer),
		middleware.Except(middleware.Timeout(w.limits.Timeout), message.MethodShutdown.Name),
		middleware.RateLimit(w.limits.Rate, w.limits.Burst),
		middleware.Recover(w.log),
	))

	server.Handle(w.srv, message.MethodFetch, w.fetch)
	server.Handle(w.srv, message.MethodServer, w.server)
	server.Handle(w.srv, message.MethodReload, w.reload)
	server.Handle(w.srv, message.MethodShutdown, w.shutdown)
	server.Handle(w.srv, message.MethodCheckUpgrade, w.checkUpgrade)
	return w
}

// Version returns the version the worker reports.
func (w *Worker) Version() string {
	return w.version
}

// Publish sends evt to the front end over the channel and to every SSE client.
func (w *Worker) Publish(evt message.Event) {
	w.mu.Lock()
	ch := w.channel
	w.mu.Unlock()
	if ch != nil {
		if err := ch.Emit(message.EventChannel, evt); err != nil && !errors.Is(err, rpc.ErrChannelClosed) {
			w.log.Warn().Err(err).Str("type", evt.Type).Msg("Failed to emit event")
		}
	}
	w.broker.Publish(evt)
}

// Run serves calls arriving on t until a shutdown call, the loss of t, or
// the end of ctx. It does not close t. A shutdown call returns nil; losing
// the transport returns the channel's error.
func (w *Worker) Run(ctx context.Context, t transport.Transport) error {
	ch := w.srv.Serve(t, rpc.WithLogger(w.log))
	w.mu.Lock()
	w.channel = ch
	w.mu.Unlock()
	w.log.Info().Str("version", w.version).Msg("Worker started")

	var runErr error
	select {
	case <-w.stop:
		w.log.Info().Msg("Shutdown requested")
	case <-ch.Done():
		runErr = fmt.Errorf("front end went away: %w", ch.Err())
		w.log.Warn().Err(ch.Err()).Msg("Transport closed, exiting")
	case <-ctx.Done():
		runErr = ctx.Err()
	}

	if err := w.srv.Shutdown(DrainTimeout); err != nil {
		w.log.Warn().Err(err).Msg("Calls still running at exit")
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), DrainTimeout)
	defer cancel()
	w.closeHTTP(drainCtx)
	w.broker.Close()
	return runErr
}

func (w *Worker) fetch(ctx context.Context, req message.SerializedHTTPRequest) (message.SerializedHTTPResponse, error) {
	return fetch.Serve(ctx, w.handler, req)
}

// server binds the HTTP listener once; later calls return the same URL.
// Advertising runs without holding mu.
func (w *Worker) server(ctx context.Context, opts message.NetworkOptions) (message.ServerInfo, error) {
	srv, url, err := w.listen(opts)
	if err != nil || srv == nil {
		return message.ServerInfo{URL: url}, err
	}
	if opts.MDNS && w.reg != nil {
		w.advertise(ctx, srv, registry.Instance{URL: url, Version: w.version, Hostname: listenHost(opts), Directory: w.dir})
	}
	return message.ServerInfo{URL: url}, nil
}

func listenHost(opts message.NetworkOptions) string {
	if opts.Hostname == "" {
		return message.DefaultHostname
	}
	return opts.Hostname
}

// listen starts the HTTP server. It returns a nil server when one was
// already running.
func (w *Worker) listen(opts message.NetworkOptions) (*http.Server, string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.url != "" {
		return nil, w.url, nil
	}

	hostname := listenHost(opts)
	ln, err := net.Listen("tcp", net.JoinHostPort(hostname, strconv.Itoa(opts.Port)))
	if err != nil {
		return nil, "", message.NewCallError(message.ErrKindUnavailable, "listening on %s:%d: %v", hostname, opts.Port, err)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /event", events.NewHandler(w.broker))
	mux.Handle("/", w.handler)
	w.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.log.Error().Err(err).Msg("HTTP server stopped")
		}
	}(w.httpSrv)

	port := ln.Addr().(*net.TCPAddr).Port
	w.url = "http://" + net.JoinHostPort(hostname, strconv.Itoa(port))
	w.log.Info().Str("url", w.url).Msg("HTTP server listening")
	return w.httpSrv, w.url, nil
}

// advertise registers inst. If srv was closed while registering, the entry
// is withdrawn again.
func (w *Worker) advertise(ctx context.Context, srv *http.Server, inst registry.Instance) {
	if err := w.reg.Register(ctx, registry.ServiceName, inst, w.ttl); err != nil {
		w.log.Warn().Err(err).Str("url", inst.URL).Msg("Failed to advertise server")
		return
	}
	w.mu.Lock()
	closed := w.httpSrv != srv
	if !closed {
		w.listed = true
	}
	w.mu.Unlock()
	if closed {
		if err := w.reg.Deregister(context.WithoutCancel(ctx), registry.ServiceName, inst.URL); err != nil {
			w.log.Warn().Err(err).Str("url", inst.URL).Msg("Failed to deregister server")
		}
	}
}

func (w *Worker) reload(ctx context.Context, _ message.Empty) (message.Empty, error) {
	if w.onReload != nil {
		if err := w.onReload(ctx); err != nil {
			return message.Empty{}, fmt.Errorf("reload: %w", err)
		}
	}
	w.log.Info().Msg("Reloaded")
	w.Publish(message.Event{Type: EventReloaded})
	return message.Empty{}, nil
}

// shutdown stops the HTTP listener and lets Run return once this call has
// been answered.
func (w *Worker) shutdown(ctx context.Context, _ message.Empty) (message.Empty, error) {
	ctx, cancel := context.WithTimeout(ctx, DrainTimeout)
	defer cancel()
	w.closeHTTP(ctx)
	w.stopOnce.Do(func() { close(w.stop) })
	return message.Empty{}, nil
}

func (w *Worker) checkUpgrade(ctx context.Context, req message.UpgradeRequest) (message.Empty, error) {
	if w.checker == nil {
		return message.Empty{}, nil
	}
	version, err := w.checker.Check(ctx)
	if err != nil {
		return message.Empty{}, message.NewCallError(message.ErrKindUnavailable, "checking for upgrade: %v", err)
	}
	if version == "" {
		w.log.Debug().Str("version", w.version).Msg("Up to date")
		return message.Empty{}, nil
	}
	w.log.Info().Str("current", w.version).Str("latest", version).Msg("Update available")
	w.Publish(message.Event{
		Type:       EventUpdateAvailable,
		Properties: map[string]any{"version": version, "directory": req.Directory},
	})
	return message.Empty{}, nil
}

// closeHTTP deregisters and stops the listener, if one was started. Idempotent.
func (w *Worker) closeHTTP(ctx context.Context) {
	w.mu.Lock()
	srv, url, listed := w.httpSrv, w.url, w.listed
	w.httpSrv = nil
	w.listed = false
	w.mu.Unlock()

	if listed {
		if err := w.reg.Deregister(ctx, registry.ServiceName, url); err != nil {
			w.log.Warn().Err(err).Str("url", url).Msg("Failed to deregister server")
		}
	}
	if srv == nil {
		return
	}
	// SSE streams never finish on their own, so Shutdown would wait out ctx.
	w.broker.Close()
	if err := srv.Shutdown(ctx); err != nil {
		w.log.Debug().Err(err).Msg("HTTP shutdown interrupted, closing")
		_ = srv.Close()
	}
}
