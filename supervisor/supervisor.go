// Package supervisor owns the worker's lifecycle on the front-end side:
//
//	Spawning ──► Connected ──► Direct | Server ──► ShuttingDown ──► Terminated
//	                 │                                   ▲
//	                 └──────────── Stop ─────────────────┘
//
// Start spawns the worker, binds an RPC channel to it and hands back an
// Endpoint shaped for the selected mode. Reload is triggered by SIGUSR2 or a
// config file change. Stop sends shutdown exactly once and waits for it.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"workerlink/client"
	"workerlink/events"
	"workerlink/fetch"
	"workerlink/message"
	"workerlink/mode"
	"workerlink/rpc"
	"workerlink/watcher"
)

const (
	// DefaultUpgradeDelay postpones the version check past startup.
	DefaultUpgradeDelay = time.Second
	// UpgradeTimeout bounds the background version check.
	UpgradeTimeout = 30 * time.Second
)

// State is a supervisor lifecycle state.
type State int32

const (
	Spawning State = iota
	Connected
	Direct
	Server
	ShuttingDown
	Terminated
)

func (s State) String() string {
	switch s {
	case Spawning:
		return "spawning"
	case Connected:
		return "connected"
	case Direct:
		return "direct"
	case Server:
		return "server"
	case ShuttingDown:
		return "shutting_down"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ErrNotRunning is returned by Reload outside the Direct and Server states.
var ErrNotRunning = errors.New("worker is not running")

// Options configures a Supervisor.
type Options struct {
	Spawner Spawner
	// Flags and Network feed mode selection.
	Flags   mode.Flags
	Network message.NetworkOptions
	// Env is layered over the parent environment for the worker.
	Env []string
	// Directory is reported to the worker's version check.
	Directory       string
	UpgradeDelay    time.Duration
	UpgradeDisabled bool
	// HandleSignals installs the reload signal handler for the supervisor's lifetime.
	HandleSignals bool
	// WatchPath, when set, reloads the worker after each change to that file.
	WatchPath string
	Log       zerolog.Logger
}

// Supervisor drives one worker.
type Supervisor struct {
	opts Options
	log  zerolog.Logger

	mu       sync.Mutex
	state    State
	started  bool
	handle   *WorkerHandle
	ch       *rpc.Channel
	mode     mode.Mode
	endpoint client.Endpoint

	sigCh   chan os.Signal
	watcher *watcher.Watcher
	upgrade *time.Timer

	ctx    context.Context // Parent of background calls, cancelled by Stop
	cancel context.CancelFunc
	quit   chan struct{}
	bg     sync.WaitGroup

	stopOnce   sync.Once
	stopErr    error
	termOnce   sync.Once
	terminated chan struct{}

	connected func() // Called once the channel is up, before materialization
}

// New returns a supervisor in the Spawning state. Nothing runs until Start.
func New(opts Options) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		opts:       opts,
		log:        opts.Log.With().Str("component", "supervisor").Logger(),
		sigCh:      make(chan os.Signal, 1),
		ctx:        ctx,
		cancel:     cancel,
		quit:       make(chan struct{}),
		terminated: make(chan struct{}),
	}
}

// Start spawns the worker and materializes the selected mode. A *SpawnError
// means no worker is running; any other error comes after the worker was
// stopped again.
func (s *Supervisor) Start(ctx context.Context) (client.Endpoint, error) {
	s.mu.Lock()
	if s.started || s.state >= ShuttingDown {
		s.mu.Unlock()
		return client.Endpoint{}, errors.New("supervisor already started")
	}
	s.started = true
	s.mu.Unlock()

	if s.opts.Spawner == nil {
		s.terminate()
		return client.Endpoint{}, &SpawnError{Err: errors.New("no spawner configured")}
	}

	env := Environ(os.Environ(), s.opts.Env)
	handle, err := s.opts.Spawner.Spawn(ctx, env)
	if err != nil {
		s.terminate()
		var spawnErr *SpawnError
		if !errors.As(err, &spawnErr) {
			err = &SpawnError{Err: err}
		}
		return client.Endpoint{}, err
	}

	ch := rpc.New(handle.Transport(), rpc.WithLogger(s.opts.Log))
	s.mu.Lock()
	if s.state >= ShuttingDown {
		s.mu.Unlock()
		_ = handle.Close()
		return client.Endpoint{}, errors.New("supervisor stopped during start")
	}
	s.handle = handle
	s.ch = ch
	s.state = Connected
	s.mu.Unlock()
	s.goBackground("monitor", s.monitor)
	if s.connected != nil {
		s.connected()
	}

	m := mode.Select(s.opts.Flags, s.opts.Network)
	var ep client.Endpoint
	switch m {
	case mode.Server:
		info, err := rpc.Invoke(ctx, ch, message.MethodServer, s.opts.Network)
		if err != nil {
			s.log.Error().Err(err).Msg("Worker could not start its server")
			_ = s.Stop(ctx)
			return client.Endpoint{}, fmt.Errorf("starting server mode: %w", err)
		}
		ep = client.Endpoint{URL: info.URL}
	default:
		ep = client.Endpoint{
			URL:    client.PlaceholderURL,
			Fetch:  fetch.NewBridge(ch),
			Events: events.NewBridge(ch),
		}
	}

	s.mu.Lock()
	if s.state >= ShuttingDown {
		s.mu.Unlock()
		return client.Endpoint{}, errors.New("supervisor stopped during start")
	}
	s.mode = m
	s.endpoint = ep
	if m == mode.Server {
		s.state = Server
	} else {
		s.state = Direct
	}
	s.mu.Unlock()
	s.log.Info().Stringer("mode", m).Str("url", ep.URL).Msg("Worker connected")

	s.startReloadTriggers()
	s.scheduleUpgradeCheck()
	return ep, nil
}

// startReloadTriggers subscribes under mu so a concurrent stop either sees
// the subscription or finds nothing to undo.
func (s *Supervisor) startReloadTriggers() {
	s.mu.Lock()
	if s.state >= ShuttingDown {
		s.mu.Unlock()
		return
	}
	if s.opts.HandleSignals {
		if sigs := reloadSignals(); len(sigs) > 0 {
			signal.Notify(s.sigCh, sigs...)
		}
	}
	s.mu.Unlock()
	s.goBackground("signals", s.signalLoop)

	if s.opts.WatchPath == "" {
		return
	}
	w, err := watcher.New(s.opts.WatchPath, 0, s.opts.Log)
	if err != nil {
		s.log.Warn().Err(err).Msg("Config watcher unavailable")
		return
	}
	changes, err := w.Start()
	if err != nil {
		_ = w.Stop()
		s.log.Warn().Err(err).Str("path", s.opts.WatchPath).Msg("Config watcher unavailable")
		return
	}
	s.mu.Lock()
	if s.state >= ShuttingDown {
		s.mu.Unlock()
		_ = w.Stop()
		return
	}
	s.watcher = w
	s.mu.Unlock()
	s.goBackground("watcher", func() {
		for {
			select {
			case <-s.quit:
				return
			case <-changes:
				s.log.Info().Str("path", s.opts.WatchPath).Msg("Config changed, reloading worker")
				s.reloadAsync()
			}
		}
	})
}

func (s *Supervisor) signalLoop() {
	for {
		select {
		case <-s.quit:
			return
		case sig := <-s.sigCh:
			s.log.Info().Stringer("signal", sig).Msg("Reload requested")
			s.reloadAsync()
		}
	}
}

func (s *Supervisor) reloadAsync() {
	s.goBackground("reload", func() {
		if err := s.Reload(s.ctx); err != nil {
			s.log.Warn().Err(err).Msg("Reload failed")
		}
	})
}

func (s *Supervisor) scheduleUpgradeCheck() {
	if s.opts.UpgradeDisabled {
		return
	}
	delay := s.opts.UpgradeDelay
	if delay <= 0 {
		delay = DefaultUpgradeDelay
	}
	t := time.AfterFunc(delay, func() {
		s.goBackground("upgrade", s.checkUpgrade)
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state >= ShuttingDown {
		t.Stop()
		return
	}
	s.upgrade = t
}

// checkUpgrade is best effort: failures are logged at debug and dropped.
func (s *Supervisor) checkUpgrade() {
	ctx, cancel := context.WithTimeout(s.ctx, UpgradeTimeout)
	defer cancel()
	_, err := rpc.Invoke(ctx, s.ch, message.MethodCheckUpgrade, message.UpgradeRequest{Directory: s.opts.Directory})
	if err != nil {
		s.log.Debug().Err(err).Msg("Version check failed")
	}
}

// monitor logs transport loss. It never stops the supervisor.
func (s *Supervisor) monitor() {
	select {
	case <-s.quit:
	case <-s.ch.Done():
		if s.State() < ShuttingDown {
			s.log.Error().Err(s.ch.Err()).Msg("Lost connection to worker")
		}
	}
}

// Reload asks the worker to reload. The worker owns what that means; the
// process is not restarted.
func (s *Supervisor) Reload(ctx context.Context) error {
	s.mu.Lock()
	state, ch := s.state, s.ch
	s.mu.Unlock()
	if state != Direct && state != Server {
		return fmt.Errorf("%w (state %s)", ErrNotRunning, state)
	}
	_, err := rpc.Invoke(ctx, ch, message.MethodReload, message.Empty{})
	return err
}

// Stop sends shutdown once, waits for its acknowledgement, then releases the
// worker. Concurrent and repeated calls wait for the first and return its result.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { s.stopErr = s.stop(ctx) })
	<-s.terminated
	return s.stopErr
}

func (s *Supervisor) stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Terminated {
		s.mu.Unlock()
		return nil
	}
	s.state = ShuttingDown
	handle, ch, w, upgrade := s.handle, s.ch, s.watcher, s.upgrade
	s.mu.Unlock()

	signal.Stop(s.sigCh)
	close(s.quit)
	if w != nil {
		_ = w.Stop()
	}
	if upgrade != nil {
		upgrade.Stop()
	}

	var err error
	if ch != nil {
		_, err = rpc.Invoke(ctx, ch, message.MethodShutdown, message.Empty{})
		switch {
		case err == nil:
			s.log.Info().Msg("Worker acknowledged shutdown")
		case errors.Is(err, rpc.ErrChannelClosed):
			s.log.Warn().Err(err).Msg("Worker was already gone at shutdown")
			err = nil
		default:
			s.log.Error().Err(err).Msg("Shutdown call failed")
			err = fmt.Errorf("shutting down worker: %w", err)
		}
	}
	s.cancel()
	if handle != nil {
		if closeErr := handle.Close(); closeErr != nil {
			s.log.Debug().Err(closeErr).Msg("Closing worker handle")
		}
	}
	s.bg.Wait()

	s.terminate()
	return err
}

// terminate enters Terminated and releases waiters. Start and stop may both
// get here.
func (s *Supervisor) terminate() {
	s.setState(Terminated)
	s.termOnce.Do(func() { close(s.terminated) })
}

// goBackground runs fn on a tracked goroutine unless shutdown has begun.
// Panics are logged, never fatal.
func (s *Supervisor) goBackground(name string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state >= ShuttingDown {
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().Str("task", name).Interface("panic", r).Msg("Background task panicked")
			}
		}()
		fn()
	}()
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Mode returns the mode chosen at Start.
func (s *Supervisor) Mode() mode.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Endpoint returns what Start returned.
func (s *Supervisor) Endpoint() client.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

// Disconnected is closed when the transport to the worker ends, for whatever
// reason. It is nil before Start has connected.
func (s *Supervisor) Disconnected() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		return nil
	}
	return s.ch.Done()
}

// Terminated is closed once Stop has finished.
func (s *Supervisor) Terminated() <-chan struct{} {
	return s.terminated
}
