package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"workerlink/transport"
)

// DefaultKillGrace is how long Close waits for the worker to exit on its own.
const DefaultKillGrace = 2 * time.Second

// SpawnError means the worker could not be started. It is the only failure
// that aborts startup.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("spawning worker: %v", e.Err)
	}
	return fmt.Sprintf("spawning worker %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// WorkerHandle owns a running worker and the transport to it.
type WorkerHandle struct {
	t     transport.Transport
	close func() error

	done chan struct{}
	mu   sync.Mutex
	err  error

	closeOnce sync.Once
	closeErr  error
}

func newHandle(t transport.Transport) *WorkerHandle {
	return &WorkerHandle{t: t, done: make(chan struct{})}
}

// Transport is borrowed by the RPC channel; the handle stays its owner.
func (h *WorkerHandle) Transport() transport.Transport { return h.t }

// Done is closed when the worker has exited.
func (h *WorkerHandle) Done() <-chan struct{} { return h.done }

// Err is the worker's exit error, valid after Done.
func (h *WorkerHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *WorkerHandle) exited(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

// Close releases the transport and makes sure the worker is gone.
func (h *WorkerHandle) Close() error {
	h.closeOnce.Do(func() { h.closeErr = h.close() })
	return h.closeErr
}

// Spawner starts a worker with the given environment snapshot.
type Spawner interface {
	Spawn(ctx context.Context, env []string) (*WorkerHandle, error)
}

// ProcessSpawner runs the worker as a child process speaking framed messages
// over its stdin and stdout. Stderr is read line by line into the logger.
type ProcessSpawner struct {
	Candidate Candidate
	Dir       string
	Log       zerolog.Logger
	Heartbeat time.Duration
	KillGrace time.Duration
}

func (s *ProcessSpawner) Spawn(ctx context.Context, env []string) (*WorkerHandle, error) {
	log := s.Log.With().Str("component", "supervisor").Str("worker", s.Candidate.Path).Logger()

	// os.Pipe rather than StdoutPipe: Wait would close the read end under
	// recvLoop and lose the last response.
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Path: s.Candidate.Path, Err: err}
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW)
		return nil, &SpawnError{Path: s.Candidate.Path, Err: err}
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW)
		return nil, &SpawnError{Path: s.Candidate.Path, Err: err}
	}

	cmd := exec.Command(s.Candidate.Path, s.Candidate.Args...)
	cmd.Env = env
	cmd.Dir = s.Dir
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	if err := cmd.Start(); err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW, stderrR, stderrW)
		return nil, &SpawnError{Path: s.Candidate.Path, Err: err}
	}
	// The child holds its own copies now.
	closeAll(stdinR, stdoutW, stderrW)

	var opts []transport.StreamOption
	if s.Heartbeat > 0 {
		opts = append(opts, transport.WithHeartbeat(s.Heartbeat))
	}
	stream := transport.NewStream(stdoutR, stdinW, append(opts, transport.WithClosers(stdinW))...)
	h := newHandle(stream)

	go drainStderr(stderrR, log)
	go func() {
		err := cmd.Wait()
		if err != nil {
			log.Warn().Err(err).Msg("Worker exited")
		} else {
			log.Debug().Msg("Worker exited")
		}
		h.exited(err)
	}()

	grace := s.KillGrace
	if grace <= 0 {
		grace = DefaultKillGrace
	}
	h.close = func() error {
		// Closing stdin is the worker's cue to exit.
		err := stream.Close()
		select {
		case <-h.done:
		case <-time.After(grace):
			log.Warn().Dur("grace", grace).Msg("Worker did not exit, killing it")
			if killErr := cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
				err = errors.Join(err, killErr)
			}
			<-h.done
		}
		return errors.Join(err, stdoutR.Close())
	}
	log.Info().Int("pid", cmd.Process.Pid).Msg("Worker started")
	return h, nil
}

// drainStderr forwards the worker's log lines. JSON lines (zerolog output)
// keep their level and are embedded as-is.
func drainStderr(r io.ReadCloser, log zerolog.Logger) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			log.Info().Str("line", string(line)).Msg("Worker stderr")
			continue
		}
		var head struct {
			Level string `json:"level"`
		}
		_ = json.Unmarshal(line, &head)
		level, err := zerolog.ParseLevel(head.Level)
		if err != nil || head.Level == "" {
			level = zerolog.InfoLevel
		}
		log.WithLevel(level).RawJSON("entry", line).Msg("Worker log")
	}
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// InProcessSpawner runs the worker on a goroutine over an in-memory pipe.
// The environment snapshot does not apply; the worker shares the process.
type InProcessSpawner struct {
	Run       func(ctx context.Context, t transport.Transport) error
	KillGrace time.Duration
}

func (s *InProcessSpawner) Spawn(ctx context.Context, _ []string) (*WorkerHandle, error) {
	if s.Run == nil {
		return nil, &SpawnError{Err: errors.New("no in-process worker")}
	}
	frontEnd, back := transport.Pipe()
	runCtx, cancel := context.WithCancel(context.Background())
	h := newHandle(frontEnd)

	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("worker panicked: %v", r)
			}
			_ = back.Close()
			h.exited(err)
		}()
		err = s.Run(runCtx, back)
	}()

	grace := s.KillGrace
	if grace <= 0 {
		grace = DefaultKillGrace
	}
	h.close = func() error {
		err := frontEnd.Close()
		select {
		case <-h.done:
		case <-time.After(grace):
		}
		cancel()
		return err
	}
	return h, nil
}
