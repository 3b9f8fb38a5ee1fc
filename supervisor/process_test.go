package supervisor

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workerlink/client"
	"workerlink/message"
	"workerlink/transport"
	"workerlink/worker"
)

const helperEnv = "GO_WANT_WORKERLINK_HELPER"

// TestHelperWorker is not a real test: the process tests re-exec the test
// binary with helperEnv set, and this function then runs a worker on stdio.
func TestHelperWorker(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	w := worker.New(worker.WithLogger(log), worker.WithVersion(os.Getenv("WORKERLINK_HELPER_VERSION")))
	err := w.Run(context.Background(), transport.NewStream(os.Stdin, os.Stdout))
	if err != nil {
		log.Error().Err(err).Msg("helper worker failed")
		os.Exit(1)
	}
	os.Exit(0)
}

func helperSpawner(log zerolog.Logger) *ProcessSpawner {
	return &ProcessSpawner{
		Candidate: Candidate{Name: "helper", Path: os.Args[0], Args: []string{"-test.run=^TestHelperWorker$"}},
		Log:       log,
		Heartbeat: 50 * time.Millisecond,
	}
}

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestChildProcessWorker(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a child process")
	}
	logs := &syncBuffer{}
	s := New(Options{
		Spawner:         helperSpawner(zerolog.New(logs)),
		Env:             []string{helperEnv + "=1", "WORKERLINK_HELPER_VERSION=7.0.0"},
		UpgradeDisabled: true,
		Log:             zerolog.New(logs),
	})
	ep, err := s.Start(context.Background())
	require.NoError(t, err)

	c := client.New(ep)
	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "7.0.0", h.Version, "environment snapshot reaches the child")

	events := make(chan message.Event, 1)
	defer ep.Events.On(func(evt message.Event) { events <- evt })()
	require.NoError(t, c.Notify(context.Background(), message.Event{Type: "status.changed"}))
	select {
	case evt := <-events:
		assert.Equal(t, "status.changed", evt.Type)
	case <-time.After(3 * time.Second):
		t.Fatal("event not delivered from child")
	}

	require.NoError(t, s.Reload(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, Terminated, s.State())

	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()
	select {
	case <-handle.Done():
		assert.NoError(t, handle.Err(), "worker exits cleanly after shutdown")
	case <-time.After(5 * time.Second):
		t.Fatal("child still running")
	}
	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), `"message":"Worker log"`)
	}, 2*time.Second, 20*time.Millisecond, "child stderr is drained into the log")
}

func TestDrainStderr(t *testing.T) {
	logs := &syncBuffer{}
	input := `{"level":"warn","message":"disk almost full"}` + "\n" +
		"\n" +
		"plain text line\n"
	drainStderr(io.NopCloser(strings.NewReader(input)), zerolog.New(logs))

	out := logs.String()
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"entry":{"level":"warn","message":"disk almost full"}`)
	assert.Contains(t, out, `"line":"plain text line"`)
	assert.Equal(t, 2, strings.Count(out, "\n"))
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	packaged := filepath.Join(dir, WorkerBinary)
	require.NoError(t, os.WriteFile(packaged, []byte("#!/bin/sh\n"), 0o755))

	got, err := Resolve([]Candidate{
		{Name: "injected", Path: filepath.Join(dir, "missing")},
		{Name: "directory", Path: dir},
		{Name: "packaged", Path: packaged},
		{Name: "development", Path: os.Args[0], Args: []string{WorkerCommand}},
	})
	require.NoError(t, err)
	assert.Equal(t, "packaged", got.Name)

	_, err = Resolve([]Candidate{{Name: "injected", Path: filepath.Join(dir, "missing")}})
	require.ErrorIs(t, err, ErrWorkerNotFound)
	assert.Contains(t, err.Error(), "injected=")
}

func TestDefaultCandidatesOrder(t *testing.T) {
	got := DefaultCandidates("/etc/worker", "/opt/worker")
	require.Len(t, got, 4)
	assert.Equal(t, []string{"configured", "injected", "packaged", "development"},
		[]string{got[0].Name, got[1].Name, got[2].Name, got[3].Name})
	assert.Equal(t, []string{WorkerCommand}, got[3].Args)

	got = DefaultCandidates("", "")
	require.Len(t, got, 2)
	assert.Equal(t, "packaged", got[0].Name)
}

func TestEnviron(t *testing.T) {
	got := Environ(
		[]string{"PATH=/bin", "HOME=/root", "BROKEN", "=C:", "EMPTY="},
		[]string{"HOME=/home/me", "NEW=1", "nope"},
	)
	assert.Equal(t, []string{"PATH=/bin", "HOME=/home/me", "EMPTY=", "NEW=1"}, got)
}
