package events

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workerlink/message"
	"workerlink/pubsub"
	"workerlink/rpc"
	"workerlink/transport"
)

func collect(src Source, n int) (<-chan message.Event, func()) {
	out := make(chan message.Event, n)
	unsub := src.On(func(evt message.Event) { out <- evt })
	return out, unsub
}

func next(t *testing.T, ch <-chan message.Event) message.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return message.Event{}
	}
}

func TestBridgeDeliversInEmissionOrder(t *testing.T) {
	front, back := transport.Pipe()
	t.Cleanup(func() { _ = front.Close() })
	worker := rpc.New(back)
	src := NewBridge(rpc.New(front))

	got, unsub := collect(src, 10)
	defer unsub()

	for _, typ := range []string{"session.updated", "tool.called", "session.idle"} {
		require.NoError(t, worker.Emit(message.EventChannel, message.Event{Type: typ}))
	}

	assert.Equal(t, "session.updated", next(t, got).Type)
	assert.Equal(t, "tool.called", next(t, got).Type)
	assert.Equal(t, "session.idle", next(t, got).Type)
}

func TestBridgeUnsubscribe(t *testing.T) {
	front, back := transport.Pipe()
	t.Cleanup(func() { _ = front.Close() })
	worker := rpc.New(back)
	src := NewBridge(rpc.New(front))

	first, unsubFirst := collect(src, 10)
	second, unsubSecond := collect(src, 10)
	defer unsubSecond()

	require.NoError(t, worker.Emit(message.EventChannel, message.Event{Type: "a"}))
	assert.Equal(t, "a", next(t, first).Type)
	assert.Equal(t, "a", next(t, second).Type)

	unsubFirst()
	unsubFirst()
	require.NoError(t, worker.Emit(message.EventChannel, message.Event{Type: "b"}))
	assert.Equal(t, "b", next(t, second).Type)
	assert.Empty(t, first)
}

func TestReadParsesDataBlocks(t *testing.T) {
	s := NewSSE("http://unused")
	got, unsub := collect(s, 10)
	defer unsub()

	stream := strings.Join([]string{
		": connected",
		"",
		`data: {"type":"one","properties":{"n":1}}`,
		"",
		"event: ignored",
		`data: {"type":`,
		`data: "two"}`,
		"",
		"data: not json",
		"",
		`data: {"type":"three"}`,
		"",
	}, "\n")

	err := s.read(strings.NewReader(stream))
	assert.ErrorIs(t, err, io.EOF)

	evt := next(t, got)
	assert.Equal(t, "one", evt.Type)
	assert.Equal(t, float64(1), evt.Properties["n"])
	assert.Equal(t, "two", next(t, got).Type)
	assert.Equal(t, "three", next(t, got).Type)
	assert.Empty(t, got)
}

func TestSSEOverHandler(t *testing.T) {
	broker := pubsub.NewBroker[message.Event](0)
	srv := httptest.NewServer(NewHandler(broker))
	defer srv.Close()
	defer broker.Close()

	s := NewSSE(srv.URL, WithRetry(10*time.Millisecond))
	got, unsub := collect(s, 10)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return broker.SubscriberCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	broker.Publish(message.Event{Type: "installation.update-available", Properties: map[string]any{"version": "1.2.0"}})
	broker.Publish(message.Event{Type: "session.idle"})

	evt := next(t, got)
	assert.Equal(t, "installation.update-available", evt.Type)
	assert.Equal(t, "1.2.0", evt.Properties["version"])
	assert.Equal(t, "session.idle", next(t, got).Type)

	cancel()
	assert.ErrorIs(t, <-runErr, context.Canceled)
}

func TestStreamRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no events here", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewSSE(srv.URL).stream(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "no events here")
}

func TestPanickingHandlerDoesNotStopOthers(t *testing.T) {
	s := NewSSE("http://unused")
	s.On(func(message.Event) { panic("boom") })
	got, unsub := collect(s, 1)
	defer unsub()

	s.fan.deliver(message.Event{Type: "x"})
	assert.Equal(t, "x", next(t, got).Type)
	assert.Equal(t, 2, s.fan.len())
}
