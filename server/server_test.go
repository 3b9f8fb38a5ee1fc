package server

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workerlink/message"
	"workerlink/middleware"
	"workerlink/rpc"
	"workerlink/transport"
)

// connect serves s on one end of a pipe and returns a caller on the other.
func connect(t *testing.T, s *Server) *rpc.Channel {
	t.Helper()
	front, back := transport.Pipe()
	t.Cleanup(func() { _ = front.Close() })
	s.Serve(back)
	return rpc.New(front)
}

func TestServeTypedMethod(t *testing.T) {
	s := NewServer()
	Handle(s, message.MethodServer, func(ctx context.Context, opts message.NetworkOptions) (message.ServerInfo, error) {
		return message.ServerInfo{URL: "http://" + opts.Hostname + ":4096"}, nil
	})
	client := connect(t, s)

	info, err := rpc.Invoke(context.Background(), client, message.MethodServer, message.NetworkOptions{Hostname: "0.0.0.0"})
	require.NoError(t, err)
	assert.Equal(t, "http://0.0.0.0:4096", info.URL)
	assert.Equal(t, []string{"server"}, s.Methods())
}

func TestUnknownMethod(t *testing.T) {
	client := connect(t, NewServer())

	err := client.Call(context.Background(), "nope", nil, nil)
	var ce *message.CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, message.ErrKindMethodNotFound, ce.Kind)
	assert.Contains(t, ce.Message, "nope")
}

func TestBadPayloadSkipsHandler(t *testing.T) {
	s := NewServer()
	called := false
	Handle(s, message.MethodServer, func(ctx context.Context, opts message.NetworkOptions) (message.ServerInfo, error) {
		called = true
		return message.ServerInfo{}, nil
	})
	client := connect(t, s)

	err := client.Call(context.Background(), "server", json.RawMessage(`{"port":"not a number"}`), nil)
	var ce *message.CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, message.ErrKindBadPayload, ce.Kind)
	assert.False(t, called)
}

func TestHandlerErrorsKeepTheirKind(t *testing.T) {
	s := NewServer()
	Handle(s, message.MethodReload, func(ctx context.Context, _ message.Empty) (message.Empty, error) {
		return message.Empty{}, errors.New("boom")
	})
	Handle(s, message.MethodShutdown, func(ctx context.Context, _ message.Empty) (message.Empty, error) {
		return message.Empty{}, message.NewCallError(message.ErrKindUnavailable, "busy")
	})
	client := connect(t, s)

	_, err := rpc.Invoke(context.Background(), client, message.MethodReload, message.Empty{})
	var ce *message.CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, message.ErrKindInternal, ce.Kind)
	assert.Equal(t, "boom", ce.Message)

	_, err = rpc.Invoke(context.Background(), client, message.MethodShutdown, message.Empty{})
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, message.ErrKindUnavailable, ce.Kind)
}

func TestMiddlewareWrapsHandlers(t *testing.T) {
	s := NewServer()
	var seen []string
	s.Use(func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, call *message.RPCMessage) *message.RPCMessage {
			seen = append(seen, call.Method)
			return next(ctx, call)
		}
	})
	Handle(s, message.MethodReload, func(ctx context.Context, _ message.Empty) (message.Empty, error) {
		return message.Empty{}, nil
	})
	client := connect(t, s)

	_, err := rpc.Invoke(context.Background(), client, message.MethodReload, message.Empty{})
	require.NoError(t, err)
	_ = client.Call(context.Background(), "missing", nil, nil)
	assert.Equal(t, []string{"reload", "missing"}, seen)
}

func TestShutdownWaitsForInFlightCalls(t *testing.T) {
	s := NewServer()
	started := make(chan struct{})
	release := make(chan struct{})
	Handle(s, message.MethodReload, func(ctx context.Context, _ message.Empty) (message.Empty, error) {
		close(started)
		<-release
		return message.Empty{}, nil
	})
	client := connect(t, s)

	callErr := make(chan error, 1)
	go func() {
		_, err := rpc.Invoke(context.Background(), client, message.MethodReload, message.Empty{})
		callErr <- err
	}()
	<-started

	shutdownErr := make(chan error, 1)
	go func() { shutdownErr <- s.Shutdown(2 * time.Second) }()

	// New calls are refused while the old one drains.
	require.Eventually(t, func() bool {
		err := client.Call(context.Background(), "reload", nil, nil)
		var ce *message.CallError
		return errors.As(err, &ce) && ce.Kind == message.ErrKindUnavailable
	}, time.Second, 10*time.Millisecond)

	select {
	case err := <-shutdownErr:
		t.Fatalf("shutdown returned before the call finished: %v", err)
	default:
	}

	close(release)
	require.NoError(t, <-callErr)
	require.NoError(t, <-shutdownErr)
}

func TestShutdownTimesOut(t *testing.T) {
	s := NewServer()
	started := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	Handle(s, message.MethodReload, func(ctx context.Context, _ message.Empty) (message.Empty, error) {
		close(started)
		<-release
		return message.Empty{}, nil
	})
	client := connect(t, s)

	go func() { _, _ = rpc.Invoke(context.Background(), client, message.MethodReload, message.Empty{}) }()
	<-started

	err := s.Shutdown(50 * time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
