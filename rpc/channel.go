// Package rpc implements the correlation-based channel that carries calls,
// responses and push events between the front end and the worker.
//
// One goroutine (recvLoop) owns reads from the transport. Calls register a
// pending entry keyed by a fresh correlation id before they are written, and
// recvLoop routes each response back to the caller that owns the id:
//
//	caller-1 ──Call(id=a)──┐
//	caller-2 ──Call(id=b)──┼──► Transport ──► worker
//	On("event", h) ◄───────┘
//
//	recvLoop: ◄── response(id=b) → pending[b] → caller-2 wakes
//	          ◄── event("event") → h(payload), in arrival order
//
// When the transport fails, every pending call is rejected with
// ErrChannelClosed, so no caller waits forever.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"workerlink/message"
	"workerlink/transport"
)

var (
	// ErrChannelClosed rejects calls once the underlying transport is gone.
	ErrChannelClosed = errors.New("rpc channel closed")
	// ErrMethodNotFound is reported to the peer for calls nobody handles.
	ErrMethodNotFound = errors.New("method not found")
)

// Caller is the call half of a Channel. FetchBridge and the supervisor depend
// on this rather than on *Channel.
type Caller interface {
	Call(ctx context.Context, method string, payload any, out any) error
}

// EventHandler receives the raw payload of a push event.
type EventHandler func(payload json.RawMessage)

// Dispatcher serves calls arriving from the peer. The returned message's ID
// and Kind are overwritten by the channel.
type Dispatcher interface {
	Dispatch(ctx context.Context, call *message.RPCMessage) *message.RPCMessage
}

type result struct {
	payload json.RawMessage
	err     error
}

type subscription struct {
	id uint64
	fn EventHandler
}

// Channel multiplexes calls and events over a Transport. It borrows the
// transport: closing the transport is the owner's job, and ends the channel.
type Channel struct {
	t          transport.Transport
	log        zerolog.Logger
	dispatcher Dispatcher
	newID      func() string

	mu       sync.Mutex
	pending  map[string]chan result
	closed   bool
	closeErr error

	subsMu sync.RWMutex
	subs   map[string][]subscription
	subSeq uint64

	incoming int           // Incoming calls not yet answered, guarded by mu
	idle     chan struct{} // Closed while incoming == 0

	ctx    context.Context // Parent of incoming call handlers, cancelled on close
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the channel logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Channel) { c.log = log.With().Str("component", "rpc").Logger() }
}

// WithDispatcher serves calls initiated by the peer.
func WithDispatcher(d Dispatcher) Option {
	return func(c *Channel) { c.dispatcher = d }
}

// WithIDGenerator replaces the correlation id source (uuid v4 by default).
func WithIDGenerator(fn func() string) Option {
	return func(c *Channel) { c.newID = fn }
}

// New binds a channel to t and starts reading from it.
func New(t transport.Transport, opts ...Option) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	c := &Channel{
		t:       t,
		log:     zerolog.Nop(),
		newID:   uuid.NewString,
		pending: make(map[string]chan result),
		subs:    make(map[string][]subscription),
		idle:    idle,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.recvLoop()
	return c
}

// Call sends method with payload and waits for the matching response,
// decoding its result into out (which may be nil). The channel never times a
// call out on its own; a caller that wants a deadline puts it on ctx.
//
// A CallError returned by the peer is surfaced as *message.CallError.
func (c *Channel) Call(ctx context.Context, method string, payload any, out any) error {
	id, ch, err := c.register()
	if err != nil {
		return err
	}

	msg, err := message.NewCall(id, method, payload)
	if err != nil {
		c.forget(id)
		return err
	}
	if err := c.t.Send(msg); err != nil {
		c.forget(id)
		if errors.Is(err, transport.ErrClosed) {
			return c.closedError()
		}
		return fmt.Errorf("sending %s: %w", method, err)
	}

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	}
	if res.err != nil {
		return res.err
	}
	if out == nil || len(res.payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.payload, out); err != nil {
		return fmt.Errorf("decoding %s result: %w", method, err)
	}
	return nil
}

// register reserves an id that is not in flight and records its pending entry.
func (c *Channel) register() (string, chan result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", nil, c.closedErrorLocked()
	}
	id := c.newID()
	for {
		if _, busy := c.pending[id]; !busy {
			break
		}
		id = c.newID()
	}
	ch := make(chan result, 1) // Buffered so recvLoop never blocks on a caller
	c.pending[id] = ch
	return id, ch, nil
}

func (c *Channel) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Emit pushes an event on the named channel to the peer.
func (c *Channel) Emit(channel string, payload any) error {
	msg, err := message.NewEvent(channel, payload)
	if err != nil {
		return err
	}
	if err := c.t.Send(msg); err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return c.closedError()
		}
		return err
	}
	return nil
}

// On registers handler for events on channel and returns its unsubscribe
// function. Handlers run on the receive goroutine, in registration order, so
// a slow handler delays delivery to the ones after it.
func (c *Channel) On(channel string, handler EventHandler) (unsubscribe func()) {
	c.subsMu.Lock()
	c.subSeq++
	id := c.subSeq
	c.subs[channel] = append(c.subs[channel], subscription{id: id, fn: handler})
	c.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subsMu.Lock()
			defer c.subsMu.Unlock()
			list := c.subs[channel]
			for i, s := range list {
				if s.id == id {
					c.subs[channel] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			if len(c.subs[channel]) == 0 {
				delete(c.subs, channel)
			}
		})
	}
}

// Done is closed once the transport has failed or been closed.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Err returns the transport error that ended the channel, or nil while open.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Pending returns the number of calls waiting for a response.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Channel) recvLoop() {
	for {
		msg, err := c.t.Recv()
		if err != nil {
			c.closeAllPending(err)
			return
		}
		switch msg.Kind {
		case message.KindResponse:
			c.resolve(msg)
		case message.KindEvent:
			c.deliver(msg.Channel, msg.Payload)
		case message.KindCall:
			c.serve(msg)
		default:
			c.log.Warn().Stringer("kind", msg.Kind).Msg("Dropping message of unknown kind")
		}
	}
}

func (c *Channel) resolve(msg *message.RPCMessage) {
	c.mu.Lock()
	ch, ok := c.pending[msg.ID]
	delete(c.pending, msg.ID)
	c.mu.Unlock()
	if !ok {
		c.log.Debug().Str("id", msg.ID).Msg("Response for unknown or abandoned call")
		return
	}
	if msg.Error != nil {
		ch <- result{err: msg.Error}
		return
	}
	ch <- result{payload: msg.Payload}
}

func (c *Channel) deliver(channel string, payload json.RawMessage) {
	c.subsMu.RLock()
	handlers := append([]subscription(nil), c.subs[channel]...)
	c.subsMu.RUnlock()

	for _, s := range handlers {
		c.invokeHandler(channel, s.fn, payload)
	}
}

func (c *Channel) invokeHandler(channel string, fn EventHandler, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Str("channel", channel).Interface("panic", r).Msg("Event handler panicked")
		}
	}()
	fn(payload)
}

// serve runs an incoming call on its own goroutine so a slow handler never
// stalls responses or events behind it.
func (c *Channel) serve(call *message.RPCMessage) {
	if c.dispatcher == nil {
		c.reply(message.NewFailure(call.ID, message.NewCallError(message.ErrKindMethodNotFound, "%s: %s", ErrMethodNotFound, call.Method)))
		return
	}
	c.beginIncoming()
	go func() {
		defer c.endIncoming()
		var resp *message.RPCMessage
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error().Str("method", call.Method).Interface("panic", r).Msg("Call handler panicked")
					resp = message.NewFailure(call.ID, message.NewCallError(message.ErrKindInternal, "handler panicked: %v", r))
				}
			}()
			resp = c.dispatcher.Dispatch(c.ctx, call)
		}()
		if resp == nil {
			resp = &message.RPCMessage{}
		}
		resp.Kind = message.KindResponse
		resp.ID = call.ID
		c.reply(resp)
	}()
}

func (c *Channel) beginIncoming() {
	c.mu.Lock()
	if c.incoming == 0 {
		c.idle = make(chan struct{})
	}
	c.incoming++
	c.mu.Unlock()
}

func (c *Channel) endIncoming() {
	c.mu.Lock()
	c.incoming--
	if c.incoming == 0 {
		close(c.idle)
	}
	c.mu.Unlock()
}

// WaitIdle blocks until every incoming call has been answered, including the
// write of its response, or ctx ends.
func (c *Channel) WaitIdle(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reply sends resp. A response the transport refuses (too large, not
// encodable) is replaced by an internal failure so the peer's call still
// resolves.
func (c *Channel) reply(resp *message.RPCMessage) {
	err := c.t.Send(resp)
	if err == nil {
		return
	}
	if errors.Is(err, transport.ErrClosed) {
		c.log.Debug().Err(err).Str("id", resp.ID).Msg("Transport closed before response")
		return
	}
	c.log.Warn().Err(err).Str("id", resp.ID).Msg("Failed to send response, sending failure instead")
	failure := message.NewFailure(resp.ID, message.NewCallError(message.ErrKindInternal, "sending response: %v", err))
	if err := c.t.Send(failure); err != nil {
		c.log.Error().Err(err).Str("id", resp.ID).Msg("Failed to send failure response")
	}
}

// closeAllPending rejects every waiting caller. Runs once, when recvLoop exits.
func (c *Channel) closeAllPending(cause error) {
	c.mu.Lock()
	c.closed = true
	c.closeErr = cause
	pending := c.pending
	c.pending = make(map[string]chan result)
	err := c.closedErrorLocked()
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- result{err: err}
	}
	if len(pending) > 0 {
		c.log.Warn().Err(cause).Int("pending", len(pending)).Msg("Transport closed with calls in flight")
	} else {
		c.log.Debug().Err(cause).Msg("Transport closed")
	}
	c.cancel()
	close(c.done)
}

func (c *Channel) closedError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closedErrorLocked()
}

func (c *Channel) closedErrorLocked() error {
	if c.closeErr == nil || errors.Is(c.closeErr, transport.ErrClosed) {
		return ErrChannelClosed
	}
	return fmt.Errorf("%w: %w", ErrChannelClosed, c.closeErr)
}
