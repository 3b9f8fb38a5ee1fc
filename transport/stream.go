package transport

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"workerlink/codec"
	"workerlink/message"
	"workerlink/protocol"
)

// Stream frames envelopes over a byte stream, e.g. a child's stdin/stdout.
type Stream struct {
	r       io.Reader
	w       io.Writer
	closers []io.Closer
	codec   codec.Codec
	writeMu sync.Mutex // Whole frames only; interleaved writes corrupt the stream

	heartbeat time.Duration
	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithCodec selects the body encoding. Defaults to JSON.
func WithCodec(t codec.CodecType) StreamOption {
	return func(s *Stream) { s.codec = codec.GetCodec(t) }
}

// WithHeartbeat sends an empty heartbeat frame every interval so a dead peer
// surfaces as a write error instead of a silent hang.
func WithHeartbeat(interval time.Duration) StreamOption {
	return func(s *Stream) { s.heartbeat = interval }
}

// WithClosers registers resources released by Close, typically the pipe ends.
func WithClosers(closers ...io.Closer) StreamOption {
	return func(s *Stream) { s.closers = append(s.closers, closers...) }
}

// NewStream creates a Stream reading frames from r and writing frames to w.
func NewStream(r io.Reader, w io.Writer, opts ...StreamOption) *Stream {
	s := &Stream{
		r:     r,
		w:     w,
		codec: &codec.JSONCodec{},
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.heartbeat > 0 {
		go s.heartbeatLoop(s.heartbeat)
	}
	return s
}

func (s *Stream) Send(msg *message.RPCMessage) error {
	if s.closed.Load() {
		return ErrClosed
	}
	body, err := s.codec.Encode(msg)
	if err != nil {
		return err
	}
	header := protocol.Header{
		CodecType: byte(s.codec.Type()),
		MsgType:   protocol.MsgTypeMessage,
		BodyLen:   uint32(len(body)),
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := protocol.Encode(s.w, &header, body); err != nil {
		return s.mapErr(err)
	}
	return nil
}

// Recv reads the next envelope, skipping heartbeats. Each frame is decoded
// with the codec named in its own header.
func (s *Stream) Recv() (*message.RPCMessage, error) {
	for {
		header, body, err := protocol.Decode(s.r)
		if err != nil {
			return nil, s.mapErr(err)
		}
		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}
		var msg message.RPCMessage
		if err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, &msg); err != nil {
			return nil, err
		}
		return &msg, nil
	}
}

func (s *Stream) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		for _, c := range s.closers {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

func (s *Stream) mapErr(err error) error {
	if s.closed.Load() || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return errors.Join(ErrClosed, err)
	}
	return err
}

func (s *Stream) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}
		s.writeMu.Lock()
		err := protocol.Encode(s.w, &protocol.Header{MsgType: protocol.MsgTypeHeartbeat}, nil)
		s.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}
