package transport

import (
	"sync"

	"workerlink/message"
)

const pipeBufferSize = 64

// pipeLink is shared by both ends; closing either end closes the link.
type pipeLink struct {
	once sync.Once
	done chan struct{}
}

func (l *pipeLink) close() {
	l.once.Do(func() { close(l.done) })
}

// PipeEnd is one side of an in-process Pipe.
type PipeEnd struct {
	link *pipeLink
	in   chan *message.RPCMessage
	out  chan *message.RPCMessage
}

// Pipe returns two connected ends. Whatever one end sends, the other receives,
// in order.
func Pipe() (*PipeEnd, *PipeEnd) {
	link := &pipeLink{done: make(chan struct{})}
	aToB := make(chan *message.RPCMessage, pipeBufferSize)
	bToA := make(chan *message.RPCMessage, pipeBufferSize)
	return &PipeEnd{link: link, in: bToA, out: aToB},
		&PipeEnd{link: link, in: aToB, out: bToA}
}

func (p *PipeEnd) Send(msg *message.RPCMessage) error {
	select {
	case <-p.link.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- msg:
		return nil
	case <-p.link.done:
		return ErrClosed
	}
}

// Recv returns the next message. Messages queued before the link closed are
// still delivered.
func (p *PipeEnd) Recv() (*message.RPCMessage, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	default:
	}
	select {
	case msg := <-p.in:
		return msg, nil
	case <-p.link.done:
		select {
		case msg := <-p.in:
			return msg, nil
		default:
			return nil, ErrClosed
		}
	}
}

func (p *PipeEnd) Close() error {
	p.link.close()
	return nil
}
