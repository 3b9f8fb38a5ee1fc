// Package transport moves RPCMessage envelopes between the front end and the worker.
//
// A Transport is a duplex, message-oriented link. It knows nothing about
// correlation ids or events; that is the job of package rpc, which runs a
// single reader over a Transport and any number of concurrent writers.
//
//	front end ──Send──┐                    ┌──Send── worker
//	                  ├──► Transport ◄────┤
//	rpc recvLoop ◄─Recv┘                   └─Recv──► rpc recvLoop
//
// Two implementations exist:
//   - Pipe:   in-process message passing over Go channels (worker runs in a goroutine).
//   - Stream: framed bytes over any reader/writer pair (worker is a child process).
package transport

import (
	"errors"

	"workerlink/message"
)

// ErrClosed is returned by Send and Recv once either end of the link is closed.
var ErrClosed = errors.New("transport closed")

// Transport is a duplex message link. Send may be called from many goroutines;
// Recv must only be called from one. Messages passed to Send must not be
// modified afterwards.
type Transport interface {
	Send(msg *message.RPCMessage) error
	Recv() (*message.RPCMessage, error)
	Close() error
}
