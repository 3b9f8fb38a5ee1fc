package events

import (
	"workerlink/message"
	"workerlink/rpc"
)

// Bridge is the direct-mode Source: a thin adapter over the channel's
// "event" stream.
type Bridge struct {
	ch *rpc.Channel
}

// NewBridge returns a Source backed by ch.
func NewBridge(ch *rpc.Channel) *Bridge {
	return &Bridge{ch: ch}
}

// On registers h for every event emitted after this call.
func (b *Bridge) On(h Handler) (unsubscribe func()) {
	return rpc.Subscribe(b.ch, message.EventChannel, func(evt message.Event) { h(evt) })
}
