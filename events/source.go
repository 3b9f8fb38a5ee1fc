// Package events exposes worker-originated events through one subscription
// shape, whichever mode the worker runs in.
//
// In direct mode Bridge reads them off the RPC channel's "event" stream; in
// server mode SSE reads the worker's /event endpoint. Both deliver to each
// handler in arrival order, synchronously, without buffering: a handler that
// needs to do slow work hands it off itself.
package events

import (
	"sync"

	"github.com/rs/zerolog"

	"workerlink/message"
)

// Handler receives one event.
type Handler func(message.Event)

// Source is what front-end call sites subscribe to.
type Source interface {
	On(h Handler) (unsubscribe func())
}

// fanout is an ordered handler list with idempotent removal.
type fanout struct {
	mu       sync.RWMutex
	seq      uint64
	handlers []entry
	log      zerolog.Logger
}

type entry struct {
	id uint64
	h  Handler
}

func (f *fanout) add(h Handler) func() {
	f.mu.Lock()
	f.seq++
	id := f.seq
	f.handlers = append(f.handlers, entry{id: id, h: h})
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			for i, e := range f.handlers {
				if e.id == id {
					f.handlers = append(f.handlers[:i:i], f.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

func (f *fanout) deliver(evt message.Event) {
	f.mu.RLock()
	handlers := f.handlers
	f.mu.RUnlock()
	for _, e := range handlers {
		f.invoke(e.h, evt)
	}
}

func (f *fanout) invoke(h Handler, evt message.Event) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Error().Str("type", evt.Type).Interface("panic", r).Msg("Event handler panicked")
		}
	}()
	h(evt)
}

func (f *fanout) len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.handlers)
}
