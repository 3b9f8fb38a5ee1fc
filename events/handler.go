package events

import (
	"encoding/json"
	"fmt"
	"net/http"

	"workerlink/message"
	"workerlink/pubsub"
)

// NewHandler serves broker's events as a text/event-stream, one JSON event
// per data line. The subscription is taken before the response headers are
// sent, so a client that has seen the headers sees every later event.
func NewHandler(broker *pubsub.Broker[message.Event]) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		sub := broker.Subscribe(r.Context())

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, ": connected\n\n")
		flusher.Flush()

		for evt := range sub {
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	})
}
