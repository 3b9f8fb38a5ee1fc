// Package client is what the front end holds once the supervisor has started
// a worker: a URL, a way to fetch it and a source of push events. The triple
// looks the same in both modes, so call sites never ask which one is active.
package client

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"workerlink/events"
)

// PlaceholderURL stands in for a server URL in direct mode. It is never
// resolved; Endpoint.Fetch answers every request sent to it.
const PlaceholderURL = "http://workerlink.internal"

// Endpoint is the mode-dependent consumer interface.
//
//	direct:  URL = PlaceholderURL, Fetch = fetch.Bridge,  Events = events.Bridge
//	server:  URL = bound URL,      Fetch = nil (network), Events = nil (SSE on demand)
type Endpoint struct {
	URL    string
	Fetch  http.RoundTripper
	Events events.Source
}

// Direct reports whether the endpoint is mediated by the RPC channel.
func (e Endpoint) Direct() bool {
	return e.URL == PlaceholderURL
}

// HTTPClient returns a client that reaches the worker. Requests should be
// built against e.URL.
func (e Endpoint) HTTPClient() *http.Client {
	if e.Fetch == nil {
		return &http.Client{}
	}
	return &http.Client{Transport: e.Fetch}
}

// EventSource returns e.Events when set. Otherwise it connects an SSE source
// to e.URL's /event stream that runs until ctx ends.
func (e Endpoint) EventSource(ctx context.Context, log zerolog.Logger) events.Source {
	if e.Events != nil {
		return e.Events
	}
	src := events.NewSSE(strings.TrimRight(e.URL, "/")+"/event", events.WithSSELogger(log))
	go func() {
		_ = src.Run(ctx)
	}()
	return src
}
