package events

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"workerlink/message"
)

const defaultRetry = time.Second

// SSE is the server-mode Source. It reads a text/event-stream whose data
// lines carry JSON-encoded events and keeps reconnecting until Run's context ends.
type SSE struct {
	url    string
	client *http.Client
	retry  time.Duration
	log    zerolog.Logger
	fan    fanout
}

// SSEOption configures an SSE source.
type SSEOption func(*SSE)

// WithHTTPClient sets the client used for the stream. It must not have a
// response timeout, since the stream stays open.
func WithHTTPClient(c *http.Client) SSEOption {
	return func(s *SSE) { s.client = c }
}

// WithRetry sets the delay between reconnect attempts.
func WithRetry(d time.Duration) SSEOption {
	return func(s *SSE) { s.retry = d }
}

// WithSSELogger sets the logger.
func WithSSELogger(log zerolog.Logger) SSEOption {
	return func(s *SSE) { s.log = log.With().Str("component", "events").Logger() }
}

// NewSSE returns a source reading url. Nothing is read until Run is called.
func NewSSE(url string, opts ...SSEOption) *SSE {
	s := &SSE{
		url:    url,
		client: &http.Client{},
		retry:  defaultRetry,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.fan.log = s.log
	return s
}

// On registers h for events read after this call.
func (s *SSE) On(h Handler) (unsubscribe func()) {
	return s.fan.add(h)
}

// Run streams events to the registered handlers until ctx ends, reconnecting
// after failures. It returns ctx.Err().
func (s *SSE) Run(ctx context.Context) error {
	for {
		err := s.stream(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn().Err(err).Str("url", s.url).Dur("retry", s.retry).Msg("Event stream ended, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.retry):
		}
	}
}

func (s *SSE) stream(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("event stream error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return s.read(resp.Body)
}

// read parses the stream, delivering one event per blank-line-terminated block.
func (s *SSE) read(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	var dataLines []string
	flush := func() {
		if len(dataLines) == 0 {
			return
		}
		payload := strings.Join(dataLines, "\n")
		dataLines = nil

		var evt message.Event
		if err := json.Unmarshal([]byte(payload), &evt); err != nil {
			s.log.Warn().Err(err).Msg("Dropping undecodable event")
			return
		}
		s.fan.deliver(evt)
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			flush()
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}
