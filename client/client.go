package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"workerlink/message"
)

// Health is the worker's /health document.
type Health struct {
	Healthy bool   `json:"healthy"`
	Version string `json:"version"`
}

// Client talks to the worker's application surface through an Endpoint.
type Client struct {
	base string
	http *http.Client
}

// New builds a client for ep.
func New(ep Endpoint) *Client {
	return &Client{base: strings.TrimRight(ep.URL, "/"), http: ep.HTTPClient()}
}

// Health fetches GET /health.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/health", nil)
	if err != nil {
		return h, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return h, err
	}
	defer resp.Body.Close()
	if err := checkStatus(req, resp, http.StatusOK); err != nil {
		return h, err
	}
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return h, fmt.Errorf("decoding health: %w", err)
	}
	return h, nil
}

// Notify asks the worker to publish evt to every event subscriber.
func (c *Client) Notify(ctx context.Context, evt message.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/notify", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(req, resp, http.StatusAccepted)
}

func checkStatus(req *http.Request, resp *http.Response, want int) error {
	if resp.StatusCode == want {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("%s %s: unexpected status %d: %s",
		req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(msg)))
}
