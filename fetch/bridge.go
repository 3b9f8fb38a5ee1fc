// Package fetch virtualizes HTTP over the RPC channel for direct mode.
//
// The front end installs a Bridge as the Transport of an http.Client. Each
// request becomes a "fetch" call; the worker replays it against its own
// http.Handler (Serve) and the captured status, headers and body come back as
// the result. Bodies travel as text, so binary payloads are not preserved and
// responses are never streamed.
package fetch

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"workerlink/message"
	"workerlink/rpc"
)

// Bridge is an http.RoundTripper that sends every request through the "fetch" call.
type Bridge struct {
	c rpc.Caller
}

// NewBridge returns a Bridge calling through c.
func NewBridge(c rpc.Caller) *Bridge {
	return &Bridge{c: c}
}

// RoundTrip implements http.RoundTripper. A failed call is returned as the
// round trip error, the way a refused connection would be.
func (b *Bridge) RoundTrip(req *http.Request) (*http.Response, error) {
	payload, err := SerializeRequest(req)
	if err != nil {
		return nil, err
	}
	res, err := rpc.Invoke(req.Context(), b.c, message.MethodFetch, payload)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s: %w", payload.Method, payload.URL, err)
	}
	return BuildResponse(req, res), nil
}

// SerializeRequest flattens req into a fetch payload and closes its body.
// A request without a body (nil or http.NoBody) leaves Body unset, so the
// field is omitted on the wire; any other body is sent as text, even when empty.
func SerializeRequest(req *http.Request) (message.SerializedHTTPRequest, error) {
	out := message.SerializedHTTPRequest{
		URL:     req.URL.String(),
		Method:  req.Method,
		Headers: flattenHeader(req.Header),
	}
	if out.Method == "" {
		out.Method = http.MethodGet
	}
	if req.Body == nil || req.Body == http.NoBody {
		return out, nil
	}
	defer req.Body.Close()
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return out, fmt.Errorf("reading request body: %w", err)
	}
	body := string(data)
	out.Body = &body
	return out, nil
}

// BuildResponse rebuilds an *http.Response for req from a fetch result.
func BuildResponse(req *http.Request, res message.SerializedHTTPResponse) *http.Response {
	header := make(http.Header, len(res.Headers))
	for k, v := range res.Headers {
		header.Set(k, v)
	}
	status := res.Status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(res.Body)),
		ContentLength: int64(len(res.Body)),
		Request:       req,
	}
}

// flattenHeader joins multi-valued headers with ", ".
func flattenHeader(h http.Header) map[string]string {
	if len(h) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(h))
	for k, vs := range h {
		out[k] = strings.Join(vs, ", ")
	}
	return out
}
