package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"workerlink/message"
)

// Serve replays req against h in memory and captures the response as text.
func Serve(ctx context.Context, h http.Handler, req message.SerializedHTTPRequest) (message.SerializedHTTPResponse, error) {
	var body io.Reader
	if req.Body != nil {
		body = strings.NewReader(*req.Body)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	r, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return message.SerializedHTTPResponse{}, message.NewCallError(message.ErrKindBadPayload, "building request: %v", err)
	}
	for k, v := range req.Headers {
		r.Header.Set(k, v)
	}
	r.RequestURI = r.URL.RequestURI()

	w := &recorder{header: make(http.Header)}
	h.ServeHTTP(w, r)
	return w.result(), nil
}

// recorder is a minimal in-memory http.ResponseWriter.
type recorder struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (w *recorder) Header() http.Header { return w.header }

func (w *recorder) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	if status < 100 || status > 999 {
		panic(fmt.Sprintf("invalid WriteHeader code %v", status))
	}
	w.status = status
	w.wroteHeader = true
}

func (w *recorder) Write(p []byte) (int, error) {
	w.WriteHeader(http.StatusOK)
	return w.body.Write(p)
}

// Flush is a no-op; the whole body is returned at once.
func (w *recorder) Flush() {}

func (w *recorder) result() message.SerializedHTTPResponse {
	status := w.status
	if !w.wroteHeader {
		status = http.StatusOK
	}
	return message.SerializedHTTPResponse{
		Body:    w.body.String(),
		Status:  status,
		Headers: flattenHeader(w.header),
	}
}
