package server

import (
	"context"
	"sort"

	"workerlink/message"
	"workerlink/middleware"
	"workerlink/rpc"
)

// methodTable maps method names to their untyped handlers.
type methodTable map[string]middleware.HandlerFunc

func (t methodTable) names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handle registers fn as the typed handler for m. The payload is decoded into
// P before fn runs; a decode failure answers bad_payload without calling fn.
// An error returned by fn is sent as-is when it is a *message.CallError and
// as an internal error otherwise.
func Handle[P, R any](s *Server, m message.Method[P, R], fn func(ctx context.Context, payload P) (R, error)) {
	s.Register(m.Name, func(ctx context.Context, call *message.RPCMessage) *message.RPCMessage {
		payload, err := rpc.Decode[P](call)
		if err != nil {
			return message.NewFailure("", err)
		}
		result, err := fn(ctx, payload)
		if err != nil {
			return message.NewFailure("", message.AsCallError(err))
		}
		resp, err := message.NewResult("", result)
		if err != nil {
			return message.NewFailure("", message.NewCallError(message.ErrKindInternal, "encoding %s result: %v", m.Name, err))
		}
		return resp
	})
}

func unknownMethod(method string) *message.RPCMessage {
	return message.NewFailure("", message.NewCallError(message.ErrKindMethodNotFound, "%s: %s", rpc.ErrMethodNotFound, method))
}
