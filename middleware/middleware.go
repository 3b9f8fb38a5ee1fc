// Package middleware wraps the worker's call handlers.
package middleware

import (
	"context"

	"workerlink/message"
)

// HandlerFunc serves one call and returns its response. Handlers build the
// response with message.NewResult or message.NewFailure; the channel fills in
// the correlation id.
type HandlerFunc func(ctx context.Context, call *message.RPCMessage) *message.RPCMessage

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares into one. The first one listed is outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// Except applies mw to every call except the named methods, which go
// straight to next.
func Except(mw Middleware, methods ...string) Middleware {
	skip := make(map[string]bool, len(methods))
	for _, m := range methods {
		skip[m] = true
	}
	return func(next HandlerFunc) HandlerFunc {
		wrapped := mw(next)
		return func(ctx context.Context, call *message.RPCMessage) *message.RPCMessage {
			if skip[call.Method] {
				return next(ctx, call)
			}
			return wrapped(ctx, call)
		}
	}
}
