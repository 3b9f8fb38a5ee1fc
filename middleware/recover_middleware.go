package middleware

import (
	"context"
	"runtime/debug"

	"github.com/rs/zerolog"

	"workerlink/message"
)

// Recover turns a handler panic into an internal failure for that call.
// It must sit inside Timeout, which runs the handler on its own goroutine.
func Recover(log zerolog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.RPCMessage) (resp *message.RPCMessage) {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Str("method", call.Method).
						Interface("panic", r).
						Bytes("stack", debug.Stack()).
						Msg("Handler panicked")
					resp = message.NewFailure("", message.NewCallError(message.ErrKindInternal, "%s panicked: %v", call.Method, r))
				}
			}()
			return next(ctx, call)
		}
	}
}
