package middleware

import (
	"context"
	"time"

	"workerlink/message"
)

// Timeout fails a call that has not returned within timeout. The handler keeps
// running with a cancelled context; its late response is dropped.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if timeout <= 0 {
			return next
		}
		return func(ctx context.Context, call *message.RPCMessage) *message.RPCMessage {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.RPCMessage, 1)
			go func() {
				done <- next(ctx, call)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.NewFailure("", message.NewCallError(message.ErrKindTimeout, "%s timed out after %s", call.Method, timeout))
			}
		}
	}
}
