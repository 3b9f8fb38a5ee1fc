package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"workerlink/message"
)

// Logging records every call with its duration, and the error kind of failed ones.
func Logging(log zerolog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.RPCMessage) *message.RPCMessage {
			start := time.Now()
			resp := next(ctx, call)
			duration := time.Since(start)
			if resp != nil && resp.Error != nil {
				log.Warn().
					Str("method", call.Method).
					Dur("duration", duration).
					Str("error_kind", resp.Error.Kind).
					Str("error", resp.Error.Message).
					Msg("Call failed")
				return resp
			}
			log.Debug().Str("method", call.Method).Dur("duration", duration).Msg("Call served")
			return resp
		}
	}
}
