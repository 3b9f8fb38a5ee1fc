package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"workerlink/message"
)

// RateLimit rejects calls beyond r per second, allowing bursts of burst.
// A non-positive r disables the limit.
func RateLimit(r float64, burst int) Middleware {
	if r <= 0 {
		return func(next HandlerFunc) HandlerFunc { return next }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.RPCMessage) *message.RPCMessage {
			if !limiter.Allow() {
				return message.NewFailure("", message.NewCallError(message.ErrKindRateLimited, "rate limit exceeded for %s", call.Method))
			}
			return next(ctx, call)
		}
	}
}
