package middleware

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"workerlink/message"
)

const (
	spanPrefixCall = "worker.call."

	attrCallID     = "workerlink.call.id"
	attrCallMethod = "workerlink.call.method"
	attrErrorKind  = "workerlink.error.kind"
)

// Tracing opens a span per call. A nil tracer makes it a pass-through.
func Tracing(tracer trace.Tracer) Middleware {
	if tracer == nil {
		return func(next HandlerFunc) HandlerFunc { return next }
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.RPCMessage) *message.RPCMessage {
			ctx, span := tracer.Start(ctx, spanPrefixCall+call.Method,
				trace.WithSpanKind(trace.SpanKindServer),
			)
			defer span.End()

			span.SetAttributes(
				attribute.String(attrCallID, call.ID),
				attribute.String(attrCallMethod, call.Method),
			)

			resp := next(ctx, call)
			if resp != nil && resp.Error != nil {
				span.RecordError(resp.Error)
				span.SetAttributes(attribute.String(attrErrorKind, resp.Error.Kind))
				span.SetStatus(codes.Error, resp.Error.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return resp
		}
	}
}
