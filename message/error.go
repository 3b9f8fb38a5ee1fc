package message

import (
	"errors"
	"fmt"
)

// Error kinds carried in CallError.Kind.
const (
	ErrKindInternal       = "internal"
	ErrKindMethodNotFound = "method_not_found"
	ErrKindBadPayload     = "bad_payload"
	ErrKindTimeout        = "timeout"
	ErrKindRateLimited    = "rate_limited"
	ErrKindUnavailable    = "unavailable"
)

// CallError is the structured failure a worker returns for a single call.
type CallError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *CallError) Error() string {
	if e.Kind == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewCallError returns a CallError of the given kind.
func NewCallError(kind, format string, args ...any) *CallError {
	return &CallError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsCallError converts err to a CallError, keeping the kind if err already is one.
func AsCallError(err error) *CallError {
	if err == nil {
		return nil
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce
	}
	return &CallError{Kind: ErrKindInternal, Message: err.Error()}
}
