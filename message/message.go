// Package message defines the envelope exchanged between the front end and the worker.
//
// RPCMessage is the unit every transport carries. One envelope type covers all
// three directions of traffic:
//
//   - KindCall:     ID and Method set, Payload holds the serialized arguments.
//   - KindResponse: ID echoes the call, Payload holds the result or Error is set.
//   - KindEvent:    Channel set (e.g. "event"), Payload holds the event body. No ID.
package message

import (
	"encoding/json"
	"fmt"
)

// Kind distinguishes calls, responses and push events.
type Kind byte

const (
	KindCall     Kind = 1
	KindResponse Kind = 2
	KindEvent    Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindResponse:
		return "response"
	case KindEvent:
		return "event"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// RPCMessage carries a single call, response or event.
type RPCMessage struct {
	Kind    Kind            `json:"kind"`
	ID      string          `json:"id,omitempty"`      // Correlation id, calls and responses only
	Method  string          `json:"method,omitempty"`  // Calls only, e.g. "fetch"
	Channel string          `json:"channel,omitempty"` // Events only, e.g. "event"
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *CallError      `json:"error,omitempty"` // Responses only, set when the call failed
}

// NewCall builds a call envelope, serializing payload as JSON.
func NewCall(id, method string, payload any) (*RPCMessage, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", method, err)
	}
	return &RPCMessage{Kind: KindCall, ID: id, Method: method, Payload: raw}, nil
}

// NewResult builds a successful response for the call with the given id.
func NewResult(id string, result any) (*RPCMessage, error) {
	raw, err := marshalPayload(result)
	if err != nil {
		return nil, err
	}
	return &RPCMessage{Kind: KindResponse, ID: id, Payload: raw}, nil
}

// NewFailure builds a failed response for the call with the given id.
func NewFailure(id string, err error) *RPCMessage {
	return &RPCMessage{Kind: KindResponse, ID: id, Error: AsCallError(err)}
}

// NewEvent builds a push event on the named channel.
func NewEvent(channel string, payload any) (*RPCMessage, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return &RPCMessage{Kind: KindEvent, Channel: channel, Payload: raw}, nil
}

func marshalPayload(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
