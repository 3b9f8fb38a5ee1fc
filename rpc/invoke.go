package rpc

import (
	"context"
	"encoding/json"

	"workerlink/message"
)

// Invoke performs a typed call. The method value fixes both the payload and
// the result type, so a mismatched pairing fails to compile.
func Invoke[P, R any](ctx context.Context, c Caller, m message.Method[P, R], payload P) (R, error) {
	var out R
	if err := c.Call(ctx, m.Name, payload, &out); err != nil {
		return out, err
	}
	return out, nil
}

// Subscribe decodes events on channel into E before handing them to fn.
// Payloads that fail to decode are dropped.
func Subscribe[E any](c *Channel, channel string, fn func(E)) (unsubscribe func()) {
	return c.On(channel, func(payload json.RawMessage) {
		var evt E
		if err := json.Unmarshal(payload, &evt); err != nil {
			c.log.Warn().Err(err).Str("channel", channel).Msg("Dropping undecodable event")
			return
		}
		fn(evt)
	})
}

// Decode unmarshals a call payload into P, reporting a bad_payload CallError on failure.
func Decode[P any](call *message.RPCMessage) (P, error) {
	var p P
	if len(call.Payload) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(call.Payload, &p); err != nil {
		return p, message.NewCallError(message.ErrKindBadPayload, "%s: %v", call.Method, err)
	}
	return p, nil
}
