package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCallEncodesPayload(t *testing.T) {
	msg, err := NewCall("abc", MethodServer.Name, NetworkOptions{Port: 4096, Hostname: "0.0.0.0"})
	require.NoError(t, err)

	assert.Equal(t, KindCall, msg.Kind)
	assert.Equal(t, "abc", msg.ID)
	assert.Equal(t, "server", msg.Method)
	assert.JSONEq(t, `{"port":4096,"hostname":"0.0.0.0","mdns":false}`, string(msg.Payload))
}

func TestNilPayloadStaysEmpty(t *testing.T) {
	msg, err := NewResult("1", nil)
	require.NoError(t, err)
	assert.Nil(t, msg.Payload)

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":2,"id":"1"}`, string(data))
}

func TestRequestWithoutBodyOmitsField(t *testing.T) {
	data, err := json.Marshal(SerializedHTTPRequest{URL: "http://x/", Method: "GET", Headers: map[string]string{}})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "body")

	empty := ""
	data, err = json.Marshal(SerializedHTTPRequest{URL: "http://x/", Method: "POST", Headers: map[string]string{}, Body: &empty})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"body":""`)
}

func TestAsCallErrorKeepsKind(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", NewCallError(ErrKindTimeout, "took %d ms", 50))
	ce := AsCallError(wrapped)
	assert.Equal(t, ErrKindTimeout, ce.Kind)
	assert.Equal(t, "took 50 ms", ce.Message)

	plain := AsCallError(errors.New("boom"))
	assert.Equal(t, ErrKindInternal, plain.Kind)
	assert.Equal(t, "internal: boom", plain.Error())

	assert.Nil(t, AsCallError(nil))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "call", KindCall.String())
	assert.Equal(t, "event", KindEvent.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}
