package codec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"workerlink/message"
)

var samples = []*message.RPCMessage{
	{Kind: message.KindCall, ID: "0b7c", Method: "fetch", Payload: json.RawMessage(`{"url":"http://x/"}`)},
	{Kind: message.KindResponse, ID: "0b7c", Payload: json.RawMessage(`{"status":200}`)},
	{Kind: message.KindResponse, ID: "0b7d", Error: &message.CallError{Kind: "internal", Message: "boom"}},
	{Kind: message.KindEvent, Channel: "event", Payload: json.RawMessage(`{"type":"session.updated"}`)},
}

func TestCodecs(t *testing.T) {
	for _, cdc := range []Codec{&JSONCodec{}, &BinaryCodec{}} {
		for _, original := range samples {
			data, err := cdc.Encode(original)
			require.NoError(t, err)

			var decoded message.RPCMessage
			require.NoError(t, cdc.Decode(data, &decoded))

			assert.Equal(t, original.Kind, decoded.Kind)
			assert.Equal(t, original.ID, decoded.ID)
			assert.Equal(t, original.Method, decoded.Method)
			assert.Equal(t, original.Channel, decoded.Channel)
			assert.Equal(t, string(original.Payload), string(decoded.Payload))
			assert.Equal(t, original.Error, decoded.Error)
		}
	}
}

func TestGetCodec(t *testing.T) {
	assert.Equal(t, CodecTypeJSON, GetCodec(CodecTypeJSON).Type())
	assert.Equal(t, CodecTypeBinary, GetCodec(CodecTypeBinary).Type())
}

func TestBinaryDecodeTruncated(t *testing.T) {
	data, err := (&BinaryCodec{}).Encode(samples[0])
	require.NoError(t, err)

	var msg message.RPCMessage
	for i := 0; i < len(data); i++ {
		assert.Error(t, (&BinaryCodec{}).Decode(data[:i], &msg), "prefix of length %d", i)
	}
}

func TestBinaryDecodeNeverPanics(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOf(rapid.Byte()).Draw(t, "data")
		var msg message.RPCMessage
		_ = (&BinaryCodec{}).Decode(data, &msg)
	})
}
