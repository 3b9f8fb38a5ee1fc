package codec

import (
	"encoding/json"

	"workerlink/message"
)

// JSONCodec uses encoding/json. Human-readable, which makes worker traffic easy
// to inspect when debugging a stdio pipe.
type JSONCodec struct{}

func (c *JSONCodec) Encode(msg *message.RPCMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *JSONCodec) Decode(data []byte, msg *message.RPCMessage) error {
	return json.Unmarshal(data, msg)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
