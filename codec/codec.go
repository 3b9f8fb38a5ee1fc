// Package codec serializes RPCMessage envelopes for byte-stream transports.
package codec

import "workerlink/message"

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

type Codec interface {
	Encode(msg *message.RPCMessage) ([]byte, error)
	Decode(data []byte, msg *message.RPCMessage) error
	Type() CodecType // 0=JSON, 1=Binary
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return &BinaryCodec{}
}
