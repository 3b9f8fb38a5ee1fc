package codec

import (
	"encoding/binary"
	"errors"
	"math"

	"workerlink/message"
)

var errShortBuffer = errors.New("BinaryCodec: truncated message")

// BinaryCodec lays the envelope out as length-prefixed fields:
//
//	kind(1) | idLen(2) id | methodLen(2) method | channelLen(2) channel |
//	payloadLen(4) payload | hasError(1) [ errKindLen(2) kind | errMsgLen(4) msg ]
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(msg *message.RPCMessage) ([]byte, error) {
	if len(msg.ID) > math.MaxUint16 || len(msg.Method) > math.MaxUint16 || len(msg.Channel) > math.MaxUint16 {
		return nil, errors.New("BinaryCodec: id, method or channel too long")
	}
	total := 1 + 2 + len(msg.ID) + 2 + len(msg.Method) + 2 + len(msg.Channel) + 4 + len(msg.Payload) + 1
	if msg.Error != nil {
		if len(msg.Error.Kind) > math.MaxUint16 {
			return nil, errors.New("BinaryCodec: error kind too long")
		}
		total += 2 + len(msg.Error.Kind) + 4 + len(msg.Error.Message)
	}
	buf := make([]byte, 0, total)

	buf = append(buf, byte(msg.Kind))
	buf = appendString16(buf, msg.ID)
	buf = appendString16(buf, msg.Method)
	buf = appendString16(buf, msg.Channel)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(msg.Payload)))
	buf = append(buf, msg.Payload...)

	if msg.Error == nil {
		buf = append(buf, 0)
		return buf, nil
	}
	buf = append(buf, 1)
	buf = appendString16(buf, msg.Error.Kind)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(msg.Error.Message)))
	buf = append(buf, msg.Error.Message...)
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, msg *message.RPCMessage) error {
	r := reader{data: data}

	kind := r.byte()
	id := r.string16()
	method := r.string16()
	channel := r.string16()
	payload := r.bytes32()
	hasError := r.byte()
	if r.err != nil {
		return r.err
	}

	*msg = message.RPCMessage{
		Kind:    message.Kind(kind),
		ID:      id,
		Method:  method,
		Channel: channel,
	}
	if len(payload) > 0 {
		msg.Payload = payload
	}
	if hasError == 1 {
		errKind := r.string16()
		errMsg := r.bytes32()
		if r.err != nil {
			return r.err
		}
		msg.Error = &message.CallError{Kind: errKind, Message: string(errMsg)}
	}
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

func appendString16(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// reader walks a buffer and records the first bounds violation.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.data)-r.off < n {
		r.err = errShortBuffer
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) byte() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) string16() string {
	n := r.take(2)
	if n == nil {
		return ""
	}
	return string(r.take(int(binary.BigEndian.Uint16(n))))
}

func (r *reader) bytes32() []byte {
	n := r.take(4)
	if n == nil {
		return nil
	}
	size := binary.BigEndian.Uint32(n)
	if uint64(size) > uint64(len(r.data)-r.off) {
		r.err = errShortBuffer
		return nil
	}
	out := make([]byte, size)
	copy(out, r.take(int(size)))
	return out
}
