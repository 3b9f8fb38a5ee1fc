// Package protocol implements the frame format used on byte-stream transports
// between the supervisor and a worker process (typically the child's stdio).
//
// A fixed 10-byte header precedes every body so the reader knows exactly how
// many bytes belong to the frame, regardless of how the pipe chunks writes.
//
// Frame format:
//
//	0      3  4  5  6         10
//	┌──────┬──┬──┬──┬─────────┬───────────────┐
//	│magic │v │ct│mt│ bodyLen │    body ...    │
//	│ wlk  │01│  │  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴───────────────┘
//
// Correlation ids live inside the body (see package message), so the header
// carries no sequence number.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic bytes "wlk". Lets the reader reject a stream that is not speaking
// this protocol, e.g. a worker that printed a banner to stdout.
const (
	MagicNumber byte   = 0x77 // 'w'
	MagicByte2  byte   = 0x6c // 'l'
	MagicByte3  byte   = 0x6b // 'k'
	Version     byte   = 0x01
	HeaderSize  int    = 10 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 4 (bodyLen)
	MaxBodyLen  uint32 = 64 << 20
)

// MsgType distinguishes envelope frames from heartbeats.
type MsgType byte

const (
	MsgTypeMessage   MsgType = 0 // Carries one encoded message.RPCMessage
	MsgTypeHeartbeat MsgType = 1 // Liveness ping, no body
)

// Codec type constants, mirrored from the codec package to avoid an import cycle.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

// Header is the fixed frame header.
type Header struct {
	CodecType byte
	MsgType   MsgType
	BodyLen   uint32
}

// Encode writes a complete frame (header + body) to w.
// Callers sharing w across goroutines must serialize calls to Encode.
func Encode(w io.Writer, h *Header, body []byte) error {
	if uint32(len(body)) != h.BodyLen {
		return fmt.Errorf("body length %d does not match header %d", len(body), h.BodyLen)
	}
	if h.BodyLen > MaxBodyLen {
		return fmt.Errorf("body too large: %d bytes", h.BodyLen)
	}

	buf := make([]byte, HeaderSize, HeaderSize+len(body))
	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.BodyLen)
	buf = append(buf, body...)

	// One write per frame so a pipe never sees a header without its body.
	_, err := w.Write(buf)
	return err
}

// Decode reads one complete frame from r, validating magic, version, codec
// and message type.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}
	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeBinary {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}
	msgType := headerBuf[5]
	if msgType != byte(MsgTypeMessage) && msgType != byte(MsgTypeHeartbeat) {
		return nil, nil, fmt.Errorf("unsupported message type: %d", msgType)
	}

	bodyLen := binary.BigEndian.Uint32(headerBuf[6:10])
	if bodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("body too large: %d bytes", bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		MsgType:   MsgType(msgType),
		BodyLen:   bodyLen,
	}, body, nil
}
