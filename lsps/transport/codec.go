package transport

import (
	"encoding/binary"
	"errors"
)

// LSPSMessageType is the BOLT8 custom message type carrying LSPS traffic
// (0x9419, decimal 37913).
const LSPSMessageType uint32 = 0x9419

// ErrMalformedFrame is returned for payloads too short to carry the
// two-byte message id.
var ErrMalformedFrame = errors.New("custom message shorter than 2 bytes")

// EncodeFrame prepends the two-byte message id to a JSON payload. Only
// backends that carry the type inside the payload need framing; LND carries
// it out of band and its wire payload stays pure JSON. InbandTransport is
// the single place that applies the codec.
func EncodeFrame(msgType uint32, payload []byte) []byte {
	frame := make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(frame[:2], uint16(msgType))
	copy(frame[2:], payload)
	return frame
}

// DecodeFrame splits a raw custom message into its message id and payload.
// A frame shorter than two bytes is a hard decode error. A foreign message
// id is NOT an error: other protocol extensions share the custom-message
// channel, and the caller must silently ignore frames that are not ours.
func DecodeFrame(frame []byte) (msgType uint32, payload []byte, err error) {
	if len(frame) < 2 {
		return 0, nil, ErrMalformedFrame
	}
	return uint32(binary.BigEndian.Uint16(frame[:2])), frame[2:], nil
}

// IsLSPSFrame reports whether the decoded message id belongs to LSPS.
func IsLSPSFrame(msgType uint32) bool {
	return msgType == LSPSMessageType
}
