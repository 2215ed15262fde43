package msgq

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame is a decoded wire frame: a routing header plus an opaque
// payload (spec §4.1). Payloads are never interpreted by the broker.
type Frame struct {
	Header  Header
	Payload []byte
}

// ErrMalformedFrame is returned by decodeFrame/readFrame when a frame's
// length fields fail the boundary checks in spec §4.1. The caller
// treats this as a reason to kill the connection (spec §7).
var ErrMalformedFrame = errors.New("msgq: malformed frame")

// encodeFrame serializes a Frame into its wire form:
//
//	uint32 total_length   (big-endian; counts everything after itself)
//	uint16 routing_length (big-endian)
//	routing bytes
//	payload bytes
func encodeFrame(f Frame) ([]byte, error) {
	routing, err := encodeHeader(f.Header)
	if err != nil {
		return nil, fmt.Errorf("msgq: encode header: %w", err)
	}
	if len(routing) == 0 || len(routing) > 0xFFFF {
		return nil, fmt.Errorf("msgq: routing header length %d out of range", len(routing))
	}

	totalLength := 2 + len(routing) + len(f.Payload)
	buf := make([]byte, 4+totalLength)
	binary.BigEndian.PutUint32(buf[0:4], uint32(totalLength))
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(routing)))
	copy(buf[6:6+len(routing)], routing)
	copy(buf[6+len(routing):], f.Payload)
	return buf, nil
}

// decodeFrame parses the body of a frame (everything after the
// 4-byte total_length prefix, i.e. exactly total_length bytes) into a
// Frame. It enforces the boundary checks spec §4.1 and §8 require:
// routing_length must be non-zero and must not exceed the space left
// for it after subtracting the 2-byte length field itself.
func decodeFrame(body []byte) (Frame, error) {
	if len(body) < 2 {
		return Frame{}, ErrMalformedFrame
	}
	routingLength := int(binary.BigEndian.Uint16(body[0:2]))
	if routingLength == 0 {
		return Frame{}, ErrMalformedFrame
	}
	if routingLength > len(body)-2 {
		return Frame{}, ErrMalformedFrame
	}

	routing := body[2 : 2+routingLength]
	payload := body[2+routingLength:]

	h, err := decodeHeader(routing)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	// Copy payload out of the caller's (possibly reused) read buffer.
	var payloadCopy []byte
	if len(payload) > 0 {
		payloadCopy = make([]byte, len(payload))
		copy(payloadCopy, payload)
	}

	return Frame{Header: h, Payload: payloadCopy}, nil
}

// totalLengthOf validates a total_length prefix read off the wire
// before the reader commits to reading that many more bytes. A
// total_length less than 2 can never hold a valid (non-zero)
// routing_length, so it is rejected up front (spec §4.1, §8).
func totalLengthOf(prefix uint32) (int, error) {
	if prefix < 2 {
		return 0, ErrMalformedFrame
	}
	return int(prefix), nil
}
