package msgq

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	f := Frame{
		Header: Header{
			Type:     CmdSend,
			Group:    "orders",
			Instance: "east",
			To:       WildcardTo,
			From:     "client1",
		},
		Payload: []byte(`{"id":1}`),
	}

	wire, err := encodeFrame(f)
	if err != nil {
		t.Fatalf("encodeFrame: %v", err)
	}

	total, err := totalLengthOf(binary.BigEndian.Uint32(wire[0:4]))
	if err != nil {
		t.Fatalf("totalLengthOf: %v", err)
	}
	if total != len(wire)-4 {
		t.Errorf("total_length = %d, want %d", total, len(wire)-4)
	}

	got, err := decodeFrame(wire[4:])
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if got.Header.Group != f.Header.Group || got.Header.Instance != f.Header.Instance {
		t.Errorf("header mismatch: got %+v", got.Header)
	}
	if !bytes.Equal(got.Payload, f.Payload) {
		t.Errorf("payload = %q, want %q", got.Payload, f.Payload)
	}
}

func TestDecodeFrameRejectsShortBody(t *testing.T) {
	if _, err := decodeFrame([]byte{0x00}); err != ErrMalformedFrame {
		t.Errorf("err = %v, want ErrMalformedFrame", err)
	}
}

func TestDecodeFrameRejectsZeroRoutingLength(t *testing.T) {
	body := []byte{0x00, 0x00, 'x', 'y'}
	if _, err := decodeFrame(body); err != ErrMalformedFrame {
		t.Errorf("err = %v, want ErrMalformedFrame", err)
	}
}

func TestDecodeFrameRejectsOversizedRoutingLength(t *testing.T) {
	body := []byte{0x00, 0x05, 'a'} // routing_length=5 but only 1 byte left
	if _, err := decodeFrame(body); err != ErrMalformedFrame {
		t.Errorf("err = %v, want ErrMalformedFrame", err)
	}
}

func TestTotalLengthOfRejectsUnderTwo(t *testing.T) {
	for _, v := range []uint32{0, 1} {
		if _, err := totalLengthOf(v); err != ErrMalformedFrame {
			t.Errorf("totalLengthOf(%d) err = %v, want ErrMalformedFrame", v, err)
		}
	}
}

func TestEncodeFrameRejectsOversizeRouting(t *testing.T) {
	h := Header{Group: bytesString(70000)}
	if _, err := encodeFrame(Frame{Header: h}); err == nil {
		t.Error("expected error for oversized routing header")
	}
}

func bytesString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}
