package msgq

import (
	"encoding/binary"
	"io"
	"sync"
	"sync/atomic"
)

// loopbackFDCounter hands out descending synthetic descriptors for
// loopback sockets, so they can share the same registry map as real
// (non-negative) OS file descriptors without ever colliding with one.
var loopbackFDCounter int64

// loopbackSocket is the rawSocket implementation behind the control
// surface's self-connection (Design Note 9): "write" delivers directly
// to an in-process channel instead of a socket, so the control surface
// can be an ordinary registered, subscribable Connection without a
// real AF_UNIX round trip.
type loopbackSocket struct {
	id     int
	outbox chan []byte

	mu     sync.Mutex
	closed bool
}

func newLoopbackSocket() *loopbackSocket {
	id := int(atomic.AddInt64(&loopbackFDCounter, -1))
	return &loopbackSocket{id: id, outbox: make(chan []byte, 256)}
}

func (s *loopbackSocket) fd() int { return s.id }

func (s *loopbackSocket) write(p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	select {
	case s.outbox <- cp:
		return len(p), nil
	default:
		// The loopback outbox is saturated; the control surface's run
		// goroutine isn't keeping up. Reporting 0 bytes written (rather
		// than claiming success) sends this frame through Connection's
		// normal buffering path instead, so the Connection-level
		// slow-consumer timeout (§4.4) actually governs this case.
		return 0, nil
	}
}

// read is never called: the I/O loop does list loopback connections in
// its poll set, but under their negative descriptors, which poll
// ignores, so it never reports one as readable.
func (s *loopbackSocket) read(p []byte) (int, error) { return 0, io.EOF }

func (s *loopbackSocket) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.outbox)
	return nil
}

// parseWireFrame decodes a complete wire-encoded frame (the same bytes
// a real client socket would receive off the wire, 4-byte total_length
// prefix included) as delivered to a loopback socket's outbox.
func parseWireFrame(wire []byte) (Frame, error) {
	if len(wire) < 4 {
		return Frame{}, ErrMalformedFrame
	}
	totalLength, err := totalLengthOf(binary.BigEndian.Uint32(wire[0:4]))
	if err != nil {
		return Frame{}, err
	}
	body := wire[4:]
	if len(body) != totalLength {
		return Frame{}, ErrMalformedFrame
	}
	return decodeFrame(body)
}
