//go:build linux || darwin

package msgq

import (
	"io"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// fdSocket is the rawSocket implementation for a real accepted
// connection: a raw, non-blocking file descriptor obtained from the
// net.Conn that Accept handed back, via SyscallConn (tailscale-style
// direct syscall control), so the broker's single poll loop can own
// readiness for it directly instead of going through net.Conn's
// internal (goroutine-per-call) blocking model.
type fdSocket struct {
	conn net.Conn // kept alive so the OS fd isn't finalized out from under us
	raw  syscall.RawConn
	n    int
}

func newFDSocket(c net.Conn) (*fdSocket, error) {
	sc, ok := c.(interface {
		SyscallConn() (syscall.RawConn, error)
	})
	if !ok {
		return nil, errNotSyscallConn
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return nil, err
	}
	fs := &fdSocket{conn: c, raw: raw}
	raw.Control(func(fd uintptr) { fs.n = int(fd) })
	return fs, nil
}

func (s *fdSocket) fd() int { return s.n }

func (s *fdSocket) write(p []byte) (n int, err error) {
	cerr := s.raw.Write(func(fd uintptr) bool {
		n, err = unix.Write(int(fd), p)
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			n, err = 0, nil
			return true // no more to do right now, but not an error
		}
		return true
	})
	if cerr != nil {
		return n, cerr
	}
	return n, err
}

func (s *fdSocket) read(p []byte) (n int, err error) {
	cerr := s.raw.Read(func(fd uintptr) bool {
		n, err = unix.Read(int(fd), p)
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			n, err = 0, nil
			return true
		}
		if err == nil && n == 0 {
			// The peer closed its end: a genuine 0-byte read, distinct
			// from the would-block case above. readOne decides whether
			// this is a clean or mid-frame close.
			err = io.EOF
		}
		return true
	})
	if cerr != nil {
		return n, cerr
	}
	return n, err
}

func (s *fdSocket) close() error { return s.conn.Close() }

var errNotSyscallConn = &connSetupError{"connection does not expose SyscallConn"}

type connSetupError struct{ msg string }

func (e *connSetupError) Error() string { return e.msg }

// readState accumulates bytes for the connection currently being read,
// across possibly several readiness events, until a complete frame is
// available (spec §4.1: total_length prefix, then that many more
// bytes).
type readState struct {
	buf []byte // bytes read so far for the frame in progress
	want int    // total bytes needed once buf has grown to len(want); 0 until the 4-byte prefix is in
}

// Run drives the broker's single I/O-multiplexing reactor (spec §4.5):
// one goroutine owns accept, read, and write readiness for every
// connection and the listening socket itself, polled with
// golang.org/x/sys/unix.Poll. A second, always-present fd (a
// self-pipe-style channel-backed stop signal) lets requestStop
// interrupt a blocked Poll call without a signal handler reaching into
// the loop directly.
//
// Run blocks until the loop is asked to stop (STOP command, or
// Broker.RequestStop, which cmd/msgqd calls on SIGTERM/SIGINT) or
// unix.Poll fails with an error other than EINTR. Closing ln alone does
// not make Run return, and accept errors are logged and skipped.
func (b *Broker) Run(ln *net.UnixListener) error {
	acceptFD, err := listenerFD(ln)
	if err != nil {
		return err
	}

	stopCh := make(chan struct{}, 1)
	b.bindStopChannel(stopCh)
	stopR, stopW, err := newSelfPipe()
	if err != nil {
		return err
	}
	defer stopR.close()
	defer stopW.close()

	go func() {
		<-stopCh
		var one [1]byte
		_, _ = stopW.write(one[:])
	}()

	// reads is only ever touched from this goroutine, so it needs no
	// lock of its own — unlike b.mu, which also guards state the
	// control surface and dispatcher reach from elsewhere.
	reads := make(map[int]*readState)

	for {
		b.mu.Lock()
		stopped := b.stopped
		conns := make([]*Connection, 0, len(b.byFD))
		for _, c := range b.byFD {
			conns = append(conns, c)
		}
		b.mu.Unlock()
		if stopped {
			return nil
		}

		fds := make([]unix.PollFd, 0, len(conns)+2)
		fds = append(fds, unix.PollFd{Fd: int32(acceptFD), Events: unix.POLLIN})
		fds = append(fds, unix.PollFd{Fd: int32(stopR.fd()), Events: unix.POLLIN})
		for _, c := range conns {
			ev := int16(unix.POLLIN)
			if c.hasPendingWrite() {
				ev |= unix.POLLOUT
			}
			fds = append(fds, unix.PollFd{Fd: int32(c.FD()), Events: ev})
		}

		n, err := unix.Poll(fds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n == 0 {
			continue
		}

		if fds[1].Revents&unix.POLLIN != 0 {
			return nil // stop requested
		}

		if fds[0].Revents&unix.POLLIN != 0 {
			b.acceptOne(ln)
		}

		for i := 2; i < len(fds); i++ {
			if fds[i].Revents == 0 {
				continue
			}
			conn := conns[i-2]
			// One op per fd per iteration (spec §4.5): a fd that is both
			// read- and write-ready this pass only has its read handled
			// now; the write is picked up on the next loop pass instead
			// of doing both in the same iteration.
			if fds[i].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
				st, done, cerr := b.readOne(conn, reads[conn.FD()])
				if done {
					delete(reads, conn.FD())
				} else {
					reads[conn.FD()] = st
				}
				if cerr != nil {
					b.logf("%v", cerr)
					b.killConnection(conn)
				}
				continue
			}
			if fds[i].Revents&unix.POLLOUT != 0 {
				b.mu.Lock()
				cerr := conn.processWrite()
				b.mu.Unlock()
				if cerr != nil {
					b.logf("%v", cerr)
					b.killConnection(conn)
				}
			}
		}
	}
}

func (b *Broker) acceptOne(ln *net.UnixListener) {
	c, err := ln.AcceptUnix()
	if err != nil {
		b.logf("accept: %v", err)
		return
	}
	sock, err := newFDSocket(c)
	if err != nil {
		b.logf("accept: %v", err)
		_ = c.Close()
		return
	}
	if err := setNonblocking(sock.fd()); err != nil {
		b.logf("accept: set nonblocking: %v", err)
		_ = c.Close()
		return
	}
	b.acceptConnection(sock)
}

// readOne reads whatever is currently available for conn and advances
// st, returning a fresh readState, whether a complete read-to-EOF/
// connection-ending condition was reached (done==true means the caller
// should forget st; it has nothing left to do here), and a non-nil
// *ConnError when conn must be killed. It may dispatch zero or more
// complete frames to HandleFrame before returning.
func (b *Broker) readOne(conn *Connection, st *readState) (*readState, bool, *ConnError) {
	if st == nil {
		st = &readState{}
	}

	chunk := make([]byte, 65536)
	n, err := conn.sock.read(chunk)
	if err != nil {
		if err == io.EOF {
			// A frame boundary was in progress (st.want set, or bytes
			// already buffered for one) iff the peer vanished mid-frame;
			// otherwise this is an ordinary close between frames.
			if st.want != 0 || len(st.buf) != 0 {
				return st, true, newConnError(KindMidFrameEOF, conn.LName(), nil)
			}
			return st, true, newConnError(KindCleanClose, conn.LName(), nil)
		}
		return st, true, newConnError(KindBrokenPipe, conn.LName(), err)
	}
	if n == 0 {
		return st, false, nil
	}
	st.buf = append(st.buf, chunk[:n]...)

	for {
		if st.want == 0 {
			if len(st.buf) < 4 {
				break
			}
			total, terr := totalLengthOf(beUint32(st.buf))
			if terr != nil {
				return st, true, newConnError(KindMalformedFrame, conn.LName(), terr)
			}
			st.want = 4 + total
		}
		if len(st.buf) < st.want {
			// Partial frame; wait for the next readiness event. If the
			// peer vanishes mid-frame, the next read reports EOF and
			// the caller kills the connection (spec §7, mid-frame EOF).
			break
		}

		frameBytes := st.buf[:st.want]
		f, ferr := decodeFrame(frameBytes[4:])
		if ferr != nil {
			return st, true, newConnError(KindMalformedFrame, conn.LName(), ferr)
		}
		st.buf = append([]byte(nil), st.buf[st.want:]...)
		st.want = 0

		b.HandleFrame(conn, f)
	}

	return st, false, nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func listenerFD(ln *net.UnixListener) (int, error) {
	sc, err := ln.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	cerr := sc.Control(func(p uintptr) { fd = int(p) })
	if cerr != nil {
		return 0, cerr
	}
	return fd, nil
}

func setNonblocking(fd int) error {
	return unix.SetNonblock(fd, true)
}

// selfPipeEnd is one end of a pipe used purely as a poll-able interrupt
// signal: requestStop writes a byte so a blocked unix.Poll wakes up
// even though no client connection has anything ready.
type selfPipeEnd struct{ f int }

func (e selfPipeEnd) fd() int { return e.f }

func (e selfPipeEnd) write(p []byte) (int, error) { return unix.Write(e.f, p) }

func (e selfPipeEnd) close() error { return unix.Close(e.f) }

func newSelfPipe() (r, w selfPipeEnd, err error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return selfPipeEnd{}, selfPipeEnd{}, err
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		return selfPipeEnd{}, selfPipeEnd{}, err
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		return selfPipeEnd{}, selfPipeEnd{}, err
	}
	return selfPipeEnd{fds[0]}, selfPipeEnd{fds[1]}, nil
}
