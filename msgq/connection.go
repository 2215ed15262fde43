package msgq

import (
	"time"
)

// slowConsumerTimeout is the maximum time a connection's outgoing
// buffer may sit without making progress before the broker kills it
// (spec §3, §4.4).
const slowConsumerTimeout = 100 * time.Millisecond

// rawSocket is the narrow surface the connection registry needs from
// an accepted socket: non-blocking reads/writes keyed by a stable
// integer descriptor, which doubles as the registry's map key and the
// identifier registered with the readiness poller (§4.5).
//
// The real implementation (iomux_unix.go) wraps a raw, non-blocking
// file descriptor obtained from a net.Conn via SyscallConn. The control
// surface's loopback connection (control.go) implements the same
// interface over an in-process channel instead of a socket, per
// Design Note 9.
type rawSocket interface {
	fd() int
	// write attempts a single non-blocking write. A "would block" /
	// "interrupted" condition is reported as (0, nil) — the caller
	// queues the data instead of treating it as an error.
	write(p []byte) (n int, err error)
	read(p []byte) (n int, err error)
	close() error
}

// Connection is the broker's view of one accepted client (spec §3).
type Connection struct {
	lname string
	sock  rawSocket

	sendBuf      []byte
	lastProgress time.Time

	connectedAt time.Time

	// subscribedGroups counts, per group, the SUBSCRIBE commands handled
	// for this connection minus the UNSUBSCRIBEs that removed an entry
	// (a repeated SUBSCRIBE of the same key is counted again). Only the
	// dispatcher maintains it; unsubscribeAll derives the distinct
	// groups from the subscription table instead.
	subscribedGroups map[string]int
}

func newConnection(lname string, sock rawSocket) *Connection {
	return &Connection{
		lname:            lname,
		sock:             sock,
		connectedAt:      time.Now(),
		subscribedGroups: make(map[string]int),
	}
}

// FD returns the connection's stable descriptor, used as the registry
// and poller key.
func (c *Connection) FD() int { return c.sock.fd() }

// LName returns the connection's assigned logical name.
func (c *Connection) LName() string { return c.lname }

// hasPendingWrite reports whether this connection has buffered output
// still waiting to drain, i.e. whether its fd belongs in the writable
// set for the next readiness wait (spec §4.5).
func (c *Connection) hasPendingWrite() bool { return len(c.sendBuf) > 0 }

// send enqueues data for delivery, writing as much as the kernel will
// immediately accept and buffering the remainder (spec §4.4). It
// returns a non-nil *ConnError when the connection must be killed
// (fatal write error or a stalled slow consumer).
func (c *Connection) send(data []byte) *ConnError {
	if len(data) == 0 {
		return nil
	}

	if len(c.sendBuf) == 0 {
		n, err := c.sock.write(data)
		if err != nil {
			return newConnError(KindWriteFailure, c.lname, err)
		}
		if n > 0 {
			c.lastProgress = time.Now()
		}
		if n == len(data) {
			return nil
		}
		remainder := make([]byte, len(data)-n)
		copy(remainder, data[n:])
		c.sendBuf = remainder
		// The buffer just went empty -> non-empty: this stall starts now,
		// regardless of whatever lastProgress holds from an earlier,
		// already-drained send.
		c.lastProgress = time.Now()
		return nil
	}

	// Buffer already non-empty: appending more data is fine, but if no
	// progress has been made recently this is a slow consumer.
	if time.Since(c.lastProgress) > slowConsumerTimeout {
		return newConnError(KindSlowConsumer, c.lname, nil)
	}
	c.sendBuf = append(c.sendBuf, data...)
	return nil
}

// processWrite drains as much of the buffered output as the kernel
// will accept, invoked when the I/O loop reports the fd writable
// (spec §4.4's `_process_write`). It clears the buffer entirely once
// drained.
func (c *Connection) processWrite() *ConnError {
	if len(c.sendBuf) == 0 {
		return nil
	}

	n, err := c.sock.write(c.sendBuf)
	if err != nil {
		return newConnError(KindWriteFailure, c.lname, err)
	}
	if n > 0 {
		c.lastProgress = time.Now()
		c.sendBuf = c.sendBuf[n:]
		if len(c.sendBuf) == 0 {
			c.sendBuf = nil
		}
		return nil
	}

	if time.Since(c.lastProgress) > slowConsumerTimeout {
		return newConnError(KindSlowConsumer, c.lname, nil)
	}
	return nil
}
