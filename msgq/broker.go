package msgq

import (
	"log"
	"sync"
)

// Broker owns every piece of shared state described in spec §5: the
// connection registry, the subscription table, and the mutex that
// serializes all mutation of both. The I/O loop (iomux_unix.go) and
// the control surface (control.go) are two goroutines that both hold
// a reference to the same Broker and take its lock around each
// operation; neither owns the state itself.
type Broker struct {
	mu sync.Mutex

	subs    *subscriptionTable
	byFD    map[int]*Connection
	byLName map[string]*Connection

	lnames *lnameGenerator
	logger *log.Logger

	// SocketPath is the UNIX-domain path the broker listens on.
	// Recorded here (rather than only in cmd/msgqd) so admin/status
	// reporting can surface it.
	SocketPath string

	notify *controlSurface
	feed   *Feed

	// stopCh, once set by the I/O loop's Run, lets requestStop (STOP
	// command or signal handler) wake the poll loop out of band. stopped
	// latches true the first time a stop is requested, so Stopped() and
	// repeated requestStop calls are idempotent.
	stopCh  chan struct{}
	stopped bool
}

// NewBroker creates a Broker bound to socketPath. logger may be nil, in
// which case log.Default() is used, matching the teacher's convention
// of package-level log.Printf-style logging (amps/*.go,
// tools/fakeamps/*.go never adopt a structured logging library).
func NewBroker(socketPath string, logger *log.Logger) *Broker {
	if logger == nil {
		logger = log.Default()
	}
	b := &Broker{
		subs:       newSubscriptionTable(),
		byFD:       make(map[int]*Connection),
		byLName:    make(map[string]*Connection),
		lnames:     newLNameGenerator(),
		logger:     logger,
		SocketPath: socketPath,
		feed:       newFeed(),
	}
	b.notify = newControlSurface(b)
	return b
}

// Feed returns the broker's live membership-event fanout, used by the
// admin WebSocket endpoint. It never blocks the broker's own
// notification path: a slow feed subscriber just misses events.
func (b *Broker) Feed() *Feed { return b.feed }

// Members returns the lname of every currently connected client,
// answering the bus-level "members" admin query with no group filter
// (spec §4.6) and backing the admin HTTP surface's equivalent endpoint.
func (b *Broker) Members() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, len(b.byLName))
	for lname := range b.byLName {
		out = append(out, lname)
	}
	return out
}

// MembersOf returns the lnames subscribed to group under any instance,
// the wildcard instance included, each listed once (spec §4.6's
// "members" query with {group: G}).
func (b *Broker) MembersOf(group string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[int]struct{})
	out := make([]string, 0)
	for k, set := range b.subs.byKey {
		if k.group != group {
			continue
		}
		for fd, c := range set {
			if _, dup := seen[fd]; dup {
				continue
			}
			seen[fd] = struct{}{}
			out = append(out, c.LName())
		}
	}
	return out
}

// ConnectionCount returns the number of currently registered
// connections, for admin/status reporting.
func (b *Broker) ConnectionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byFD)
}

// registerConnection assigns a fresh lname to sock and adds it to the
// registry. It does not emit the "connected" notification itself —
// the caller (the I/O loop, after accept) does that once the
// connection is visible to Members()/subscription lookups, so a
// cc_members subscriber's own connect notification can never race
// ahead of its own subscription (spec §4.6).
func (b *Broker) registerConnection(sock rawSocket) *Connection {
	b.mu.Lock()
	defer b.mu.Unlock()

	lname := b.lnames.next()
	conn := newConnection(lname, sock)
	b.byFD[conn.FD()] = conn
	b.byLName[lname] = conn
	return conn
}

// destroyConnection removes conn from the registry and every
// subscription set, and closes its socket. It returns the distinct
// groups conn was unsubscribed from, in the order unsubscribeAll
// discovered them, so the caller can emit one "unsubscribed"
// notification per group before the final "disconnected" notification
// (spec §4.6, scenario 5).
func (b *Broker) destroyConnection(conn *Connection) []string {
	b.mu.Lock()
	groups := b.subs.unsubscribeAll(conn)
	delete(b.byFD, conn.FD())
	delete(b.byLName, conn.lname)
	b.mu.Unlock()

	_ = conn.sock.close()
	return groups
}

// connByLName looks up a connection by its assigned logical name.
func (b *Broker) connByLName(lname string) (*Connection, bool) {
	c, ok := b.byLName[lname]
	return c, ok
}

// replyDirect delivers f to the connection named by f.Header.To,
// bypassing subscription lookup entirely. Used by the control surface
// to answer an administrative request addressed back to its requester.
func (b *Broker) replyDirect(f Frame) {
	b.mu.Lock()
	conn, ok := b.byLName[f.Header.To]
	b.mu.Unlock()
	if !ok {
		return
	}
	b.deliver(conn, f)
}

// logf writes a message through the broker's logger, matching the
// "msgqd: <message>" prefix convention used throughout cmd/msgqd and
// the teacher's tools/fakeamps log call sites.
func (b *Broker) logf(format string, args ...interface{}) {
	b.logger.Printf("msgqd: "+format, args...)
}
