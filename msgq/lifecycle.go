package msgq

// killConnection is the universal local-recovery action (spec §7): it
// tears down conn's registry/subscription state, closes its socket,
// and emits the notifications that tearing it down implies — one
// "unsubscribed" per distinct group it held subscriptions under,
// followed by a single "disconnected" (spec §4.6, scenario 5).
//
// It is safe to call more than once for the same Connection (both the
// I/O loop and deliver call it): a call for a connection that is no
// longer in the registry does nothing, so no second set of
// notifications is emitted.
func (b *Broker) killConnection(conn *Connection) {
	b.mu.Lock()
	registered := b.byLName[conn.lname] == conn
	b.mu.Unlock()
	if !registered {
		return
	}
	groups := b.destroyConnection(conn)
	for _, g := range groups {
		b.notify.onUnsubscribed(conn.LName(), g)
	}
	b.notify.onDisconnected(conn.LName())
}

// acceptConnection registers a freshly accepted socket and emits its
// "connected" notification. Called by the I/O loop once per accept.
func (b *Broker) acceptConnection(sock rawSocket) *Connection {
	conn := b.registerConnection(sock)
	b.notify.onConnected(conn.LName())
	return conn
}

// requestStop is invoked by the STOP command (spec §4.3) and by
// cmd/msgqd's signal handler. It both unblocks a pending
// WaitForConfigManager (in case the broker is asked to stop during
// bootstrap) and asks the I/O loop to exit via its stop channel.
func (b *Broker) requestStop() {
	b.notify.AbortBootstrap()

	b.mu.Lock()
	already := b.stopped
	b.stopped = true
	stopCh := b.stopCh
	b.mu.Unlock()
	if already {
		return
	}

	if stopCh != nil {
		select {
		case stopCh <- struct{}{}:
		default:
		}
	}
}

// bindStopChannel installs the channel the I/O loop polls alongside its
// listening and connection descriptors. Called once by Run before
// entering the poll loop.
func (b *Broker) bindStopChannel(ch chan struct{}) {
	b.mu.Lock()
	b.stopCh = ch
	b.mu.Unlock()
}

// RequestStop asks the I/O loop to exit, exactly as a STOP command
// would. Exported so cmd/msgqd's signal handler can trigger the same
// shutdown path a client's STOP command does (spec §4.3).
func (b *Broker) RequestStop() { b.requestStop() }

// WaitForConfigManager blocks until a client subscribes to
// ConfigManagerGroup or AbortBootstrap is called first (spec §4.6).
func (b *Broker) WaitForConfigManager() bool { return b.notify.WaitForConfigManager() }

// AbortBootstrap unblocks a pending WaitForConfigManager with an
// aborted result, used by cmd/msgqd when a bootstrap timeout elapses.
func (b *Broker) AbortBootstrap() { b.notify.AbortBootstrap() }

// OpenControlSurface starts the broker's own bus session, which
// publishes cc_members notifications and answers "members" admin
// queries (spec §4.6, Design Note 9). Call once, after
// WaitForConfigManager returns true.
func (b *Broker) OpenControlSurface() { b.notify.Open() }

// CloseControlSurface shuts the control surface's session down, if one
// was ever opened.
func (b *Broker) CloseControlSurface() { b.notify.Close() }

// Stopped reports whether RequestStop or a STOP command has already
// requested the broker's I/O loop to exit.
func (b *Broker) Stopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopped
}
