package msgq

import "encoding/json"

// HandleFrame interprets a decoded frame as a command and drives the
// subscription table and connection registry accordingly (spec §4.3).
// It is called by the I/O loop once per frame read off conn's socket.
//
// Each command performs its table mutation (and, for SEND, recipient
// lookup) inside a single short critical section, then — for commands
// that fan out to other connections — delivers frames outside that
// section. Delivery to any one connection (deliver, below) takes the
// broker's mutex again for the duration of the actual buffer append,
// so the "all mutation behind one lock" invariant (spec §5) holds
// without requiring HandleFrame itself to hold the lock across a
// command's entire (possibly multi-recipient) fan-out.
func (b *Broker) HandleFrame(conn *Connection, f Frame) {
	switch f.Header.Type {
	case CmdSend:
		b.handleSend(conn, f)
	case CmdSubscribe:
		b.handleSubscribe(conn, f)
	case CmdUnsubscribe:
		b.handleUnsubscribe(conn, f)
	case CmdGetLName:
		b.handleGetLName(conn, f)
	case CmdPing:
		b.handlePing(conn, f)
	case CmdStop:
		b.handleStop(conn, f)
	default:
		b.logf("unknown command type %q from %s: discarding", f.Header.Type, conn.LName())
	}
}

// handleSend implements spec §4.3's SEND command, including
// self-exclusion and no-recipient reply synthesis.
func (b *Broker) handleSend(conn *Connection, f Frame) {
	h := f.Header
	if h.Group == "" || h.Instance == "" {
		return // malformed SEND: missing group/instance, drop silently
	}

	b.mu.Lock()
	var recipients []*Connection
	if h.To == WildcardTo {
		recipients = b.subs.find(h.Group, h.Instance)
	} else if target, ok := b.byLName[h.To]; ok {
		recipients = []*Connection{target}
	}
	// No self-bounce: the sender never receives its own SEND.
	filtered := recipients[:0:0]
	for _, r := range recipients {
		if r.FD() != conn.FD() {
			filtered = append(filtered, r)
		}
	}
	recipients = filtered
	b.mu.Unlock()

	for _, r := range recipients {
		b.deliver(r, f)
	}

	if len(recipients) == 0 && h.WantAnswer && !h.hasReply() {
		// The reply's To echoes the client-supplied From header as is:
		// the broker trusts From and never compares it with the sender's
		// own lname. The reply itself is delivered to conn.
		reply := Frame{
			Header: Header{
				Type:  h.Type,
				Group: h.Group,
				Instance: h.Instance,
				Reply: h.Seq,
				From:  ReservedLName,
				To:    h.From,
			},
			Payload: newNoRecipientPayload(),
		}
		b.deliver(conn, reply)
	}
}

func (b *Broker) handleSubscribe(conn *Connection, f Frame) {
	h := f.Header
	if h.Group == "" || h.Instance == "" {
		return
	}

	b.mu.Lock()
	b.subs.subscribe(h.Group, h.Instance, conn)
	conn.subscribedGroups[h.Group]++
	b.mu.Unlock()

	b.notify.onSubscribed(conn.LName(), h.Group)
}

func (b *Broker) handleUnsubscribe(conn *Connection, f Frame) {
	h := f.Header
	if h.Group == "" || h.Instance == "" {
		return
	}

	b.mu.Lock()
	changed := b.subs.unsubscribe(h.Group, h.Instance, conn)
	if changed {
		if n := conn.subscribedGroups[h.Group]; n <= 1 {
			delete(conn.subscribedGroups, h.Group)
		} else {
			conn.subscribedGroups[h.Group] = n - 1
		}
	}
	b.mu.Unlock()

	if changed {
		b.notify.onUnsubscribed(conn.LName(), h.Group)
	}
}

func (b *Broker) handleGetLName(conn *Connection, f Frame) {
	payload, _ := json.Marshal(struct {
		LName string `json:"lname"`
	}{LName: conn.LName()})

	reply := Frame{
		Header: Header{
			Reply: f.Header.Seq,
			From:  ReservedLName,
			To:    conn.LName(),
		},
		Payload: payload,
	}
	b.deliver(conn, reply)
}

func (b *Broker) handlePing(conn *Connection, f Frame) {
	reply := Frame{
		Header: Header{
			Type:  CmdPong,
			Reply: f.Header.Seq,
			From:  ReservedLName,
			To:    conn.LName(),
		},
		Payload: f.Payload,
	}
	b.deliver(conn, reply)
}

func (b *Broker) handleStop(conn *Connection, f Frame) {
	b.requestStop()
}

// deliver encodes f and enqueues it for conn, killing the connection
// if the send fails or the connection turns out to be a stalled slow
// consumer (spec §4.4).
func (b *Broker) deliver(conn *Connection, f Frame) {
	wire, err := encodeFrame(f)
	if err != nil {
		b.logf("encode outgoing frame for %s: %v", conn.LName(), err)
		return
	}

	b.mu.Lock()
	cerr := conn.send(wire)
	b.mu.Unlock()

	if cerr != nil {
		b.logf("%v", cerr)
		b.killConnection(conn)
	}
}
