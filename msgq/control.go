package msgq

import (
	"encoding/json"
	"sync"
)

// AdminRequestGroup is the well-known group administrative bus clients
// SEND a "members" query to. It is not part of the command-type set in
// spec §6 (which only recognizes send/subscribe/unsubscribe/getlname/
// ping/stop); a members query is an ordinary SEND, routed to the
// control surface's loopback connection the same way any other SEND
// reaches a subscriber, with a JSON payload of the shape
// {"command":"members"} or {"command":"members","group":"G"}.
const AdminRequestGroup = "msgq.members"

// controlSurface is the broker's second goroutine (spec §4.6, §5):
// it speaks the bus as an ordinary client in order to publish
// cc_members notifications and answer "members" queries. Per Design
// Note 9, it is implemented as a loopback connection sharing the
// broker's state through the same mutex, not a literal self-dial over
// the listening socket.
type controlSurface struct {
	broker *Broker

	bootstrapMu       sync.Mutex
	bootstrapCond     *sync.Cond
	bootstrapSeen     bool
	bootstrapAborted  bool

	openMu sync.Mutex
	conn   *Connection // nil until Open() succeeds
	sock   *loopbackSocket

	doneCh chan struct{}
}

func newControlSurface(b *Broker) *controlSurface {
	cs := &controlSurface{broker: b}
	cs.bootstrapCond = sync.NewCond(&cs.bootstrapMu)
	return cs
}

// WaitForConfigManager blocks until some client subscribes to
// ConfigManagerGroup, or until AbortBootstrap is called first (broker
// told to stop before a config manager ever appeared). It returns
// false in the aborted case, matching spec §4.6's "wait also returns
// (with 'aborted' status)".
func (cs *controlSurface) WaitForConfigManager() (ok bool) {
	cs.bootstrapMu.Lock()
	defer cs.bootstrapMu.Unlock()
	for !cs.bootstrapSeen && !cs.bootstrapAborted {
		cs.bootstrapCond.Wait()
	}
	return cs.bootstrapSeen
}

// AbortBootstrap wakes any in-progress WaitForConfigManager call with
// an aborted result. Safe to call even if no wait is outstanding yet,
// and safe to call more than once.
func (cs *controlSurface) AbortBootstrap() {
	cs.bootstrapMu.Lock()
	cs.bootstrapAborted = true
	cs.bootstrapMu.Unlock()
	cs.bootstrapCond.Broadcast()
}

// signalConfigManagerSeen is called from handleSubscribe whenever a
// SUBSCRIBE to ConfigManagerGroup succeeds; only the first call has any
// effect.
func (cs *controlSurface) signalConfigManagerSeen() {
	cs.bootstrapMu.Lock()
	if cs.bootstrapSeen {
		cs.bootstrapMu.Unlock()
		return
	}
	cs.bootstrapSeen = true
	cs.bootstrapMu.Unlock()
	cs.bootstrapCond.Broadcast()
}

// Open registers the control surface's loopback connection and starts
// its request-handling goroutine. Called once, after WaitForConfigManager
// returns true. If the broker aborted bootstrap first, Open is never
// called and no control session exists, matching spec §4.6.
func (cs *controlSurface) Open() {
	cs.openMu.Lock()
	defer cs.openMu.Unlock()
	if cs.conn != nil {
		return
	}

	sock := newLoopbackSocket()
	conn := cs.broker.registerConnection(sock)
	cs.broker.mu.Lock()
	cs.broker.subs.subscribe(AdminRequestGroup, WildcardInstance, conn)
	cs.broker.mu.Unlock()

	cs.sock = sock
	cs.conn = conn
	cs.doneCh = make(chan struct{})
	go cs.run()
}

// Close shuts down the control surface's loopback connection, if one
// was ever opened.
func (cs *controlSurface) Close() {
	cs.openMu.Lock()
	defer cs.openMu.Unlock()
	if cs.conn == nil {
		return
	}
	cs.broker.destroyConnection(cs.conn)
	<-cs.doneCh
	cs.conn = nil
}

func (cs *controlSurface) isOpen() bool {
	cs.openMu.Lock()
	defer cs.openMu.Unlock()
	return cs.conn != nil
}

// run reads wire-encoded frames delivered to the loopback socket
// (exactly the bytes a real subscriber's socket would receive) and
// answers "members" queries.
func (cs *controlSurface) run() {
	defer close(cs.doneCh)
	for wire := range cs.sock.outbox {
		f, err := parseWireFrame(wire)
		if err != nil {
			continue
		}
		cs.handleAdminRequest(f)
	}
}

type membersRequest struct {
	Command string `json:"command"`
	Group   string `json:"group"`
}

type membersResponse struct {
	Members []string `json:"members"`
}

func (cs *controlSurface) handleAdminRequest(f Frame) {
	var req membersRequest
	if err := json.Unmarshal(f.Payload, &req); err != nil || req.Command != "members" {
		return
	}

	var members []string
	if req.Group == "" {
		members = cs.broker.Members()
	} else {
		members = cs.broker.MembersOf(req.Group)
	}
	payload, _ := json.Marshal(membersResponse{Members: members})

	reply := Frame{
		Header: Header{
			Reply: f.Header.Seq,
			From:  ReservedLName,
			To:    f.Header.From,
		},
		Payload: payload,
	}
	cs.broker.replyDirect(reply)
}

// --- membership event publishing -------------------------------------

type memberEvent struct {
	Event  string `json:"event"`
	Client string `json:"client"`
	Group  string `json:"group,omitempty"`
}

func (cs *controlSurface) publish(event string, payload memberEvent) {
	if !cs.isOpen() {
		// No control session yet (bootstrap still pending): there is
		// nobody to publish through, matching spec §4.6 — membership
		// events can only flow once the broker has its own bus
		// session.
		return
	}
	payload.Event = event
	body, _ := json.Marshal(payload)
	f := Frame{
		Header: Header{
			Type:     CmdSend,
			Group:    MembersGroup,
			Instance: WildcardInstance,
			To:       WildcardTo,
			From:     cs.conn.LName(),
		},
		Payload: body,
	}
	// The notification is emitted after the event it describes (spec
	// §4.6), so a client's own "subscribed" notification can reach it
	// (the table mutation already happened by the time this SEND is
	// dispatched) while its own "unsubscribed" notification cannot
	// (the connection, and its interest in cc_members, is already
	// gone by the time destroyConnection's caller publishes it).
	// SEND's ordinary self-exclusion rule only ever excludes the
	// publisher (the control surface's own loopback connection), never
	// the subject named in the payload.
	cs.broker.HandleFrame(cs.conn, f)
	cs.broker.feed.broadcast(MemberEvent{Type: event, Client: payload.Client, Group: payload.Group})
}

func (cs *controlSurface) onConnected(lname string) {
	cs.publish(EventConnected, memberEvent{Client: lname})
}

func (cs *controlSurface) onDisconnected(lname string) {
	cs.publish(EventDisconnected, memberEvent{Client: lname})
}

func (cs *controlSurface) onSubscribed(lname, group string) {
	if group == ConfigManagerGroup {
		cs.signalConfigManagerSeen()
	}
	cs.publish(EventSubscribed, memberEvent{Client: lname, Group: group})
}

func (cs *controlSurface) onUnsubscribed(lname, group string) {
	cs.publish(EventUnsubscribed, memberEvent{Client: lname, Group: group})
}
