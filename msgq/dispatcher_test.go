package msgq

import (
	"encoding/json"
	"log"
	"testing"
)

// recordingFD captures every write it's given, so tests can inspect
// exactly what the broker sent back to a connection.
type recordingFD struct {
	id     int
	frames []Frame
}

func (f *recordingFD) fd() int { return f.id }
func (f *recordingFD) read(p []byte) (int, error) { return 0, nil }
func (f *recordingFD) close() error { return nil }

func (f *recordingFD) write(p []byte) (int, error) {
	total, err := totalLengthOf(be32(p[0:4]))
	if err != nil {
		return 0, err
	}
	fr, err := decodeFrame(p[4 : 4+total])
	if err != nil {
		return 0, err
	}
	f.frames = append(f.frames, fr)
	return len(p), nil
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func newTestBroker() *Broker {
	return NewBroker("/tmp/test.sock", log.New(logDiscard{}, "", 0))
}

type logDiscard struct{}

func (logDiscard) Write(p []byte) (int, error) { return len(p), nil }

func connectClient(b *Broker) (*Connection, *recordingFD) {
	fd := &recordingFD{id: nextTestFD()}
	conn := b.registerConnection(fd)
	return conn, fd
}

var testFDCounter int

func nextTestFD() int {
	testFDCounter++
	return testFDCounter
}

func TestHandleSendDeliversToSubscriberNotSender(t *testing.T) {
	b := newTestBroker()
	sender, senderFD := connectClient(b)
	sub, subFD := connectClient(b)
	b.handleSubscribe(sub, Frame{Header: Header{Group: "orders", Instance: "east"}})

	b.HandleFrame(sender, Frame{Header: Header{
		Type: CmdSend, Group: "orders", Instance: "east", To: WildcardTo, From: sender.LName(),
	}, Payload: []byte("hi")})

	if len(subFD.frames) != 1 {
		t.Fatalf("subscriber received %d frames, want 1", len(subFD.frames))
	}
	if len(senderFD.frames) != 0 {
		t.Fatalf("sender received %d frames, want 0 (no self-delivery)", len(senderFD.frames))
	}
}

func TestHandleSendWildcardInstanceDedup(t *testing.T) {
	b := newTestBroker()
	sender, _ := connectClient(b)
	sub, subFD := connectClient(b)
	b.handleSubscribe(sub, Frame{Header: Header{Group: "orders", Instance: "east"}})
	b.handleSubscribe(sub, Frame{Header: Header{Group: "orders", Instance: WildcardInstance}})

	b.HandleFrame(sender, Frame{Header: Header{
		Type: CmdSend, Group: "orders", Instance: "east", To: WildcardTo, From: sender.LName(),
	}})

	if len(subFD.frames) != 1 {
		t.Fatalf("subscriber received %d frames, want exactly 1 despite two matching subscriptions", len(subFD.frames))
	}
}

func TestHandleSendNoRecipientSynthesizesReply(t *testing.T) {
	b := newTestBroker()
	sender, senderFD := connectClient(b)

	b.HandleFrame(sender, Frame{Header: Header{
		Type: CmdSend, Group: "orders", Instance: "east", To: WildcardTo,
		From: sender.LName(), WantAnswer: true, Seq: "42",
	}})

	if len(senderFD.frames) != 1 {
		t.Fatalf("sender received %d frames, want 1 synthesized reply", len(senderFD.frames))
	}
	reply := senderFD.frames[0]
	if reply.Header.Reply != "42" || reply.Header.From != ReservedLName {
		t.Fatalf("reply header = %+v", reply.Header)
	}
	var payload noRecipientPayload
	if err := json.Unmarshal(reply.Payload, &payload); err != nil {
		t.Fatalf("unmarshal reply payload: %v", err)
	}
	if payload.Code != CC_REPLY_NO_RECPT {
		t.Errorf("Code = %d, want %d", payload.Code, CC_REPLY_NO_RECPT)
	}
}

func TestHandleSendNoRecipientWithoutWantAnswerStaysSilent(t *testing.T) {
	b := newTestBroker()
	sender, senderFD := connectClient(b)

	b.HandleFrame(sender, Frame{Header: Header{
		Type: CmdSend, Group: "orders", Instance: "east", To: WildcardTo, From: sender.LName(),
	}})

	if len(senderFD.frames) != 0 {
		t.Fatalf("sender received %d frames, want 0 (no want_answer, no reply)", len(senderFD.frames))
	}
}

func TestHandleGetLNameReturnsOwnName(t *testing.T) {
	b := newTestBroker()
	conn, fd := connectClient(b)

	b.HandleFrame(conn, Frame{Header: Header{Type: CmdGetLName, Seq: "1"}})

	if len(fd.frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(fd.frames))
	}
	var body struct {
		LName string `json:"lname"`
	}
	if err := json.Unmarshal(fd.frames[0].Payload, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.LName != conn.LName() {
		t.Errorf("lname = %q, want %q", body.LName, conn.LName())
	}
}

func TestHandlePingRepliesPong(t *testing.T) {
	b := newTestBroker()
	conn, fd := connectClient(b)

	b.HandleFrame(conn, Frame{Header: Header{Type: CmdPing, Seq: "9"}, Payload: []byte("ping-body")})

	if len(fd.frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(fd.frames))
	}
	if fd.frames[0].Header.Type != CmdPong {
		t.Errorf("type = %q, want %q", fd.frames[0].Header.Type, CmdPong)
	}
	if string(fd.frames[0].Payload) != "ping-body" {
		t.Errorf("payload = %q, want echoed payload", fd.frames[0].Payload)
	}
}

func TestHandleSendDirectToLName(t *testing.T) {
	b := newTestBroker()
	sender, _ := connectClient(b)
	target, targetFD := connectClient(b)

	b.HandleFrame(sender, Frame{Header: Header{
		Type: CmdSend, Group: "orders", Instance: "east", To: target.LName(), From: sender.LName(),
	}})

	if len(targetFD.frames) != 1 {
		t.Fatalf("target received %d frames, want 1 direct delivery", len(targetFD.frames))
	}
}
