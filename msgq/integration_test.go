package msgq

import (
	"encoding/binary"
	"net"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"
)

// TestMain enforces that no test in this package leaks a goroutine past
// its own completion — in particular that killConnection/destroyConnection
// always actually stop a Connection's implicit goroutines (there are
// none on the Connection itself, but the control surface and Run both
// spawn one each, and every test that opens either must also close it).
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testClient is a minimal synchronous client over a real UNIX-domain
// socket, used by the end-to-end tests below to exercise Broker.Run's
// actual poll-based reactor rather than calling Broker methods directly.
type testClient struct {
	conn net.Conn
}

func dialTestClient(t *testing.T, path string) *testClient {
	t.Helper()
	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("unix", path)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	return &testClient{conn: conn}
}

func (c *testClient) send(t *testing.T, f Frame) {
	t.Helper()
	wire, err := encodeFrame(f)
	if err != nil {
		t.Fatalf("encodeFrame: %v", err)
	}
	if _, err := c.conn.Write(wire); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (c *testClient) recv(t *testing.T) Frame {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var prefix [4]byte
	if _, err := readFull(c.conn, prefix[:]); err != nil {
		t.Fatalf("read prefix: %v", err)
	}
	total := binary.BigEndian.Uint32(prefix[:])
	body := make([]byte, total)
	if _, err := readFull(c.conn, body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	f, err := decodeFrame(body)
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	return f
}

func readFull(c net.Conn, buf []byte) (int, error) {
	read := 0
	for read < len(buf) {
		n, err := c.Read(buf[read:])
		read += n
		if err != nil {
			return read, err
		}
	}
	return read, nil
}

func (c *testClient) close() { c.conn.Close() }

func startTestBroker(t *testing.T) (*Broker, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "msgq.sock")
	ln, err := Listen(path)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	b := NewBroker(path, nil)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = b.Run(ln)
	}()

	t.Cleanup(func() {
		b.RequestStop()
		ln.Close()
		<-runDone
	})

	return b, path
}

func TestEndToEndPublishSubscribeSelfExclusion(t *testing.T) {
	b, path := startTestBroker(t)
	_ = b

	sub := dialTestClient(t, path)
	defer sub.close()
	sub.send(t, Frame{Header: Header{Type: CmdSubscribe, Group: "orders", Instance: "east"}})

	pub := dialTestClient(t, path)
	defer pub.close()
	time.Sleep(50 * time.Millisecond) // let the subscribe land before publishing

	pub.send(t, Frame{Header: Header{
		Type: CmdSend, Group: "orders", Instance: "east", To: WildcardTo, From: "pub",
	}, Payload: []byte("hello")})

	f := sub.recv(t)
	if string(f.Payload) != "hello" {
		t.Fatalf("subscriber payload = %q, want %q", f.Payload, "hello")
	}
}

func TestEndToEndNoRecipientReply(t *testing.T) {
	_, path := startTestBroker(t)

	pub := dialTestClient(t, path)
	defer pub.close()

	pub.send(t, Frame{Header: Header{
		Type: CmdSend, Group: "nobody-home", Instance: "east", To: WildcardTo,
		From: "pub", WantAnswer: true, Seq: "1",
	}})

	f := pub.recv(t)
	if f.Header.Reply != "1" || f.Header.From != ReservedLName {
		t.Fatalf("reply header = %+v", f.Header)
	}
}

func TestEndToEndGetLName(t *testing.T) {
	_, path := startTestBroker(t)

	c := dialTestClient(t, path)
	defer c.close()

	c.send(t, Frame{Header: Header{Type: CmdGetLName, Seq: "1"}})
	f := c.recv(t)
	if f.Header.Reply != "1" {
		t.Fatalf("reply header = %+v", f.Header)
	}
}

func TestEndToEndStopThenRemoveSocketFile(t *testing.T) {
	// Mirrors cmd/msgqd's shutdown sequence: stop the reactor, then
	// remove the socket file it was listening on (spec §2).
	b, path := startTestBroker(t)
	b.RequestStop()
	time.Sleep(100 * time.Millisecond)
	if err := RemoveSocketFile(path); err != nil {
		t.Fatalf("RemoveSocketFile: %v", err)
	}
}
