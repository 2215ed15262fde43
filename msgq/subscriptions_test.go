package msgq

import "testing"

func fakeConn(fd int) *Connection {
	return &Connection{
		lname:            "conn",
		sock:             &fakeFD{id: fd},
		subscribedGroups: make(map[string]int),
	}
}

// fakeFD is a minimal rawSocket that gives test Connections a stable
// fd; its write accepts and discards every byte, and its read returns
// nothing.
type fakeFD struct{ id int }

func (f *fakeFD) fd() int                      { return f.id }
func (f *fakeFD) write(p []byte) (int, error)  { return len(p), nil }
func (f *fakeFD) read(p []byte) (int, error)   { return 0, nil }
func (f *fakeFD) close() error                 { return nil }

func TestSubscriptionTableExactMatch(t *testing.T) {
	tbl := newSubscriptionTable()
	c1 := fakeConn(1)
	tbl.subscribe("orders", "east", c1)

	got := tbl.findExact("orders", "east")
	if len(got) != 1 || got[0] != c1 {
		t.Fatalf("findExact = %v, want [c1]", got)
	}
	if got := tbl.findExact("orders", "west"); len(got) != 0 {
		t.Errorf("findExact(orders, west) = %v, want none", got)
	}
}

func TestSubscriptionTableWildcardUnion(t *testing.T) {
	tbl := newSubscriptionTable()
	exact := fakeConn(1)
	wild := fakeConn(2)
	tbl.subscribe("orders", "east", exact)
	tbl.subscribe("orders", WildcardInstance, wild)

	got := tbl.find("orders", "east")
	if len(got) != 2 {
		t.Fatalf("find = %v, want both exact and wildcard subscribers", got)
	}
}

func TestSubscriptionTableFindDedupesSameConnection(t *testing.T) {
	tbl := newSubscriptionTable()
	c := fakeConn(1)
	tbl.subscribe("orders", "east", c)
	tbl.subscribe("orders", WildcardInstance, c)

	got := tbl.find("orders", "east")
	if len(got) != 1 {
		t.Fatalf("find = %v, want exactly one deduped entry", got)
	}
}

func TestSubscriptionTableUnsubscribe(t *testing.T) {
	tbl := newSubscriptionTable()
	c := fakeConn(1)
	tbl.subscribe("orders", "east", c)

	if !tbl.unsubscribe("orders", "east", c) {
		t.Fatal("unsubscribe reported no change")
	}
	if tbl.unsubscribe("orders", "east", c) {
		t.Fatal("second unsubscribe should be a no-op")
	}
	if got := tbl.findExact("orders", "east"); len(got) != 0 {
		t.Errorf("findExact after unsubscribe = %v, want none", got)
	}
}

func TestSubscriptionTableUnsubscribeAllReturnsDistinctGroups(t *testing.T) {
	tbl := newSubscriptionTable()
	c := fakeConn(1)
	tbl.subscribe("orders", "east", c)
	tbl.subscribe("orders", "west", c)
	tbl.subscribe("shipping", "east", c)

	groups := tbl.unsubscribeAll(c)
	if len(groups) != 2 {
		t.Fatalf("unsubscribeAll groups = %v, want 2 distinct groups", groups)
	}
	seen := map[string]bool{}
	for _, g := range groups {
		seen[g] = true
	}
	if !seen["orders"] || !seen["shipping"] {
		t.Errorf("unsubscribeAll groups = %v, want orders and shipping", groups)
	}
}
