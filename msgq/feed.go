package msgq

import "sync"

// MemberEvent is one cc_members notification, mirrored off the bus for
// local (non-bus) consumers — currently just the admin WebSocket feed.
type MemberEvent struct {
	Type   string
	Client string
	Group  string
}

// Feed fans membership events out to admin observers. It is entirely
// independent of the bus-level cc_members delivery in control.go: a
// WebSocket client watching /admin/events never occupies a lname or a
// subscription-table entry.
type Feed struct {
	mu   sync.Mutex
	subs map[chan MemberEvent]struct{}
}

func newFeed() *Feed {
	return &Feed{subs: make(map[chan MemberEvent]struct{})}
}

// Subscribe returns a channel that receives every subsequent
// MemberEvent. The caller must eventually call Unsubscribe.
func (f *Feed) Subscribe() chan MemberEvent {
	ch := make(chan MemberEvent, 64)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	return ch
}

// Unsubscribe stops delivery to ch and closes it. Safe to call at most
// once per channel returned by Subscribe.
func (f *Feed) Unsubscribe(ch chan MemberEvent) {
	f.mu.Lock()
	if _, ok := f.subs[ch]; ok {
		delete(f.subs, ch)
		close(ch)
	}
	f.mu.Unlock()
}

func (f *Feed) broadcast(ev MemberEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- ev:
		default:
			// A slow admin observer drops events rather than stalling
			// the broker's notification path; /admin/members still
			// gives it the authoritative current state on demand.
		}
	}
}
