package peer

import (
	"sync"

	"github.com/BioHazard786/warpmeet/internal/session"
)

// mailbox is an unbounded FIFO of session events. Posting never blocks.
type mailbox struct {
	mu     sync.Mutex
	items  []session.Event
	notify chan struct{}
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

// post appends ev and reports whether the mailbox was still open.
func (b *mailbox) post(ev session.Event) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.items = append(b.items, ev)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return true
}

// next blocks until an event is available. It returns false once the mailbox is
// closed and drained.
func (b *mailbox) next() (session.Event, bool) {
	for {
		b.mu.Lock()
		if len(b.items) > 0 {
			ev := b.items[0]
			b.items[0] = nil
			b.items = b.items[1:]
			b.mu.Unlock()
			return ev, true
		}
		if b.closed {
			b.mu.Unlock()
			return nil, false
		}
		b.mu.Unlock()
		<-b.notify
	}
}

// close rejects further posts and discards anything still queued.
func (b *mailbox) close() {
	b.mu.Lock()
	b.closed = true
	b.items = nil
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}
