package transport

import (
	"sync"
	"time"

	"github.com/1ureka/rft/internal/protocol"
)

// inboxSize is the per-peer queue capacity. Stop-and-wait keeps at most a
// few packets in flight, so overflow only happens under a duplicate storm.
const inboxSize = 64

// inbox is a bounded packet queue fed by a reader goroutine or callback and
// drained by Receive. It is shared by every Conn that does not read its own
// socket directly.
type inbox struct {
	ch        chan *protocol.Packet
	done      chan struct{}
	closeOnce sync.Once
}

func newInbox() *inbox {
	return &inbox{
		ch:   make(chan *protocol.Packet, inboxSize),
		done: make(chan struct{}),
	}
}

// push enqueues pkt without blocking. It returns false if the queue is full
// or closed; the packet is dropped and the sender's ARQ will resend it.
func (q *inbox) push(pkt *protocol.Packet) bool {
	select {
	case <-q.done:
		return false
	default:
	}

	select {
	case q.ch <- pkt:
		return true
	default:
		return false
	}
}

// pop waits for the next packet. timeout <= 0 waits until close.
func (q *inbox) pop(timeout time.Duration) (*protocol.Packet, error) {
	// Queued packets win over a concurrent close.
	select {
	case pkt := <-q.ch:
		return pkt, nil
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case pkt := <-q.ch:
		return pkt, nil
	case <-expired:
		return nil, ErrTimeout
	case <-q.done:
		return nil, ErrClosed
	}
}

func (q *inbox) close() {
	q.closeOnce.Do(func() { close(q.done) })
}
