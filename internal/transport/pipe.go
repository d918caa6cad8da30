package transport

import (
	"sync"
	"time"

	"github.com/1ureka/rft/internal/protocol"
)

// DropFunc decides whether an outgoing packet is lost. It is called once per
// Send with the packet about to be delivered.
type DropFunc func(pkt *protocol.Packet) bool

// PipeConn is one end of an in-memory datagram link created by Pipe.
type PipeConn struct {
	name string
	in   *inbox
	peer *PipeConn

	mu   sync.Mutex
	drop DropFunc
	sent int
}

// Pipe returns two linked conns. Every packet is encoded and decoded on its
// way through, so the pair behaves like the wire, including losses injected
// with SetDropFunc.
func Pipe() (a, b *PipeConn) {
	a = &PipeConn{name: "pipe-a", in: newInbox()}
	b = &PipeConn{name: "pipe-b", in: newInbox()}
	a.peer = b
	b.peer = a
	return a, b
}

// SetDropFunc installs a loss filter for packets sent from this end.
func (c *PipeConn) SetDropFunc(fn DropFunc) {
	c.mu.Lock()
	c.drop = fn
	c.mu.Unlock()
}

// Sent returns how many packets Send has accepted, including dropped ones.
func (c *PipeConn) Sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

func (c *PipeConn) Send(pkt *protocol.Packet) error {
	data, err := protocol.Encode(pkt)
	if err != nil {
		return err
	}

	select {
	case <-c.in.done:
		return ErrClosed
	default:
	}

	c.mu.Lock()
	c.sent++
	drop := c.drop
	c.mu.Unlock()

	wire, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	if drop != nil && drop(wire) {
		return nil
	}

	c.peer.in.push(wire)
	return nil
}

func (c *PipeConn) Receive(timeout time.Duration) (*protocol.Packet, error) {
	return c.in.pop(timeout)
}

func (c *PipeConn) Peer() string  { return c.peer.name }
func (c *PipeConn) Local() string { return c.name }

// Close closes this end only; the peer keeps timing out, as with a vanished
// UDP host.
func (c *PipeConn) Close() error {
	c.in.close()
	return nil
}
