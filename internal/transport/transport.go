// Package transport moves protocol packets over an unreliable datagram
// transport. Every implementation reports a silent peer as ErrTimeout, which
// the acknowledgement engine treats as a lost packet rather than a failure.
package transport

import (
	"errors"
	"time"

	"github.com/1ureka/rft/internal/protocol"
)

// DefaultTimeout is the receive bound used by both ends of a session.
const DefaultTimeout = 2 * time.Second

var (
	ErrTimeout = errors.New("receive timed out")
	ErrClosed  = errors.New("transport closed")
)

// Conn is a datagram link to exactly one peer.
type Conn interface {
	// Send transmits exactly pkt.WireSize() bytes to the peer.
	Send(pkt *protocol.Packet) error

	// Receive blocks until a packet arrives or timeout elapses, returning
	// ErrTimeout in the latter case. A timeout <= 0 waits indefinitely.
	Receive(timeout time.Duration) (*protocol.Packet, error)

	// Peer describes the remote end for logging.
	Peer() string

	// Local describes the local end for logging.
	Local() string

	Close() error
}
