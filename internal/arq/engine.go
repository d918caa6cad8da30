// Package arq implements the stop-and-wait acknowledgement engine: every
// packet a sender emits is retransmitted until the matching acknowledgement
// arrives or the retry budget runs out.
package arq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/rft/internal/protocol"
	"github.com/1ureka/rft/internal/transport"
	"github.com/1ureka/rft/internal/util"
)

// DefaultMaxRetries bounds the attempts per packet and, on the passive side,
// the consecutive idle receive windows.
const DefaultMaxRetries = 8

// ErrConnectionClosed means the retry budget was exhausted. It is fatal to
// the whole session, not only to the current packet.
var ErrConnectionClosed = errors.New("connection closed")

// StrayHandler is called with every decoded packet that is not the awaited
// acknowledgement. Returning an error aborts the exchange.
type StrayHandler func(pkt *protocol.Packet) error

// Engine drives send-and-confirm exchanges over one Conn.
type Engine struct {
	conn       transport.Conn
	maxRetries int
	timeout    time.Duration
	onStray    StrayHandler
	tag        string
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxRetries sets the attempts per packet. Values < 1 are ignored.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n >= 1 {
			e.maxRetries = n
		}
	}
}

// WithTimeout sets how long each attempt waits for its acknowledgement.
// Values <= 0 are ignored.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithStrayHandler installs fn for packets that are not the awaited ack.
func WithStrayHandler(fn StrayHandler) Option {
	return func(e *Engine) { e.onStray = fn }
}

// WithTag sets the log prefix used in packet traces.
func WithTag(tag string) Option {
	return func(e *Engine) { e.tag = tag }
}

// New creates an Engine bound to conn.
func New(conn transport.Conn, opts ...Option) *Engine {
	e := &Engine{
		conn:       conn,
		maxRetries: DefaultMaxRetries,
		timeout:    transport.DefaultTimeout,
		tag:        conn.Peer(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Deliver sends pkt and waits for an acknowledgement echoing pkt.SeqNum.
//
// Each of the MaxRetries attempts sends the packet once and waits one
// timeout. A timeout, an undecodable datagram, or any other packet moves on
// to the next attempt. Transport I/O errors are returned immediately. When
// every attempt is spent the result wraps ErrConnectionClosed.
func (e *Engine) Deliver(ctx context.Context, pkt *protocol.Packet) error {
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if attempt > 1 {
			util.Stats.AddRetransmit()
		}
		if err := e.conn.Send(pkt); err != nil {
			return fmt.Errorf("send %s: %w", pkt, err)
		}
		util.LogPacket(e.tag, true, pkt)

		reply, err := e.conn.Receive(e.timeout)
		switch {
		case err == nil:
		case errors.Is(err, transport.ErrTimeout):
			util.LogDebug("[%s] no ACK %d (attempt %d/%d)", e.tag, pkt.SeqNum, attempt, e.maxRetries)
			continue
		case protocol.IsMalformed(err):
			util.LogDebug("[%s] ignoring undecodable reply: %v", e.tag, err)
			continue
		default:
			return fmt.Errorf("await ACK %d: %w", pkt.SeqNum, err)
		}
		util.LogPacket(e.tag, false, reply)

		if reply.Kind == protocol.KindAck && reply.SeqNum == pkt.SeqNum {
			return nil
		}

		if e.onStray != nil {
			if err := e.onStray(reply); err != nil {
				return err
			}
		}
	}

	return fmt.Errorf("%w: %s unacknowledged after %d attempts", ErrConnectionClosed, pkt, e.maxRetries)
}

// MaxRetries returns the configured attempt bound.
func (e *Engine) MaxRetries() int { return e.maxRetries }

// Timeout returns the configured per-attempt wait.
func (e *Engine) Timeout() time.Duration { return e.timeout }
