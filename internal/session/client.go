package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/rft/internal/arq"
	"github.com/1ureka/rft/internal/protocol"
	"github.com/1ureka/rft/internal/transport"
	"github.com/1ureka/rft/internal/util"
)

// Client downloads files over one Conn. It is the active side only for the
// request; afterwards it is driven by the server's acknowledgement engine.
type Client struct {
	conn     transport.Conn
	opts     Options
	tag      string
	progress func(percent uint8)
}

// NewClient creates a Client bound to conn. The Client does not close conn.
func NewClient(conn transport.Conn, opts Options) *Client {
	return &Client{
		conn: conn,
		opts: opts.withDefaults(),
		tag:  util.SessionTag(conn.Local(), conn.Peer()),
	}
}

// OnProgress registers fn to receive the server's advisory percent for every
// newly written chunk.
func (c *Client) OnProgress(fn func(percent uint8)) {
	c.progress = fn
}

// Fetch requests remotePath and writes it to localPath. On success the file
// at localPath is byte-identical to the server's copy; on any failure no
// file is created at localPath. A server-side refusal is returned as a
// *RemoteError.
func (c *Client) Fetch(ctx context.Context, remotePath, localPath string) (*Result, error) {
	if remotePath == "" {
		return nil, ErrEmptyPath
	}
	if len(remotePath) > protocol.MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPathTooLong, len(remotePath), protocol.MaxPayloadSize)
	}

	start := time.Now()
	util.Stats.OpenSession()
	defer util.Stats.CloseSession()

	// 1. Request, confirmed like any other packet.
	engine := c.opts.engine(c.conn, c.tag, nil)
	if err := engine.Deliver(ctx, protocol.NewRequest(remotePath)); err != nil {
		return nil, fmt.Errorf("request %s: %w", remotePath, err)
	}
	util.LogDebug("[%s] request for %s acknowledged", c.tag, remotePath)

	// 2. Destination.
	dst, err := createDestination(localPath)
	if err != nil {
		return nil, err
	}

	res := &Result{Path: remotePath}
	if err := c.receive(ctx, dst, res); err != nil {
		return nil, err
	}

	res.Elapsed = time.Since(start)
	return res, nil
}

// receive runs the passive loop until Finale, Error or idle exhaustion.
// It owns dst: it is either committed or discarded before receive returns.
func (c *Client) receive(ctx context.Context, dst *destination, res *Result) error {
	committed := false
	defer func() {
		if !committed {
			dst.abort()
		}
	}()

	expected := protocol.RequestSeq // last in-order sequence number written
	idle := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		pkt, err := c.conn.Receive(c.opts.Timeout)
		switch {
		case err == nil:
			idle = 0
		case errors.Is(err, transport.ErrTimeout), protocol.IsMalformed(err):
			idle++
			util.LogDebug("[%s] idle %d/%d after SEQ %d", c.tag, idle, c.opts.MaxRetries, expected)
			if idle >= c.opts.MaxRetries {
				return fmt.Errorf("%w: no packet after SEQ %d", arq.ErrConnectionClosed, expected)
			}
			continue
		default:
			return fmt.Errorf("receive: %w", err)
		}
		util.LogPacket(c.tag, false, pkt)

		switch pkt.Kind {
		case protocol.KindSequence:
			if pkt.SeqNum == expected+1 {
				if _, err := dst.Write(pkt.Payload); err != nil {
					return fmt.Errorf("write %s: %w", dst.path, err)
				}
				expected = pkt.SeqNum
				res.Bytes += int64(len(pkt.Payload))
				res.Packets++
				if c.progress != nil {
					c.progress(pkt.Percent)
				}
			} else {
				util.LogDebug("[%s] duplicate or out-of-order SEQ %d, re-acknowledging %d", c.tag, pkt.SeqNum, expected)
			}
			if err := sendAck(c.conn, c.tag, expected, pkt.Percent); err != nil {
				return err
			}

		case protocol.KindFinale:
			if pkt.SeqNum != protocol.FinaleMarker(expected) {
				// Still acknowledged so the server stops resending.
				mismatch := fmt.Errorf("%w: got %d after SEQ %d", ErrUnexpectedFinale, pkt.SeqNum, expected)
				return errors.Join(mismatch, sendAck(c.conn, c.tag, pkt.SeqNum, pkt.Percent))
			}
			committed = true
			commitErr := dst.commit()
			if err := sendAck(c.conn, c.tag, pkt.SeqNum, pkt.Percent); err != nil {
				return errors.Join(commitErr, err)
			}
			return commitErr

		case protocol.KindError:
			if err := sendAck(c.conn, c.tag, pkt.SeqNum, pkt.Percent); err != nil {
				return err
			}
			return &RemoteError{Code: pkt.Code, Message: string(pkt.Payload)}

		case protocol.KindAck:
			// The server re-acknowledging a retransmitted request.
			util.LogDebug("[%s] ignoring stray %s", c.tag, pkt)

		default:
			util.LogDebug("[%s] ignoring unknown packet kind %s", c.tag, pkt.Kind)
		}
	}
}
