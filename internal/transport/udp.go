package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/1ureka/rft/internal/protocol"
	"github.com/1ureka/rft/internal/util"
)

// UDPConn is a Conn over a UDP socket connected to a single server.
// It is owned by one session goroutine and is not safe for concurrent Receive.
type UDPConn struct {
	conn *net.UDPConn
	buf  []byte
}

// DialUDP resolves addr and connects a UDP socket to it.
func DialUDP(addr string) (*UDPConn, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", addr, err)
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	return &UDPConn{
		conn: conn,
		// One spare byte so an oversized datagram is visible instead of silently cut.
		buf: make([]byte, protocol.MaxDatagramSize+1),
	}, nil
}

// Send encodes pkt and writes it as one datagram.
func (c *UDPConn) Send(pkt *protocol.Packet) error {
	data, err := protocol.Encode(pkt)
	if err != nil {
		return err
	}

	n, err := c.conn.Write(data)
	if err != nil {
		return fmt.Errorf("udp write: %w", err)
	}

	util.Stats.AddSent(n)
	return nil
}

// Receive reads one datagram. Undecodable datagrams are returned as
// protocol.ErrMalformedHeader / protocol.ErrTruncated.
func (c *UDPConn) Receive(timeout time.Duration) (*protocol.Packet, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("udp set deadline: %w", err)
	}

	n, err := c.conn.Read(c.buf)
	if errors.Is(err, syscall.ECONNREFUSED) {
		// ICMP port unreachable: nobody is listening yet. Treat it as a
		// silent window so the retry budget still measures time.
		util.LogDebug("%s refused the datagram", c.Peer())
		if timeout > 0 {
			time.Sleep(time.Until(deadline))
		}
		return nil, ErrTimeout
	}
	if err != nil {
		return nil, classifyReadError(err)
	}

	util.Stats.AddRecv(n)
	return protocol.Decode(c.buf[:n])
}

func (c *UDPConn) Peer() string  { return c.conn.RemoteAddr().String() }
func (c *UDPConn) Local() string { return c.conn.LocalAddr().String() }
func (c *UDPConn) Close() error  { return c.conn.Close() }

// classifyReadError maps socket read errors onto the transport sentinels.
func classifyReadError(err error) error {
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, net.ErrClosed):
		return ErrClosed
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	return fmt.Errorf("udp read: %w", err)
}
