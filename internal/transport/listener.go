package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/1ureka/rft/internal/protocol"
	"github.com/1ureka/rft/internal/util"
)

// acceptBacklog bounds how many new peers may wait for Accept.
const acceptBacklog = 16

// Listener owns a server UDP socket. A single read loop decodes every
// datagram and routes it to the PeerConn of its source address, creating a
// new PeerConn (delivered through Accept) the first time a peer is seen.
type Listener struct {
	conn *net.UDPConn

	mu     sync.Mutex
	routes map[string]*PeerConn

	acceptCh  chan *PeerConn
	done      chan struct{}
	closeOnce sync.Once
}

// ListenUDP binds addr (e.g. ":9000" or "127.0.0.1:0") and starts the read loop.
func ListenUDP(addr string) (*Listener, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", addr, err)
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	l := &Listener{
		conn:     conn,
		routes:   make(map[string]*PeerConn),
		acceptCh: make(chan *PeerConn, acceptBacklog),
		done:     make(chan struct{}),
	}
	go l.readLoop()

	return l, nil
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Accept blocks until a datagram arrives from a peer without an active
// PeerConn. The triggering packet is already queued on the returned conn.
func (l *Listener) Accept(ctx context.Context) (*PeerConn, error) {
	select {
	case pc := <-l.acceptCh:
		return pc, nil
	case <-l.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the read loop and closes the socket. Active PeerConns see
// ErrClosed on their next Receive.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.conn.Close()

		l.mu.Lock()
		for key, pc := range l.routes {
			pc.in.close()
			delete(l.routes, key)
		}
		l.mu.Unlock()
	})
	return err
}

// ---------------------------------------------------------------------------
// Read loop & route table
// ---------------------------------------------------------------------------

func (l *Listener) readLoop() {
	buf := make([]byte, protocol.MaxDatagramSize+1)
	for {
		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-l.done:
				return
			default:
			}
			util.LogWarning("udp read error: %v", err)
			continue
		}
		util.Stats.AddRecv(n)

		pkt, err := protocol.Decode(buf[:n])
		if err != nil {
			util.LogDebug("dropping datagram from %s: %v", addr, err)
			continue
		}

		l.route(addr, pkt)
	}
}

// route delivers pkt to the peer's inbox, registering a new PeerConn for an
// unknown address.
func (l *Listener) route(addr *net.UDPAddr, pkt *protocol.Packet) {
	key := addr.String()

	l.mu.Lock()
	pc, ok := l.routes[key]
	if !ok {
		pc = &PeerConn{l: l, addr: addr, key: key, in: newInbox()}
		l.routes[key] = pc
	}
	l.mu.Unlock()

	if !pc.in.push(pkt) {
		util.LogDebug("[%s] inbox full, dropping %s", key, pkt)
	}

	if ok {
		return
	}

	select {
	case l.acceptCh <- pc:
	default:
		util.LogWarning("accept backlog full, dropping new peer %s", key)
		l.unregister(pc)
	}
}

// unregister removes pc from the route table if it is still the active
// route for its address.
func (l *Listener) unregister(pc *PeerConn) {
	l.mu.Lock()
	if l.routes[pc.key] == pc {
		delete(l.routes, pc.key)
	}
	l.mu.Unlock()
	pc.in.close()
}

// ---------------------------------------------------------------------------
// PeerConn
// ---------------------------------------------------------------------------

// PeerConn is the server side of one peer's session on a shared Listener.
type PeerConn struct {
	l    *Listener
	addr *net.UDPAddr
	key  string
	in   *inbox
}

// Send encodes pkt and writes it to the peer from the listener socket.
func (pc *PeerConn) Send(pkt *protocol.Packet) error {
	data, err := protocol.Encode(pkt)
	if err != nil {
		return err
	}

	n, err := pc.l.conn.WriteToUDP(data, pc.addr)
	if err != nil {
		return fmt.Errorf("udp write to %s: %w", pc.key, err)
	}

	util.Stats.AddSent(n)
	return nil
}

// Receive returns the next packet routed from this peer.
func (pc *PeerConn) Receive(timeout time.Duration) (*protocol.Packet, error) {
	return pc.in.pop(timeout)
}

func (pc *PeerConn) Peer() string  { return pc.key }
func (pc *PeerConn) Local() string { return pc.l.Addr().String() }

// Close releases the route; later datagrams from the same address start a
// new PeerConn.
func (pc *PeerConn) Close() error {
	pc.l.unregister(pc)
	return nil
}
