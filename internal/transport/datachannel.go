package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rft/internal/protocol"
	"github.com/1ureka/rft/internal/util"
)

// DataChannel is a Conn over a single PeerConnection + unreliable DataChannel
// pair. Callers first perform signaling through the exposed methods
// (CreateOffer / CreateAnswer / …), wait for Ready, and then use it like any
// other Conn.
//
// Its lifecycle is governed by the DataChannel state and the context passed
// at construction time.
type DataChannel struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel
	in *inbox

	openSignal chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
}

// DefaultSTUNServers are used for ICE candidate gathering when
// NewDataChannel is given none. No TURN: the data path is meant to be a
// direct peer-to-peer datagram link.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// channelLabel names the DataChannel on both ends.
const channelLabel = "rft"

// NewDataChannel creates a DataChannel conn backed by a new PeerConnection.
// stunServers overrides DefaultSTUNServers.
func NewDataChannel(ctx context.Context, stunServers ...string) (*DataChannel, error) {
	if len(stunServers) == 0 {
		stunServers = DefaultSTUNServers
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stunServers}},
	})
	if err != nil {
		return nil, fmt.Errorf("create PeerConnection: %w", err)
	}

	// Pre-negotiated (ID 0) so both sides create the channel without
	// OnDataChannel. Unordered with zero SCTP retransmits, so it behaves like
	// UDP and every loss is left to the ARQ engine.
	var (
		ordered        = false
		negotiated     = true
		maxRetransmits = uint16(0)
		id             = uint16(0)
	)
	dc, err := pc.CreateDataChannel(channelLabel, &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
		Negotiated:     &negotiated,
		ID:             &id,
	})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create DataChannel: %w", err)
	}

	tCtx, tCancel := context.WithCancel(ctx)

	t := &DataChannel{
		pc:         pc,
		dc:         dc,
		in:         newInbox(),
		openSignal: make(chan struct{}),
		ctx:        tCtx,
		cancel:     tCancel,
		pcState:    webrtc.PeerConnectionStateNew,
	}

	// DC open gate.
	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() { close(t.openSignal) })
	})

	// DC close → cancel context and wake any pending Receive.
	dc.OnClose(func() {
		util.LogDebug("DataChannel closed")
		tCancel()
		t.in.close()
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		util.Stats.AddRecv(len(msg.Data))
		pkt, err := protocol.Decode(msg.Data)
		if err != nil {
			util.LogDebug("dropping DataChannel message: %v", err)
			return
		}
		if !t.in.push(pkt) {
			util.LogDebug("inbox full, dropping %s", pkt)
		}
	})

	// Record PC state (informational only).
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		t.mu.Lock()
		t.pcState = state
		t.mu.Unlock()
	})

	return t, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Ready returns a channel that is closed when the DataChannel is open.
func (t *DataChannel) Ready() <-chan struct{} {
	return t.openSignal
}

// Done returns a channel that is closed when the DataChannel is shut down
// (closed by either side or parent context cancelled).
func (t *DataChannel) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Close shuts down the DataChannel and PeerConnection.
func (t *DataChannel) Close() error {
	t.cancel()
	t.in.close()
	return errors.Join(t.dc.Close(), t.pc.Close())
}

// ConnectionState returns the last observed PeerConnection state.
func (t *DataChannel) ConnectionState() webrtc.PeerConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pcState
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (t *DataChannel) CreateOffer() (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (t *DataChannel) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (t *DataChannel) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (t *DataChannel) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(sdp)
}

// OnICECandidate registers a callback invoked whenever a new local ICE
// candidate is gathered. A nil candidate signals the end of gathering.
func (t *DataChannel) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	t.pc.OnICECandidate(fn)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (t *DataChannel) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

// ---------------------------------------------------------------------------
// Conn
// ---------------------------------------------------------------------------

// Send encodes pkt and sends it as one DataChannel message. It fails if the
// channel has not opened yet.
func (t *DataChannel) Send(pkt *protocol.Packet) error {
	select {
	case <-t.openSignal:
	default:
		return fmt.Errorf("datachannel send: %w", ErrClosed)
	}

	data, err := protocol.Encode(pkt)
	if err != nil {
		return err
	}

	if err := t.dc.Send(data); err != nil {
		return fmt.Errorf("datachannel send: %w", err)
	}

	util.Stats.AddSent(len(data))
	return nil
}

// Receive returns the next packet from the peer.
func (t *DataChannel) Receive(timeout time.Duration) (*protocol.Packet, error) {
	return t.in.pop(timeout)
}

func (t *DataChannel) Peer() string  { return "webrtc-peer" }
func (t *DataChannel) Local() string { return t.dc.Label() }
