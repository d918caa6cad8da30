package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rft/internal/transport"
	"github.com/1ureka/rft/internal/util"
)

var (
	ErrVersionMismatch = errors.New("peer speaks a different protocol version")
	errNoHello         = errors.New("offer received before hello")
)

// negotiator drives one side of the SDP/ICE exchange for a DataChannel over
// a signaling WebSocket. Writes may come from the read loop and from pion's
// ICE callback at the same time, so they are serialized.
//
// The peer's trickle can overtake its SDP, so remote candidates are held
// in pending until the remote description is set. Only the read loop
// touches greeted, remoteSet and pending.
type negotiator struct {
	dc *transport.DataChannel
	ws *websocket.Conn

	wmu     sync.Mutex
	greeted bool // client: hello seen

	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

func (n *negotiator) write(msg message) error {
	n.wmu.Lock()
	defer n.wmu.Unlock()
	return n.ws.WriteJSON(msg)
}

// hello announces the protocol version. Host only, before offer.
func (n *negotiator) hello() error {
	return n.write(message{Type: msgTypeHello, Version: protocolVersion})
}

// offer creates the local offer and sends it. Host only.
func (n *negotiator) offer() error {
	sdp, err := n.dc.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := n.dc.SetLocalDescription(sdp); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	return n.write(message{Type: msgTypeOffer, SDP: sdp.SDP})
}

// answer applies the host's offer and replies with a local answer.
func (n *negotiator) answer(remote string) error {
	if err := n.setRemote(webrtc.SDPTypeOffer, remote); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	sdp, err := n.dc.CreateAnswer()
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := n.dc.SetLocalDescription(sdp); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	return n.write(message{Type: msgTypeAnswer, SDP: sdp.SDP})
}

// setRemote applies the peer's description and then any candidates that
// arrived ahead of it.
func (n *negotiator) setRemote(typ webrtc.SDPType, sdp string) error {
	if err := n.dc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: sdp}); err != nil {
		return err
	}
	n.remoteSet = true

	queued := n.pending
	n.pending = nil
	for _, c := range queued {
		n.addCandidate(c)
	}
	return nil
}

// addCandidate applies a remote candidate. A bad candidate only narrows the
// ICE options, so failures are logged and the exchange goes on.
func (n *negotiator) addCandidate(c webrtc.ICECandidateInit) {
	if err := n.dc.AddICECandidate(c); err != nil {
		util.LogDebug("failed to add ICE candidate: %v", err)
	}
}

// trickle forwards a locally gathered candidate. A lost candidate only
// narrows the ICE options, so failures are logged and dropped.
func (n *negotiator) trickle(c *webrtc.ICECandidate) {
	if c == nil {
		return
	}
	data, err := json.Marshal(c.ToJSON())
	if err == nil {
		err = n.write(message{Type: msgTypeCandidate, Candidate: string(data)})
	}
	if err != nil {
		util.LogDebug("failed to send ICE candidate: %v", err)
	}
}

// run reads signaling messages until the WebSocket fails, is closed by the
// caller, or the peer breaks the exchange.
func (n *negotiator) run() error {
	for {
		var msg message
		if err := n.ws.ReadJSON(&msg); err != nil {
			return fmt.Errorf("failed to read WS message: %w", err)
		}
		if err := n.handle(msg); err != nil {
			return err
		}
	}
}

func (n *negotiator) handle(msg message) error {
	switch msg.Type {
	case msgTypeHello:
		if msg.Version != protocolVersion {
			return fmt.Errorf("%w: %q, want %q", ErrVersionMismatch, msg.Version, protocolVersion)
		}
		n.greeted = true
		return nil

	case msgTypeOffer:
		if !n.greeted {
			return errNoHello
		}
		return n.answer(msg.SDP)

	case msgTypeAnswer:
		if err := n.setRemote(webrtc.SDPTypeAnswer, msg.SDP); err != nil {
			return fmt.Errorf("set remote answer: %w", err)
		}
		return nil

	case msgTypeCandidate:
		var init webrtc.ICECandidateInit
		if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
			return fmt.Errorf("failed to parse ICE candidate: %w", err)
		}
		if !n.remoteSet {
			n.pending = append(n.pending, init)
			return nil
		}
		n.addCandidate(init)
		return nil

	default:
		util.LogDebug("ignoring signaling message %q", msg.Type)
		return nil
	}
}
