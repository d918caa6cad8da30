package signaling

// protocolVersion is announced by the host before its offer. Both ends must
// speak the same file transfer protocol over the DataChannel.
const protocolVersion = "rft/1"

// messageType identifies the kind of signaling message.
type messageType string

const (
	msgTypeHello     messageType = "hello"
	msgTypeOffer     messageType = "offer"
	msgTypeAnswer    messageType = "answer"
	msgTypeCandidate messageType = "candidate"
)

// message is the JSON structure exchanged over the WebSocket during signaling.
type message struct {
	Type      messageType `json:"type"`
	Version   string      `json:"version,omitempty"`   // hello
	SDP       string      `json:"sdp,omitempty"`       // offer, answer
	Candidate string      `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
}
