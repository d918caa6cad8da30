// Package protocol defines the packet format of the reliable file transfer
// protocol: a fixed 8-byte header followed by up to MaxPayloadSize bytes.
package protocol

import "fmt"

// Kind is the 2-bit packet type stored in bits 7-6 of the info byte.
type Kind uint8

const (
	KindError    Kind = 0 // transfer aborted, Code says why
	KindSequence Kind = 1 // request (seq 1) or file data (seq >= 2)
	KindAck      Kind = 2 // confirms SeqNum
	KindFinale   Kind = 3 // end of stream, SeqNum = FinaleMarker(last)
)

func (k Kind) String() string {
	switch k {
	case KindError:
		return "ERR"
	case KindSequence:
		return "SEQ"
	case KindAck:
		return "ACK"
	case KindFinale:
		return "FIN"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// ErrorCode is the 2-bit error field stored in bits 5-4 of the info byte.
// It is only meaningful on KindError packets.
type ErrorCode uint8

const (
	CodeNone         ErrorCode = 0
	CodeBadRequest   ErrorCode = 1
	CodeFileNotFound ErrorCode = 2
	CodeUnknown      ErrorCode = 3
)

func (c ErrorCode) String() string {
	switch c {
	case CodeNone:
		return "no error"
	case CodeBadRequest:
		return "bad request"
	case CodeFileNotFound:
		return "file not found"
	case CodeUnknown:
		return "unknown error"
	default:
		return fmt.Sprintf("ErrorCode(%d)", uint8(c))
	}
}

// Size constants.
const (
	HeaderSize      = 8                           // info(1) + percent(1) + dataSize(2) + seqNum(4)
	MaxPayloadSize  = 1408                        // chunk size used when streaming files
	MaxDatagramSize = HeaderSize + MaxPayloadSize // largest datagram either side ever sends
)

// RequestSeq is the sequence number of the file request that opens a session.
const RequestSeq uint32 = 1

// Packet is one protocol datagram. Which fields are live depends on Kind.
type Packet struct {
	Kind    Kind
	Code    ErrorCode // KindError only
	Percent uint8     // advisory progress, 0-100
	SeqNum  uint32
	Payload []byte // len(Payload) is the encoded data size
}

// Header returns the header fields of the packet.
func (p *Packet) Header() Header {
	return Header{
		Kind:     p.Kind,
		Code:     p.Code,
		Percent:  p.Percent,
		DataSize: uint16(len(p.Payload)),
		SeqNum:   p.SeqNum,
	}
}

// WireSize is the exact number of bytes the packet occupies on the network.
func (p *Packet) WireSize() int {
	return HeaderSize + len(p.Payload)
}

func (p *Packet) String() string {
	switch p.Kind {
	case KindError:
		return fmt.Sprintf("%s %d (%s)", p.Kind, p.SeqNum, p.Code)
	case KindSequence:
		return fmt.Sprintf("%s %d (%d B, %d%%)", p.Kind, p.SeqNum, len(p.Payload), p.Percent)
	default:
		return fmt.Sprintf("%s %d", p.Kind, p.SeqNum)
	}
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// NewRequest builds the Sequence packet that asks the server for path.
func NewRequest(path string) *Packet {
	return &Packet{Kind: KindSequence, SeqNum: RequestSeq, Payload: []byte(path)}
}

// NewSequence builds a data packet. data is referenced, not copied.
func NewSequence(seq uint32, percent uint8, data []byte) *Packet {
	return &Packet{Kind: KindSequence, SeqNum: seq, Percent: percent, Payload: data}
}

// NewAck builds an acknowledgement for seq.
func NewAck(seq uint32, percent uint8) *Packet {
	return &Packet{Kind: KindAck, SeqNum: seq, Percent: percent}
}

// NewFinale builds the end-of-stream packet following the data packet lastSeq.
func NewFinale(lastSeq uint32) *Packet {
	return &Packet{Kind: KindFinale, SeqNum: FinaleMarker(lastSeq), Percent: 100}
}

// NewError builds an error packet carrying code and a readable message.
func NewError(code ErrorCode, msg string) *Packet {
	if len(msg) > MaxPayloadSize {
		msg = msg[:MaxPayloadSize]
	}
	return &Packet{Kind: KindError, Code: code, Payload: []byte(msg)}
}

// FinaleMarker returns the sequence number carried by a Finale packet: twice
// the last data sequence number. It is a sentinel that both ends compare
// against, not a position in the stream. Past 2^31 data packets the product
// wraps modulo 2^32; both ends wrap identically, so it still matches.
func FinaleMarker(lastSeq uint32) uint32 {
	return 2 * lastSeq
}
