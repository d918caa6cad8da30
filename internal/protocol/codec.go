package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrMalformedHeader = errors.New("malformed packet header")
	ErrTruncated       = errors.New("packet payload truncated")
	ErrPayloadTooLarge = errors.New("packet payload too large")
)

// Header is the decoded form of the fixed 8-byte packet header.
type Header struct {
	Kind     Kind
	Code     ErrorCode
	Percent  uint8
	DataSize uint16
	SeqNum   uint32
}

// Bit layout of the info byte.
const (
	kindShift = 6
	codeShift = 4
	kindMask  = 0xC0
	codeMask  = 0x30
	sizeMask  = 0x0F
)

// Classify returns the packet kind stored in an info byte.
func Classify(info byte) Kind {
	return Kind((info & kindMask) >> kindShift)
}

// EncodeHeader serializes h into HeaderSize bytes (big-endian).
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	putHeader(buf, h)
	return buf
}

func putHeader(buf []byte, h Header) {
	buf[0] = byte(h.Kind)<<kindShift&kindMask | byte(h.Code)<<codeShift&codeMask | HeaderSize&sizeMask
	buf[1] = h.Percent
	binary.BigEndian.PutUint16(buf[2:4], h.DataSize)
	binary.BigEndian.PutUint32(buf[4:8], h.SeqNum)
}

// DecodeHeader parses the first HeaderSize bytes of data.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes (need at least %d)", ErrMalformedHeader, len(data), HeaderSize)
	}
	if size := int(data[0] & sizeMask); size != HeaderSize {
		return Header{}, fmt.Errorf("%w: header size field is %d", ErrMalformedHeader, size)
	}
	return Header{
		Kind:     Classify(data[0]),
		Code:     ErrorCode((data[0] & codeMask) >> codeShift),
		Percent:  data[1],
		DataSize: binary.BigEndian.Uint16(data[2:4]),
		SeqNum:   binary.BigEndian.Uint32(data[4:8]),
	}, nil
}

// Encode serializes a Packet into exactly pkt.WireSize() bytes.
func Encode(pkt *Packet) ([]byte, error) {
	if len(pkt.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(pkt.Payload), MaxPayloadSize)
	}
	buf := make([]byte, pkt.WireSize())
	putHeader(buf, pkt.Header())
	copy(buf[HeaderSize:], pkt.Payload)
	return buf, nil
}

// Decode deserializes a datagram into a Packet. Bytes beyond the declared
// data size are ignored. The payload never aliases data.
func Decode(data []byte) (*Packet, error) {
	h, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	if int(h.DataSize) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: declared %d bytes (max %d)", ErrMalformedHeader, h.DataSize, MaxPayloadSize)
	}
	end := HeaderSize + int(h.DataSize)
	if len(data) < end {
		return nil, fmt.Errorf("%w: declared %d bytes, got %d", ErrTruncated, h.DataSize, len(data)-HeaderSize)
	}
	pkt := &Packet{
		Kind:    h.Kind,
		Code:    h.Code,
		Percent: h.Percent,
		SeqNum:  h.SeqNum,
	}
	if h.DataSize > 0 {
		pkt.Payload = make([]byte, h.DataSize)
		copy(pkt.Payload, data[HeaderSize:end])
	}
	return pkt, nil
}

// IsMalformed reports whether err means a datagram could not be decoded.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedHeader) || errors.Is(err, ErrTruncated)
}
