// Package session runs the two ends of a file transfer on top of the
// acknowledgement engine: the client requests a path and reassembles the
// file, the server validates the request and streams the file in chunks.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/rft/internal/arq"
	"github.com/1ureka/rft/internal/protocol"
	"github.com/1ureka/rft/internal/transport"
	"github.com/1ureka/rft/internal/util"
)

var (
	ErrBadRequest       = errors.New("bad request")
	ErrFileNotFound     = errors.New("file not found")
	ErrRemoteUnknown    = errors.New("unknown remote error")
	ErrEmptyPath        = errors.New("empty path")
	ErrPathTooLong      = errors.New("requested path too long")
	ErrUnexpectedFinale = errors.New("finale does not match last sequence")
)

// RemoteError is the failure reason carried by an Error packet.
type RemoteError struct {
	Code    protocol.ErrorCode
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server reported %s", e.Code)
	}
	return fmt.Sprintf("server reported %s: %s", e.Code, e.Message)
}

// Is lets errors.Is match a RemoteError against the sentinel of its code.
func (e *RemoteError) Is(target error) bool {
	return target == sentinelFor(e.Code)
}

func sentinelFor(code protocol.ErrorCode) error {
	switch code {
	case protocol.CodeBadRequest:
		return ErrBadRequest
	case protocol.CodeFileNotFound:
		return ErrFileNotFound
	default:
		return ErrRemoteUnknown
	}
}

// Options holds the timing parameters shared by both ends.
type Options struct {
	Timeout    time.Duration // bound of every Receive, default transport.DefaultTimeout
	MaxRetries int           // attempts per packet and idle windows, default arq.DefaultMaxRetries
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = transport.DefaultTimeout
	}
	if o.MaxRetries < 1 {
		o.MaxRetries = arq.DefaultMaxRetries
	}
	return o
}

func (o Options) engine(conn transport.Conn, tag string, stray arq.StrayHandler) *arq.Engine {
	return arq.New(conn,
		arq.WithTimeout(o.Timeout),
		arq.WithMaxRetries(o.MaxRetries),
		arq.WithStrayHandler(stray),
		arq.WithTag(tag),
	)
}

// Result summarizes a finished transfer.
type Result struct {
	Path    string        // remote path served or requested
	Bytes   int64         // file bytes carried by Sequence packets
	Packets uint32        // data packets, excluding the request
	Elapsed time.Duration // first packet to final acknowledgement
}

func (r *Result) String() string {
	return fmt.Sprintf("%s: %s in %d packets, %s",
		r.Path, util.FormatBytes(r.Bytes), r.Packets, r.Elapsed.Round(time.Millisecond))
}

// sendAck acknowledges seq outside the engine; acknowledgements are never
// themselves acknowledged.
func sendAck(conn transport.Conn, tag string, seq uint32, percent uint8) error {
	ack := protocol.NewAck(seq, percent)
	if err := conn.Send(ack); err != nil {
		return fmt.Errorf("send %s: %w", ack, err)
	}
	util.LogPacket(tag, true, ack)
	return nil
}
