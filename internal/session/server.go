package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/1ureka/rft/internal/protocol"
	"github.com/1ureka/rft/internal/transport"
	"github.com/1ureka/rft/internal/util"
)

const (
	msgBadRequest   = "Bad Request!"
	msgFileNotFound = "File Not Found!"
)

// ServerOptions configures a Server.
type ServerOptions struct {
	Options

	// Root, when set, is the directory requested paths are resolved under.
	// Paths cannot escape it. Empty means paths are opened as given.
	Root string

	// MaxSessions bounds concurrent transfers in Serve. Default 1.
	MaxSessions int
}

// Server answers file requests. Every session owns its Conn and file handle;
// nothing is shared between sessions.
type Server struct {
	opts ServerOptions
}

func NewServer(opts ServerOptions) *Server {
	opts.Options = opts.Options.withDefaults()
	if opts.MaxSessions < 1 {
		opts.MaxSessions = 1
	}
	return &Server{opts: opts}
}

// Serve accepts peers from l and runs one session per peer, at most
// MaxSessions at a time. A failed session never stops the server. Serve
// returns nil after ctx is cancelled and running sessions have finished.
func (s *Server) Serve(ctx context.Context, l *transport.Listener) error {
	sem := make(chan struct{}, s.opts.MaxSessions)
	var wg sync.WaitGroup
	defer wg.Wait()

	util.LogInfo("serving on %s (max %d sessions)", l.Addr(), s.opts.MaxSessions)

	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			conn.Close()
			return nil
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			defer conn.Close()

			first, err := conn.Receive(s.opts.Timeout)
			if err != nil {
				util.LogDebug("[%s] no first packet: %v", conn.Peer(), err)
				return
			}
			s.run(ctx, conn, first)
		}()
	}
}

// ServeConn serves sessions one after another on a single-peer conn such
// as a DataChannel, until the conn closes or ctx is cancelled.
func (s *Server) ServeConn(ctx context.Context, conn transport.Conn) error {
	util.LogInfo("serving on %s", conn.Local())

	for {
		if ctx.Err() != nil {
			return nil
		}

		first, err := conn.Receive(s.opts.Timeout)
		switch {
		case err == nil:
		case errors.Is(err, transport.ErrTimeout), protocol.IsMalformed(err):
			continue
		case errors.Is(err, transport.ErrClosed):
			return nil
		default:
			return fmt.Errorf("receive: %w", err)
		}

		s.run(ctx, conn, first)
	}
}

// run handles one session and logs its outcome.
func (s *Server) run(ctx context.Context, conn transport.Conn, first *protocol.Packet) {
	tag := util.SessionTag(conn.Local(), conn.Peer())

	res, err := s.Handle(ctx, conn, first)
	if err != nil {
		if errors.Is(err, ErrBadRequest) || errors.Is(err, ErrFileNotFound) {
			util.LogWarning("[%s] %s: %v", tag, conn.Peer(), err)
		} else {
			util.LogError("[%s] %s: session aborted: %v", tag, conn.Peer(), err)
		}
		return
	}
	util.LogSuccess("[%s] %s: sent %s", tag, conn.Peer(), res)
}

// Handle runs one server session whose first packet was already received.
// It validates the request, streams the file through the acknowledgement
// engine and closes with a Finale. Refusals are delivered to the client as
// Error packets and returned as ErrBadRequest or ErrFileNotFound.
func (s *Server) Handle(ctx context.Context, conn transport.Conn, first *protocol.Packet) (*Result, error) {
	start := time.Now()
	tag := util.SessionTag(conn.Local(), conn.Peer())

	util.Stats.OpenSession()
	defer util.Stats.CloseSession()
	defer func() {
		util.LogInfo("[%s] time elapsed: %s", tag, time.Since(start).Round(time.Millisecond))
	}()

	util.LogPacket(tag, false, first)

	// A retransmitted request means our ack for it was lost; acknowledge it
	// again whatever we are currently waiting for.
	engine := s.opts.engine(conn, tag, func(pkt *protocol.Packet) error {
		if pkt.Kind == protocol.KindSequence && pkt.SeqNum == protocol.RequestSeq {
			return sendAck(conn, tag, protocol.RequestSeq, pkt.Percent)
		}
		return nil
	})

	// 1. Validate the request.
	if first.Kind != protocol.KindSequence || first.SeqNum != protocol.RequestSeq {
		if err := sendAck(conn, tag, first.SeqNum, first.Percent); err != nil {
			return nil, err
		}
		if err := engine.Deliver(ctx, protocol.NewError(protocol.CodeBadRequest, msgBadRequest)); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: first packet %s", ErrBadRequest, first)
	}

	if err := sendAck(conn, tag, protocol.RequestSeq, first.Percent); err != nil {
		return nil, err
	}

	// 2. Open the file.
	name := string(first.Payload)
	res := &Result{Path: name}

	f, size, err := s.open(name)
	if err != nil {
		util.LogDebug("[%s] open %q: %v", tag, name, err)
		if err := engine.Deliver(ctx, protocol.NewError(protocol.CodeFileNotFound, msgFileNotFound)); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	defer f.Close()

	util.LogInfo("[%s] %s requested %s (%s)", tag, conn.Peer(), name, util.FormatBytes(size))

	// 3. Stream.
	buf := make([]byte, protocol.MaxPayloadSize)
	seq := protocol.RequestSeq
	var sent int64

	for {
		n, readErr := io.ReadFull(f, buf)
		last := errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF)
		if readErr != nil && !last {
			msg := fmt.Sprintf("read failed after %d bytes", sent)
			if err := engine.Deliver(ctx, protocol.NewError(protocol.CodeUnknown, msg)); err != nil {
				return nil, errors.Join(readErr, err)
			}
			return nil, fmt.Errorf("read %s: %w", name, readErr)
		}

		seq++
		sent += int64(n)
		if err := engine.Deliver(ctx, protocol.NewSequence(seq, percentOf(sent, size), buf[:n])); err != nil {
			return nil, err
		}
		res.Bytes = sent
		res.Packets++

		if last {
			break
		}
	}

	// 4. Finale.
	if err := engine.Deliver(ctx, protocol.NewFinale(seq)); err != nil {
		return nil, err
	}

	res.Elapsed = time.Since(start)
	return res, nil
}

// open resolves name and opens it as a regular file.
func (s *Server) open(name string) (*os.File, int64, error) {
	p := name
	if s.opts.Root != "" {
		p = filepath.Join(s.opts.Root, filepath.Clean("/"+filepath.FromSlash(name)))
	}

	f, err := os.Open(p)
	if err != nil {
		return nil, 0, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, fmt.Errorf("%s is a directory", p)
	}
	return f, info.Size(), nil
}

// percentOf returns the advisory progress after sent of size bytes.
func percentOf(sent, size int64) uint8 {
	if size <= 0 || sent >= size {
		return 100
	}
	return uint8(sent * 100 / size)
}
