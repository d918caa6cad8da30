package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/1ureka/rft/internal/arq"
	"github.com/1ureka/rft/internal/protocol"
	"github.com/1ureka/rft/internal/transport"
)

// fastOptions keeps lossy tests quick while leaving room for scheduling.
var fastOptions = Options{Timeout: 50 * time.Millisecond, MaxRetries: arq.DefaultMaxRetries}

// writeFile creates name in dir with size deterministic bytes.
func writeFile(t *testing.T, dir, name string, size int) []byte {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i*7 + i/251)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return data
}

// assertOnlyFiles fails if dir holds anything besides names (e.g. a leftover
// temporary file).
func assertOnlyFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	for _, e := range entries {
		if !want[e.Name()] {
			t.Errorf("unexpected file %s in %s", e.Name(), dir)
		}
	}
	if len(entries) != len(names) {
		t.Errorf("%s holds %d entries, want %d", dir, len(entries), len(names))
	}
}

type serverOutcome struct {
	res *Result
	err error
}

// startPipeServer handles one session on conn in the background.
func startPipeServer(t *testing.T, conn transport.Conn, opts ServerOptions) <-chan serverOutcome {
	t.Helper()
	out := make(chan serverOutcome, 1)
	go func() {
		first, err := conn.Receive(5 * time.Second)
		if err != nil {
			out <- serverOutcome{err: err}
			return
		}
		res, err := NewServer(opts).Handle(context.Background(), conn, first)
		out <- serverOutcome{res, err}
	}()
	return out
}

func waitServer(t *testing.T, ch <-chan serverOutcome) serverOutcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(10 * time.Second):
		t.Fatal("server session did not finish")
		return serverOutcome{}
	}
}

func TestTransferFidelity(t *testing.T) {
	sizes := []struct {
		size    int
		packets uint32
	}{
		{0, 1},
		{1, 1},
		{protocol.MaxPayloadSize - 1, 1},
		{protocol.MaxPayloadSize, 2}, // full chunk, then an empty final chunk
		{protocol.MaxPayloadSize + 1, 2},
		{5000, 4},
		{64 * 1024, 47},
	}

	for _, tc := range sizes {
		t.Run(fmt.Sprintf("%d bytes", tc.size), func(t *testing.T) {
			srcDir, dstDir := t.TempDir(), t.TempDir()
			want := writeFile(t, srcDir, "data.bin", tc.size)

			clientConn, serverConn := transport.Pipe()
			defer clientConn.Close()
			defer serverConn.Close()

			srv := startPipeServer(t, serverConn, ServerOptions{Options: fastOptions, Root: srcDir})

			var lastPercent uint8
			client := NewClient(clientConn, fastOptions)
			client.OnProgress(func(p uint8) { lastPercent = p })

			local := filepath.Join(dstDir, "data.bin")
			res, err := client.Fetch(context.Background(), "data.bin", local)
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}

			got, err := os.ReadFile(local)
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			if !bytes.Equal(got, want) {
				t.Fatalf("file differs: got %d bytes, want %d", len(got), len(want))
			}
			if res.Bytes != int64(tc.size) || res.Packets != tc.packets {
				t.Errorf("client result = %d bytes / %d packets, want %d / %d", res.Bytes, res.Packets, tc.size, tc.packets)
			}
			if lastPercent != 100 {
				t.Errorf("last progress = %d, want 100", lastPercent)
			}
			assertOnlyFiles(t, dstDir, "data.bin")

			o := waitServer(t, srv)
			if o.err != nil {
				t.Fatalf("server: %v", o.err)
			}
			if o.res.Bytes != int64(tc.size) || o.res.Packets != tc.packets {
				t.Errorf("server result = %d bytes / %d packets", o.res.Bytes, o.res.Packets)
			}
		})
	}
}

func TestDuplicateSuppression(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	want := writeFile(t, srcDir, "dup.bin", 3*protocol.MaxPayloadSize+10)

	clientConn, serverConn := transport.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	// Lose the first ACK for SEQ 2 and SEQ 4 so the server retransmits them.
	var mu sync.Mutex
	lost := map[uint32]bool{}
	clientConn.SetDropFunc(func(pkt *protocol.Packet) bool {
		mu.Lock()
		defer mu.Unlock()
		if pkt.Kind == protocol.KindAck && (pkt.SeqNum == 2 || pkt.SeqNum == 4) && !lost[pkt.SeqNum] {
			lost[pkt.SeqNum] = true
			return true
		}
		return false
	})

	srv := startPipeServer(t, serverConn, ServerOptions{Options: fastOptions, Root: srcDir})

	local := filepath.Join(dstDir, "dup.bin")
	res, err := NewClient(clientConn, fastOptions).Fetch(context.Background(), "dup.bin", local)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	got, _ := os.ReadFile(local)
	if !bytes.Equal(got, want) {
		t.Fatalf("duplicate data was written: got %d bytes, want %d", len(got), len(want))
	}
	if res.Packets != 4 {
		t.Errorf("client wrote %d packets, want 4", res.Packets)
	}

	if o := waitServer(t, srv); o.err != nil {
		t.Fatalf("server: %v", o.err)
	}
	// ACK 1, SEQ 2 x2, SEQ 3, SEQ 4 x2, SEQ 5, FIN at least.
	if n := serverConn.Sent(); n < 8 {
		t.Errorf("server sent %d packets, want at least 8", n)
	}
}

func TestTransferUnderRandomLoss(t *testing.T) {
	const lossRate = 0.1

	for seed := int64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprintf("seed %d", seed), func(t *testing.T) {
			srcDir, dstDir := t.TempDir(), t.TempDir()
			want := writeFile(t, srcDir, "lossy.bin", 3*protocol.MaxPayloadSize+17)

			clientConn, serverConn := transport.Pipe()
			defer clientConn.Close()
			defer serverConn.Close()

			// One source per direction; each end sends from a single goroutine.
			clientRng := rand.New(rand.NewSource(seed))
			serverRng := rand.New(rand.NewSource(-seed))
			clientConn.SetDropFunc(func(*protocol.Packet) bool { return clientRng.Float64() < lossRate })
			serverConn.SetDropFunc(func(*protocol.Packet) bool { return serverRng.Float64() < lossRate })

			// A lost final ACK leaves the server retrying the Finale until it
			// gives up, so only the client side is checked.
			startPipeServer(t, serverConn, ServerOptions{Options: fastOptions, Root: srcDir})

			local := filepath.Join(dstDir, "lossy.bin")
			res, err := NewClient(clientConn, fastOptions).Fetch(context.Background(), "lossy.bin", local)
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			got, err := os.ReadFile(local)
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			if !bytes.Equal(got, want) {
				t.Fatalf("file differs under loss: got %d bytes, want %d", len(got), len(want))
			}
			if res.Packets != 4 {
				t.Errorf("client wrote %d packets, want 4", res.Packets)
			}
			assertOnlyFiles(t, dstDir, "lossy.bin")
		})
	}
}

func TestLostRequestAck(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	want := writeFile(t, srcDir, "req.bin", 2000)

	clientConn, serverConn := transport.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	var once sync.Once
	serverConn.SetDropFunc(func(pkt *protocol.Packet) bool {
		drop := false
		if pkt.Kind == protocol.KindAck && pkt.SeqNum == protocol.RequestSeq {
			once.Do(func() { drop = true })
		}
		return drop
	})

	srv := startPipeServer(t, serverConn, ServerOptions{Options: fastOptions, Root: srcDir})

	local := filepath.Join(dstDir, "req.bin")
	if _, err := NewClient(clientConn, fastOptions).Fetch(context.Background(), "req.bin", local); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got, _ := os.ReadFile(local); !bytes.Equal(got, want) {
		t.Fatal("file differs after a lost request ACK")
	}
	if o := waitServer(t, srv); o.err != nil {
		t.Fatalf("server: %v", o.err)
	}
}

func TestFileNotFound(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()

	tests := []struct {
		name    string
		request string
	}{
		{"missing file", "nope.txt"},
		{"directory", "."},
		{"escape root", "../../etc/passwd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientConn, serverConn := transport.Pipe()
			defer clientConn.Close()
			defer serverConn.Close()

			srv := startPipeServer(t, serverConn, ServerOptions{Options: fastOptions, Root: srcDir})

			local := filepath.Join(dstDir, "out.txt")
			_, err := NewClient(clientConn, fastOptions).Fetch(context.Background(), tt.request, local)
			if !errors.Is(err, ErrFileNotFound) {
				t.Fatalf("expected ErrFileNotFound, got %v", err)
			}
			var remote *RemoteError
			if !errors.As(err, &remote) || remote.Code != protocol.CodeFileNotFound || remote.Message != msgFileNotFound {
				t.Fatalf("expected RemoteError with code %s, got %#v", protocol.CodeFileNotFound, err)
			}
			if _, statErr := os.Stat(local); !os.IsNotExist(statErr) {
				t.Fatalf("local file exists after not-found: %v", statErr)
			}
			assertOnlyFiles(t, dstDir)

			if o := waitServer(t, srv); !errors.Is(o.err, ErrFileNotFound) {
				t.Fatalf("server: expected ErrFileNotFound, got %v", o.err)
			}
		})
	}
}

func TestServerWithoutRootOpensPathAsGiven(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	want := writeFile(t, srcDir, "abs.bin", 300)

	clientConn, serverConn := transport.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	srv := startPipeServer(t, serverConn, ServerOptions{Options: fastOptions})

	local := filepath.Join(dstDir, "abs.bin")
	if _, err := NewClient(clientConn, fastOptions).Fetch(context.Background(), filepath.Join(srcDir, "abs.bin"), local); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got, _ := os.ReadFile(local); !bytes.Equal(got, want) {
		t.Fatal("file differs")
	}
	waitServer(t, srv)
}

func TestClientGivesUpOnSilentServer(t *testing.T) {
	dstDir := t.TempDir()
	clientConn, serverConn := transport.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	// Acknowledge the request, then vanish.
	go func() {
		if _, err := serverConn.Receive(time.Second); err == nil {
			serverConn.Send(protocol.NewAck(protocol.RequestSeq, 0))
		}
	}()

	opts := Options{Timeout: 20 * time.Millisecond, MaxRetries: 3}
	local := filepath.Join(dstDir, "x")

	start := time.Now()
	_, err := NewClient(clientConn, opts).Fetch(context.Background(), "x", local)
	if !errors.Is(err, arq.ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
	if d := time.Since(start); d < 60*time.Millisecond {
		t.Errorf("gave up after %v, before %d idle windows", d, opts.MaxRetries)
	}
	assertOnlyFiles(t, dstDir)
}

func TestClientRequestUnanswered(t *testing.T) {
	clientConn, serverConn := transport.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	opts := Options{Timeout: 10 * time.Millisecond, MaxRetries: 4}
	_, err := NewClient(clientConn, opts).Fetch(context.Background(), "x", filepath.Join(t.TempDir(), "x"))
	if !errors.Is(err, arq.ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
	if n := clientConn.Sent(); n != 4 {
		t.Fatalf("client sent the request %d times, want 4", n)
	}
}

func TestClientRejectsUnexpectedFinale(t *testing.T) {
	dstDir := t.TempDir()
	clientConn, serverConn := transport.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan *protocol.Packet, 1)
	go func() {
		if _, err := serverConn.Receive(time.Second); err != nil {
			done <- nil
			return
		}
		serverConn.Send(protocol.NewAck(protocol.RequestSeq, 0))
		serverConn.Send(protocol.NewFinale(7)) // no data was sent
		ack, _ := serverConn.Receive(time.Second)
		done <- ack
	}()

	local := filepath.Join(dstDir, "f")
	_, err := NewClient(clientConn, fastOptions).Fetch(context.Background(), "f", local)
	if !errors.Is(err, ErrUnexpectedFinale) {
		t.Fatalf("expected ErrUnexpectedFinale, got %v", err)
	}
	if ack := <-done; ack == nil || ack.Kind != protocol.KindAck || ack.SeqNum != protocol.FinaleMarker(7) {
		t.Fatalf("finale was not acknowledged: %v", ack)
	}
	assertOnlyFiles(t, dstDir)
}

var errAckLost = errors.New("ack send failed")

// ackFailConn fails every ACK it is asked to send.
type ackFailConn struct {
	*transport.PipeConn
}

func (c ackFailConn) Send(pkt *protocol.Packet) error {
	if pkt.Kind == protocol.KindAck {
		return errAckLost
	}
	return c.PipeConn.Send(pkt)
}

func TestUnexpectedFinaleReportsAckFailure(t *testing.T) {
	clientConn, serverConn := transport.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		if _, err := serverConn.Receive(time.Second); err != nil {
			return
		}
		serverConn.Send(protocol.NewAck(protocol.RequestSeq, 0))
		serverConn.Send(protocol.NewFinale(7))
	}()

	dstDir := t.TempDir()
	_, err := NewClient(ackFailConn{clientConn}, fastOptions).Fetch(context.Background(), "f", filepath.Join(dstDir, "f"))
	if !errors.Is(err, ErrUnexpectedFinale) {
		t.Fatalf("expected ErrUnexpectedFinale, got %v", err)
	}
	if !errors.Is(err, errAckLost) {
		t.Fatalf("ACK send error was dropped: %v", err)
	}
	assertOnlyFiles(t, dstDir)
}

func TestFetchValidatesPath(t *testing.T) {
	clientConn, serverConn := transport.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	c := NewClient(clientConn, fastOptions)
	dst := filepath.Join(t.TempDir(), "x")

	_, err := c.Fetch(context.Background(), "", dst)
	if !errors.Is(err, ErrEmptyPath) {
		t.Errorf("empty path: expected ErrEmptyPath, got %v", err)
	}
	if errors.Is(err, ErrBadRequest) {
		t.Errorf("empty path must not look like a server refusal: %v", err)
	}
	long := string(bytes.Repeat([]byte("a"), protocol.MaxPayloadSize+1))
	if _, err := c.Fetch(context.Background(), long, dst); !errors.Is(err, ErrPathTooLong) {
		t.Errorf("long path: expected ErrPathTooLong, got %v", err)
	}
	if n := clientConn.Sent(); n != 0 {
		t.Errorf("invalid requests reached the wire: %d packets", n)
	}
}

func TestRemoteErrorIs(t *testing.T) {
	tests := []struct {
		code protocol.ErrorCode
		want error
	}{
		{protocol.CodeBadRequest, ErrBadRequest},
		{protocol.CodeFileNotFound, ErrFileNotFound},
		{protocol.CodeUnknown, ErrRemoteUnknown},
		{protocol.CodeNone, ErrRemoteUnknown},
	}
	for _, tt := range tests {
		err := fmt.Errorf("fetch: %w", &RemoteError{Code: tt.code})
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: errors.Is(%v) = false", tt.code, tt.want)
		}
	}
}

func TestPercentOf(t *testing.T) {
	tests := []struct {
		sent, size int64
		want       uint8
	}{
		{0, 0, 100},
		{0, 10, 0},
		{5, 10, 50},
		{1408, 5000, 28},
		{10, 10, 100},
	}
	for _, tt := range tests {
		if got := percentOf(tt.sent, tt.size); got != tt.want {
			t.Errorf("percentOf(%d, %d) = %d, want %d", tt.sent, tt.size, got, tt.want)
		}
	}
}
