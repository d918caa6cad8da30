package signaling

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/1ureka/rft/internal/util"
)

// pinLength is the number of digits in the signaling PIN.
const pinLength = 4

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// pinServer is the host-side signaling endpoint. It upgrades exactly one
// client that presents the PIN; everyone else is refused before the upgrade.
type pinServer struct {
	pin     string
	srv     *http.Server
	clients chan *websocket.Conn
	claimed atomic.Bool
}

func newPINServer(pin string) *pinServer {
	s := &pinServer{
		pin:     pin,
		clients: make(chan *websocket.Conn, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.srv = &http.Server{Handler: mux}
	return s
}

// listen binds addr (":0" picks a random port) and serves in the
// background. It returns the bound port.
func (s *pinServer) listen(addr string) (int, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("failed to start WS server: %w", err)
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			util.LogDebug("WS server stopped: %v", err)
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port, nil
}

func (s *pinServer) handleWS(w http.ResponseWriter, r *http.Request) {
	got := r.URL.Query().Get("pin")
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.pin)) != 1 {
		util.LogWarning("rejected signaling client %s: wrong PIN", r.RemoteAddr)
		http.Error(w, "Invalid PIN", http.StatusUnauthorized)
		return
	}

	if !s.claimed.CompareAndSwap(false, true) {
		http.Error(w, "Already connected", http.StatusConflict)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.claimed.Store(false)
		return
	}
	s.clients <- conn
}

// accept blocks until the PIN holder connects or ctx is cancelled.
func (s *pinServer) accept(ctx context.Context) (*websocket.Conn, error) {
	select {
	case conn := <-s.clients:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// shutdown stops accepting. An upgraded connection is hijacked and stays
// open until its owner closes it.
func (s *pinServer) shutdown() {
	s.srv.Close()
}

// dial connects to a signaling URL.
func dial(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("failed to connect to WS server: wrong PIN")
		}
		return nil, fmt.Errorf("failed to connect to WS server: %w", err)
	}
	return conn, nil
}

// newPIN returns a random numeric PIN of the given length.
func newPIN(length int) (string, error) {
	digits := make([]byte, length)
	if _, err := rand.Read(digits); err != nil {
		return "", fmt.Errorf("failed to generate PIN: %w", err)
	}
	for i, b := range digits {
		digits[i] = '0' + b%10
	}
	return string(digits), nil
}
