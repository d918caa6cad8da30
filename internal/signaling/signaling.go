// Package signaling runs the WebSocket signaling phase that turns two
// processes into a connected WebRTC DataChannel. All WebSocket and SDP/ICE
// details are internal; callers receive a ready-to-use transport.DataChannel.
package signaling

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/pterm/pterm"

	"github.com/1ureka/rft/internal/transport"
	"github.com/1ureka/rft/internal/util"
)

// EstablishAsHost executes the full host-side signaling flow:
//  1. Start a WS server on wsAddr with a random PIN
//  2. Print the URL the client should use
//  3. Wait for the client to connect
//  4. Create a DataChannel, announce the protocol version and send the Offer
//  5. Wait for the DataChannel to be ready
//  6. Close the WS server and connection
func EstablishAsHost(ctx context.Context, wsAddr string) (*transport.DataChannel, error) {
	pin, err := newPIN(pinLength)
	if err != nil {
		return nil, err
	}
	srv := newPINServer(pin)
	wsPort, err := srv.listen(wsAddr)
	if err != nil {
		return nil, err
	}
	defer srv.shutdown()

	pterm.DefaultBox.WithTitle("WebSocket Signaling Server").Println(
		fmt.Sprintf("Port : %d\nPIN  : %s\nURL  : ws://<host>:%d/ws?pin=%s", wsPort, srv.pin, wsPort, srv.pin),
	)
	util.LogInfo("waiting for client...")

	wsConn, err := srv.accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for client: %w", err)
	}
	defer wsConn.Close()
	util.LogInfo("client connected from %s", wsConn.RemoteAddr())

	return exchange(ctx, wsConn, true)
}

// EstablishAsClient executes the full client-side signaling flow:
//  1. Connect to the host's WS server
//  2. Check the host's protocol version
//  3. Create a DataChannel and answer the host's Offer
//  4. Wait for the DataChannel to be ready
//  5. Close the WS connection
func EstablishAsClient(ctx context.Context, wsURL string) (*transport.DataChannel, error) {
	util.LogInfo("connecting to host...")
	wsConn, err := dial(ctx, wsURL)
	if err != nil {
		return nil, err
	}
	defer wsConn.Close()
	util.LogDebug("WS connected: %s", wsURL)

	return exchange(ctx, wsConn, false)
}

// exchange performs the SDP/ICE exchange over wsConn. The host greets and
// offers first; the client answers from its read loop.
func exchange(ctx context.Context, wsConn *websocket.Conn, host bool) (*transport.DataChannel, error) {
	dc, err := transport.NewDataChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create DataChannel: %w", err)
	}

	n := &negotiator{dc: dc, ws: wsConn}
	dc.OnICECandidate(n.trickle)

	// Exits when wsConn is closed by the caller's defer.
	errCh := make(chan error, 1)
	go func() {
		errCh <- n.run()
	}()

	if host {
		if err := n.hello(); err != nil {
			dc.Close()
			return nil, fmt.Errorf("failed to send hello: %w", err)
		}
		if err := n.offer(); err != nil {
			dc.Close()
			return nil, fmt.Errorf("failed to send Offer: %w", err)
		}
	}

	select {
	case <-dc.Ready():
		util.LogDebug("WebRTC DataChannel established, closing WS")
		return dc, nil

	case err := <-errCh:
		dc.Close()
		return nil, fmt.Errorf("signaling failed: %w", err)

	case <-ctx.Done():
		dc.Close()
		return nil, ctx.Err()
	}
}
