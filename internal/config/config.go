// Package config holds the CLI configuration types.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/rft/internal/arq"
	"github.com/1ureka/rft/internal/protocol"
	"github.com/1ureka/rft/internal/transport"
)

// Role represents the user's chosen role (server or client).
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// Transport selects the datagram link the session runs on.
type Transport string

const (
	TransportUDP    Transport = "udp"
	TransportWebRTC Transport = "webrtc"
)

// DefaultPort is the UDP port the server binds when none is given.
const DefaultPort = 9000

// Config stores all parameters gathered from flags or interactive prompts.
type Config struct {
	Role      Role
	Transport Transport

	Addr      string // Client: server host or host:port
	Port      int    // Server: UDP port to bind; Client: port used when Addr has none
	Root      string // Server: directory requested paths are resolved under
	RemoteDir string // Client: directory prefix joined onto the requested name
	LocalDir  string // Client: directory the download is written to
	FileName  string // Client: file to request

	WSPort   int    // Server (webrtc): signaling port, 0 = random
	WSListen bool   // Server (webrtc): listen on all interfaces
	WSURL    string // Client (webrtc): signaling URL

	Timeout     time.Duration
	MaxRetries  int
	MaxSessions int
	Debug       bool
}

// Default returns the configuration used when no flag overrides a field.
func Default() Config {
	return Config{
		Transport:   TransportUDP,
		Port:        DefaultPort,
		LocalDir:    ".",
		Timeout:     transport.DefaultTimeout,
		MaxRetries:  arq.DefaultMaxRetries,
		MaxSessions: 1,
	}
}

// WSAddr returns the listen address of the signaling server.
func (c Config) WSAddr() string {
	switch {
	case c.WSListen:
		return fmt.Sprintf(":%d", c.WSPort)
	case c.WSPort > 0:
		return fmt.Sprintf("127.0.0.1:%d", c.WSPort)
	default:
		return ":0"
	}
}

// Validate reports the first inconsistency in c.
func (c Config) Validate() error {
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.MaxRetries < 1 {
		return errors.New("retries must be at least 1")
	}

	switch c.Transport {
	case TransportUDP, TransportWebRTC:
	default:
		return fmt.Errorf("invalid transport %q: must be 'udp' or 'webrtc'", c.Transport)
	}

	switch c.Role {
	case RoleServer:
		if c.MaxSessions < 1 {
			return errors.New("sessions must be at least 1")
		}
		if c.Transport == TransportUDP && (c.Port < 0 || c.Port > 65535) {
			return fmt.Errorf("invalid port %d (must be 0~65535)", c.Port)
		}
		if c.WSPort < 0 || c.WSPort > 65535 {
			return fmt.Errorf("invalid signaling port %d (must be 0~65535)", c.WSPort)
		}

	case RoleClient:
		if c.FileName == "" {
			return errors.New("missing file name")
		}
		if len(c.FileName)+len(c.RemoteDir) > protocol.MaxPayloadSize {
			return fmt.Errorf("requested path longer than %d bytes", protocol.MaxPayloadSize)
		}
		if c.Transport == TransportWebRTC {
			if c.WSURL == "" {
				return errors.New("missing signaling URL for webrtc transport")
			}
			break
		}
		if c.Addr == "" {
			return errors.New("missing server address")
		}
		if c.Port < 1 || c.Port > 65535 {
			return fmt.Errorf("invalid port %d (must be 1~65535)", c.Port)
		}

	default:
		return fmt.Errorf("invalid role %q: must be 'server' or 'client'", c.Role)
	}

	return nil
}
