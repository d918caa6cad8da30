package config

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	server := func(mut func(*Config)) Config {
		c := Default()
		c.Role = RoleServer
		if mut != nil {
			mut(&c)
		}
		return c
	}
	client := func(mut func(*Config)) Config {
		c := Default()
		c.Role = RoleClient
		c.Addr = "127.0.0.1"
		c.FileName = "a.txt"
		if mut != nil {
			mut(&c)
		}
		return c
	}

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"server defaults", server(nil), ""},
		{"server random port", server(func(c *Config) { c.Port = 0 }), ""},
		{"server bad port", server(func(c *Config) { c.Port = 70000 }), "invalid port"},
		{"server zero sessions", server(func(c *Config) { c.MaxSessions = 0 }), "sessions"},
		{"server webrtc", server(func(c *Config) { c.Transport = TransportWebRTC }), ""},
		{"client defaults", client(nil), ""},
		{"client no file", client(func(c *Config) { c.FileName = "" }), "missing file name"},
		{"client no addr", client(func(c *Config) { c.Addr = "" }), "missing server address"},
		{"client port zero", client(func(c *Config) { c.Port = 0 }), "invalid port"},
		{"client path too long", client(func(c *Config) { c.FileName = strings.Repeat("x", 1409) }), "longer than"},
		{"client webrtc without url", client(func(c *Config) { c.Transport = TransportWebRTC }), "signaling URL"},
		{"client webrtc", client(func(c *Config) {
			c.Transport = TransportWebRTC
			c.WSURL = "wss://example.com/ws?pin=1234"
			c.Addr = ""
		}), ""},
		{"no role", Default(), "invalid role"},
		{"bad transport", client(func(c *Config) { c.Transport = "tcp" }), "invalid transport"},
		{"zero timeout", client(func(c *Config) { c.Timeout = 0 }), "timeout"},
		{"zero retries", client(func(c *Config) { c.MaxRetries = 0 }), "retries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestWSAddr(t *testing.T) {
	tests := []struct {
		port   int
		listen bool
		want   string
	}{
		{0, false, ":0"},
		{8080, false, "127.0.0.1:8080"},
		{8080, true, ":8080"},
		{0, true, ":0"},
	}

	for _, tt := range tests {
		c := Config{WSPort: tt.port, WSListen: tt.listen}
		if got := c.WSAddr(); got != tt.want {
			t.Errorf("WSAddr(port=%d, listen=%v) = %q, want %q", tt.port, tt.listen, got, tt.want)
		}
	}
}
