package main

import (
	"fmt"
	"net"
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

func trim(s string) string { return strings.TrimSpace(s) }

func parsePort(raw string) (int, error) {
	port, err := strconv.Atoi(trim(raw))
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q (must be 1~65535)", raw)
	}
	return port, nil
}

// serverAddr splits "host" or "host:port"; a missing port is filled with
// defaultPort.
func serverAddr(raw string, defaultPort int) (string, int, error) {
	raw = trim(raw)
	if raw == "" {
		return "", 0, fmt.Errorf("missing server address")
	}

	host, portStr, err := net.SplitHostPort(raw)
	if err != nil {
		// No port (or a bare IPv6 literal).
		return strings.Trim(raw, "[]"), defaultPort, nil
	}
	port, err := parsePort(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

// remotePath joins the requested name onto the remote directory using the
// slash separator the server expects.
func remotePath(dir, name string) string {
	if dir == "" {
		return name
	}
	return path.Join(dir, name)
}

// localPath places the download in dir under the base name of the request.
func localPath(dir, name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, base)
}
