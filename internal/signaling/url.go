package signaling

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL validates a user-supplied signaling address and returns the
// canonical "<scheme>://<host>/ws?pin=<pin>" form. Bare hosts default to
// wss; the pin query parameter is preserved.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}

	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}

	out := fmt.Sprintf("%s://%s/ws", scheme, u.Host)
	if pin := u.Query().Get("pin"); pin != "" {
		out += "?pin=" + url.QueryEscape(pin)
	}
	return out, nil
}
