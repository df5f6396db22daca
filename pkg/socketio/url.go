package socketio

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	ProtocolVersion = "4"
	defaultPath     = "/socket.io/"
)

// EndpointURL turns the configured service base URL into the websocket
// transport endpoint. Any path on the base URL is dropped: socket.io
// clients read it as a namespace, and only the default namespace is
// joined, so the engine always lives at /socket.io/ on the host.
func EndpointURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("socketio: parse base url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("socketio: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("socketio: base url %q has no host", base)
	}

	u.Path = defaultPath
	u.RawPath = ""
	q := u.Query()
	q.Set("EIO", ProtocolVersion)
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String(), nil
}
