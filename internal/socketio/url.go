package socketio

import (
	"fmt"
	"net/url"
	"strings"
)

// ProtocolVersion is the Engine.IO revision spoken by the client
const ProtocolVersion = "4"

// BuildURL converts an HTTP base URL and socket path into the websocket
// transport endpoint. Extra query parameters are merged in.
func BuildURL(baseURL, path string, extra url.Values) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	if path == "" {
		path = "/socket.io"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Trim(path, "/") + "/"

	q := url.Values{}
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("EIO", ProtocolVersion)
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
