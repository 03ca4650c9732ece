package signaling

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// NormalizeURL accepts ws(s)://, http(s):// or a bare host and returns a
// ws(s):// URL without a trailing slash.
func NormalizeURL(raw string) string {
	u := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(u, "ws://"), strings.HasPrefix(u, "wss://"):
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	default:
		u = "ws://" + u
	}
	return strings.TrimRight(u, "/")
}

// HTTPBase turns a relay URL into the matching http(s) base for REST calls.
func HTTPBase(raw string) string {
	u := NormalizeURL(raw)
	if strings.HasPrefix(u, "wss://") {
		u = "https://" + strings.TrimPrefix(u, "wss://")
	} else {
		u = "http://" + strings.TrimPrefix(u, "ws://")
	}
	for _, suffix := range []string{"/api/ws/signal", "/ws"} {
		u = strings.TrimSuffix(u, suffix)
	}
	return u
}

// endpoint builds the connect URL with the session query parameters.
func endpoint(opts Options) (string, error) {
	u, err := url.Parse(NormalizeURL(opts.URL))
	if err != nil {
		return "", fmt.Errorf("signaling: parse url: %w", err)
	}
	if u.Path == "" {
		u.Path = "/ws"
	}
	q := u.Query()
	q.Set("peerId", opts.PeerID)
	if opts.Room != "" {
		q.Set("room", opts.Room)
	}
	if opts.DisplayName != "" {
		q.Set("displayName", opts.DisplayName)
	}
	if opts.Host {
		q.Set("host", "1")
	}
	if opts.WaitingRoom {
		q.Set("waitingRoom", "1")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// backoff returns the delay before reconnect attempt n (1-based).
func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = DefaultReconnectDelay
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= MaxReconnectDelay {
			return MaxReconnectDelay
		}
	}
	return min(d, MaxReconnectDelay)
}
