package socketio

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/five82/kiosk/internal/conn"
)

// Options tunes the client. Zero values take the defaults noted per field.
type Options struct {
	Path string // "/socket.io/"
	EIO  int    // Engine.IO protocol version, 3 or 4 (default 4)

	ReconnectAttempts uint          // 0 retries forever
	ReconnectDelay    time.Duration // 2s, doubled per attempt
	ReconnectDelayMax time.Duration // 10s
	ReconnectJitter   time.Duration // 500ms
	NoReconnect       bool

	HandshakeTimeout time.Duration // 30s
	WriteTimeout     time.Duration // 10s
	MaxPayload       int64         // 1 MiB
	QueueSize        int           // 64

	Header http.Header
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Path == "" {
		o.Path = "/socket.io/"
	}
	if o.EIO == 0 {
		o.EIO = 4
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 2 * time.Second
	}
	if o.ReconnectDelayMax <= 0 {
		o.ReconnectDelayMax = 10 * time.Second
	}
	if o.ReconnectJitter <= 0 {
		o.ReconnectJitter = 500 * time.Millisecond
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.MaxPayload <= 0 {
		o.MaxPayload = 1 << 20
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Dialer creates Clients. It implements conn.Dialer.
type Dialer struct {
	Options Options
}

// NewDialer returns a Dialer using opts.
func NewDialer(opts Options) *Dialer {
	return &Dialer{Options: opts}
}

// Dial starts a Client connecting to host in the background.
func (d *Dialer) Dial(host string, notify func(conn.Lifecycle)) conn.Transport {
	c := newClient(host, notify, d.Options)
	c.start()
	return c
}

// endpointURL turns host into the WebSocket URL of the Socket.IO endpoint.
// host may be a bare host:port or an http, https, ws or wss URL.
func endpointURL(host, path string, eio int) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", fmt.Errorf("socketio: empty host")
	}
	if !strings.Contains(host, "://") {
		host = "ws://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return "", fmt.Errorf("socketio: parse host %q: %w", host, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("socketio: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("socketio: host missing in %q", host)
	}

	if u.Path == "" || u.Path == "/" {
		u.Path = path
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	q := u.Query()
	q.Set("EIO", strconv.Itoa(eio))
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
