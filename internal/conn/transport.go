package conn

import "encoding/json"

// Handler receives the payload of an inbound event.
type Handler func(data json.RawMessage)

// Ack receives the server's acknowledgement of an emitted event.
type Ack func(data json.RawMessage)

// HandlerID identifies a handler attached to a transport.
type HandlerID uint64

// Transport is a live event channel. Implementations deliver lifecycle
// notifications through the func given to Dialer.Dial and must never call it
// synchronously from inside one of these methods.
type Transport interface {
	// ID identifies this transport instance in logs.
	ID() string
	// Connected reports whether a session is currently established.
	Connected() bool
	// Emit sends event. Data may be nil. Ack, if non-nil, is called at most
	// once with the server's reply.
	Emit(event string, data json.RawMessage, ack Ack) error
	// On attaches h under id, replacing any handler with the same id.
	On(event string, id HandlerID, h Handler)
	// Off detaches one handler.
	Off(event string, id HandlerID)
	// OffAll detaches every handler for event.
	OffAll(event string)
	// Close ends the transport permanently.
	Close() error
}

// Dialer creates transports. Dial returns immediately; the connection is
// established in the background and reported through notify.
type Dialer interface {
	Dial(host string, notify func(Lifecycle)) Transport
}

// DialerFunc adapts a func to Dialer.
type DialerFunc func(host string, notify func(Lifecycle)) Transport

func (f DialerFunc) Dial(host string, notify func(Lifecycle)) Transport {
	return f(host, notify)
}
