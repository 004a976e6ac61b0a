package conn

import (
	"errors"
	"fmt"
	"time"
)

// State is the connection state presented to the application.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// EventKind names a transport lifecycle event.
type EventKind string

const (
	KindConnect          EventKind = "connect"
	KindDisconnect       EventKind = "disconnect"
	KindConnectError     EventKind = "connect_error"
	KindConnectTimeout   EventKind = "connect_timeout"
	KindError            EventKind = "error"
	KindReconnectAttempt EventKind = "reconnect_attempt"
	KindReconnectFailed  EventKind = "reconnect_failed"

	// KindActivity reports one inbound frame, delivered before the frame's
	// event (if any) is dispatched.
	KindActivity EventKind = "activity"
)

// Lifecycle is a transport lifecycle notification. Reason is set for
// disconnects, Err for errors and Attempt for reconnect attempts.
type Lifecycle struct {
	Kind    EventKind
	Reason  string
	Err     error
	Attempt uint
}

// FailureKind classifies why the connection was lost or unusable.
type FailureKind string

const (
	FailureNone           FailureKind = ""
	FailureNeverConnected FailureKind = "never_connected"
	FailureTransient      FailureKind = "transient"
	FailureExhausted      FailureKind = "exhausted"
	FailureZombie         FailureKind = "zombie"
	FailureMisuse         FailureKind = "misuse"
)

// Failure records the most recent failure seen by a Manager.
type Failure struct {
	Kind   FailureKind
	Reason string
	Err    error
	At     time.Time
}

func (f Failure) String() string {
	if f.Kind == FailureNone {
		return "none"
	}
	switch {
	case f.Err != nil:
		return fmt.Sprintf("%s: %v", f.Kind, f.Err)
	case f.Reason != "":
		return fmt.Sprintf("%s: %s", f.Kind, f.Reason)
	default:
		return string(f.Kind)
	}
}

// ErrNoTransport is logged when Emit is called before Connect.
var ErrNoTransport = errors.New("conn: no transport")
