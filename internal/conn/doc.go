// Package conn owns the kiosk's single connection to the player daemon.
//
// A Manager wraps a Transport (see internal/socketio) and turns its flaky
// lifecycle into a small, stable surface for the rest of the application:
//
//   - State: disconnected, connecting or connected.
//   - Reconnecting: true while a short grace period absorbs a dropped link
//     without changing State.
//   - Loading: true while a request from LoadingEvents awaits its ack.
//   - Latency: round trip samples for paired request/response events.
//
// Subscriptions made with On are kept in a registry independent of any
// transport and are re-attached on every successful connect, before the new
// session's first inbound event is dispatched. Off detaches an event from the
// live transport only; the registry entry survives and is re-attached on the
// next connect. The func returned by On is the only way to forget a handler.
//
// Health is judged from inbound traffic. Any event counts as activity, including
// events nobody subscribed to; transports report them as KindActivity. After
// each connect two checks are armed: the first re-sends the state request if
// nothing has arrived, the second forces a reconnect if still nothing has.
// Both belong to one connect episode and are cancelled when it ends.
//
// All state lives behind one mutex. Handlers, acks and signal watchers are
// always called with it released. Timers run through an injected clock and
// carry a token, so a timer that fires after its episode ended does nothing.
//
// No method returns a transport error. Failures are logged and recorded in
// LastFailure.
package conn
