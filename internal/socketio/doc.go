// Package socketio is a Socket.IO client for the player daemon's event
// channel. It speaks Engine.IO v4 (or v3) over a single WebSocket and never
// falls back to HTTP long-polling.
//
// A Client owns its reconnect policy: exponential backoff with jitter between
// ReconnectDelay and ReconnectDelayMax, an optional attempt budget, and a
// handshake timeout per attempt. It reports progress through conn.Lifecycle
// notifications delivered on its reader goroutine, so a connect notification
// always precedes the first event of the new session. Every inbound message
// frame is also reported as activity, whether or not a handler listens for it.
//
// Emit never writes to the socket itself. Frames go through a bounded queue
// to a writer goroutine owned by the current session, so a stalled peer
// delays delivery but never the caller.
//
// Only the default namespace and text packets are supported.
package socketio
