// Package state holds the snapshot the kiosk UI renders from.
//
// # Overview
//
// The connection manager publishes its signals and inbound events from
// several goroutines: the transport reader, timer callbacks and whoever
// called Connect. The UI, on the other hand, redraws on its own tick. Store
// sits between them:
//
//	conn.Manager                    UI
//	┌──────────────────┐           ┌──────────────────┐
//	│ State/Reconnecting│           │                  │
//	│ Loading, Latency  │──Bind────→│ store.Snapshot() │
//	│ pushState events  │ (mutex)   │      ↓           │
//	└──────────────────┘           │   render         │
//	                               └──────────────────┘
//
// Bind subscribes the store to a Manager and returns an unbind func. Signal
// watchers and the typed pushState/pushQueue subscriptions write into the
// store; Snapshot returns a copy under a read lock.
//
// # What the snapshot carries
//
//   - Connection, Reconnecting: the two orthogonal connection signals. The
//     UI shows a quiet marker while Reconnecting and a loud banner only when
//     Connection is Disconnected (see Snapshot.Offline).
//   - Loading: a request that shows a spinner is awaiting its ack.
//   - Latency: summary of the round trip samples.
//   - LastFailure: why the connection was last lost, for the status line.
//   - Playback, QueueLength: the last pushState and pushQueue payloads.
//
// Playback survives disconnects; the UI decides whether stale playback is
// worth showing.
package state
