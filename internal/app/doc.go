// Package app is the composition root for the kiosk.
//
// # Overview
//
// Run wires configuration, logging, the connection manager, the snapshot
// store, the resume poller and the UI, then blocks until the user quits or
// the context is cancelled:
//
//	┌──────────────┐
//	│   Run()      │
//	└──────┬───────┘
//	       │
//	       ├─────> config.Load()        config.toml or config.yaml, KIOSK_HOST
//	       ├─────> newLogger()          JSON file (TUI) or console (headless)
//	       ├─────> prefs.Load()         theme, volume step
//	       ├─────> conn.Shared()        one Manager over a socketio.Dialer
//	       ├─────> store.Bind()         signals and pushState into the store
//	       ├─────> manager.Connect()
//	       ├─────> StartPoller()        netwatch triggers ForceReconnect
//	       └─────> ui.Run()             Bubble Tea (blocks)
//
// # Resume poller
//
// The kiosk has no notion of "returning to the foreground". The closest
// signals on a small Linux box are a network interface gaining an address
// and a large wall clock jump between polls (the host was suspended).
// StartPoller samples netwatch at Resume.PollInterval. A resume always forces
// a reconnect; an interface change does so only when the connection is not
// already healthy.
//
// # Errors
//
// Run returns errors only for startup problems: unreadable config, a bad log
// level or an unwritable log file. Connection trouble is never fatal; it
// shows up in the UI and the log.
package app
