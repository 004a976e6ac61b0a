// Package ui renders the kiosk screen with Bubble Tea.
//
// The model polls state.Store on a short tick and renders three rows:
//
//   - header: logo, connection badge, loading spinner, transient notices.
//     When the snapshot is offline a full-width DISCONNECTED banner follows
//     with the last failure and a reconnect hint.
//   - now playing: the last pushState payload with a seek bar, volume and
//     queue length. It is dimmed while offline.
//   - footer: round trip latency summary and short key help.
//
// Player keys go through Controller.Emit and are refused while offline so
// the manager never sees an emit without a transport from the UI. "r"
// calls Controller.ForceReconnect whatever the state. "T" cycles the theme
// and writes it to the preferences file.
package ui
