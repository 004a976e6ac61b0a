// Package config loads kiosk's startup configuration.
//
// # Discovery
//
// Load resolves the file in this order:
//
//  1. An explicit path (the --config flag)
//  2. ~/.config/kiosk/config.toml
//
// A missing file is not an error; the defaults from Default are used. Files
// ending in .yaml or .yml are parsed as YAML, everything else as TOML. The
// KIOSK_HOST environment variable overrides host in every case.
//
// # Format
//
//	host = "volumio.local:3000"
//	log_level = "info"
//	log_file = "~/.local/state/kiosk/kiosk.log"
//
//	[connection]
//	grace_period = "5s"
//	zombie_nudge_after = "10s"
//	zombie_reconnect_after = "15s"
//	health_max_age = "30s"
//	initial_trust = "5s"
//	loading_timeout = "15s"
//
//	[transport]
//	path = "/socket.io/"
//	eio = 4
//	reconnect_delay = "2s"
//	reconnect_delay_max = "10s"
//	reconnect_attempts = 0   # 0 retries forever
//	handshake_timeout = "30s"
//
//	[resume]
//	poll_interval = "2s"
//	suspend_threshold = "15s"
//
// Every field is optional. Strings are trimmed, durations use Go syntax and
// must be positive, and a leading ~ in log_file is expanded.
//
// # Errors
//
// Load fails when the file cannot be read or parsed, or when a value is
// invalid. Value errors name the offending key, for example
// "connection.grace_period: time: invalid duration".
package config
