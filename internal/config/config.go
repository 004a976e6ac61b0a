package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config is everything kiosk reads at startup.
type Config struct {
	Host     string
	LogLevel zapcore.Level
	LogFile  string

	Connection Connection
	Transport  Transport
	Resume     Resume
}

// Connection tunes the resilience layer.
type Connection struct {
	GracePeriod          time.Duration
	ZombieNudgeAfter     time.Duration
	ZombieReconnectAfter time.Duration
	HealthMaxAge         time.Duration
	InitialTrust         time.Duration
	LoadingTimeout       time.Duration
}

// Transport tunes the Socket.IO client.
type Transport struct {
	Path              string
	EIO               int
	ReconnectDelay    time.Duration
	ReconnectDelayMax time.Duration
	ReconnectAttempts uint
	HandshakeTimeout  time.Duration
}

// Resume tunes the network/resume watcher.
type Resume struct {
	PollInterval     time.Duration
	SuspendThreshold time.Duration
}

// HostEnv overrides the configured host.
const HostEnv = "KIOSK_HOST"

const (
	defaultConfigPath = "~/.config/kiosk/config.toml"
	defaultLogFile    = "~/.local/state/kiosk/kiosk.log"
	defaultHost       = "localhost:3000"
)

// Default returns the built-in configuration with paths expanded.
func Default() Config {
	return Config{
		Host:     defaultHost,
		LogLevel: zapcore.InfoLevel,
		LogFile:  mustExpand(defaultLogFile),
		Connection: Connection{
			GracePeriod:          5 * time.Second,
			ZombieNudgeAfter:     10 * time.Second,
			ZombieReconnectAfter: 15 * time.Second,
			HealthMaxAge:         30 * time.Second,
			InitialTrust:         5 * time.Second,
			LoadingTimeout:       15 * time.Second,
		},
		Transport: Transport{
			Path:              "/socket.io/",
			EIO:               4,
			ReconnectDelay:    2 * time.Second,
			ReconnectDelayMax: 10 * time.Second,
			HandshakeTimeout:  30 * time.Second,
		},
		Resume: Resume{
			PollInterval:     2 * time.Second,
			SuspendThreshold: 15 * time.Second,
		},
	}
}

type rawConfig struct {
	Host     string `toml:"host" yaml:"host"`
	LogLevel string `toml:"log_level" yaml:"log_level"`
	LogFile  string `toml:"log_file" yaml:"log_file"`

	Connection struct {
		GracePeriod          string `toml:"grace_period" yaml:"grace_period"`
		ZombieNudgeAfter     string `toml:"zombie_nudge_after" yaml:"zombie_nudge_after"`
		ZombieReconnectAfter string `toml:"zombie_reconnect_after" yaml:"zombie_reconnect_after"`
		HealthMaxAge         string `toml:"health_max_age" yaml:"health_max_age"`
		InitialTrust         string `toml:"initial_trust" yaml:"initial_trust"`
		LoadingTimeout       string `toml:"loading_timeout" yaml:"loading_timeout"`
	} `toml:"connection" yaml:"connection"`

	Transport struct {
		Path              string `toml:"path" yaml:"path"`
		EIO               int    `toml:"eio" yaml:"eio"`
		ReconnectDelay    string `toml:"reconnect_delay" yaml:"reconnect_delay"`
		ReconnectDelayMax string `toml:"reconnect_delay_max" yaml:"reconnect_delay_max"`
		ReconnectAttempts uint   `toml:"reconnect_attempts" yaml:"reconnect_attempts"`
		HandshakeTimeout  string `toml:"handshake_timeout" yaml:"handshake_timeout"`
	} `toml:"transport" yaml:"transport"`

	Resume struct {
		PollInterval     string `toml:"poll_interval" yaml:"poll_interval"`
		SuspendThreshold string `toml:"suspend_threshold" yaml:"suspend_threshold"`
	} `toml:"resume" yaml:"resume"`
}

// Load reads the config at path (or the default location), falling back to
// defaults when the file is missing. KIOSK_HOST overrides host.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(&cfg)
			return cfg, nil
		}
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var raw rawConfig
	switch strings.ToLower(filepath.Ext(resolved)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(bytes, &raw)
	default:
		err = toml.Unmarshal(bytes, &raw)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := apply(&cfg, raw); err != nil {
		return Config{}, err
	}
	applyEnv(&cfg)
	return cfg, nil
}

func apply(cfg *Config, raw rawConfig) error {
	if host := strings.TrimSpace(raw.Host); host != "" {
		cfg.Host = host
	}
	if level := strings.TrimSpace(raw.LogLevel); level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
		cfg.LogLevel = parsed
	}
	if file := strings.TrimSpace(raw.LogFile); file != "" {
		expanded, err := expandPath(file)
		if err != nil {
			return fmt.Errorf("log_file: %w", err)
		}
		cfg.LogFile = expanded
	}

	durations := []struct {
		key string
		val string
		dst *time.Duration
	}{
		{"connection.grace_period", raw.Connection.GracePeriod, &cfg.Connection.GracePeriod},
		{"connection.zombie_nudge_after", raw.Connection.ZombieNudgeAfter, &cfg.Connection.ZombieNudgeAfter},
		{"connection.zombie_reconnect_after", raw.Connection.ZombieReconnectAfter, &cfg.Connection.ZombieReconnectAfter},
		{"connection.health_max_age", raw.Connection.HealthMaxAge, &cfg.Connection.HealthMaxAge},
		{"connection.initial_trust", raw.Connection.InitialTrust, &cfg.Connection.InitialTrust},
		{"connection.loading_timeout", raw.Connection.LoadingTimeout, &cfg.Connection.LoadingTimeout},
		{"transport.reconnect_delay", raw.Transport.ReconnectDelay, &cfg.Transport.ReconnectDelay},
		{"transport.reconnect_delay_max", raw.Transport.ReconnectDelayMax, &cfg.Transport.ReconnectDelayMax},
		{"transport.handshake_timeout", raw.Transport.HandshakeTimeout, &cfg.Transport.HandshakeTimeout},
		{"resume.poll_interval", raw.Resume.PollInterval, &cfg.Resume.PollInterval},
		{"resume.suspend_threshold", raw.Resume.SuspendThreshold, &cfg.Resume.SuspendThreshold},
	}
	for _, d := range durations {
		v := strings.TrimSpace(d.val)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("%s: must be positive, got %s", d.key, v)
		}
		*d.dst = parsed
	}

	if cfg.Connection.ZombieReconnectAfter <= cfg.Connection.ZombieNudgeAfter {
		return fmt.Errorf("connection.zombie_reconnect_after (%s) must be later than zombie_nudge_after (%s)",
			cfg.Connection.ZombieReconnectAfter, cfg.Connection.ZombieNudgeAfter)
	}

	if p := strings.TrimSpace(raw.Transport.Path); p != "" {
		cfg.Transport.Path = p
	}
	switch raw.Transport.EIO {
	case 0:
	case 3, 4:
		cfg.Transport.EIO = raw.Transport.EIO
	default:
		return fmt.Errorf("transport.eio: unsupported version %d", raw.Transport.EIO)
	}
	cfg.Transport.ReconnectAttempts = raw.Transport.ReconnectAttempts
	return nil
}

func applyEnv(cfg *Config) {
	if host := strings.TrimSpace(os.Getenv(HostEnv)); host != "" {
		cfg.Host = host
	}
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
