package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/five82/kiosk/internal/config"
	"github.com/five82/kiosk/internal/conn"
	"github.com/five82/kiosk/internal/netwatch"
	"github.com/five82/kiosk/internal/prefs"
	"github.com/five82/kiosk/internal/socketio"
	"github.com/five82/kiosk/internal/state"
	"github.com/five82/kiosk/internal/ui"
)

// Options configure the kiosk application.
type Options struct {
	ConfigPath string
	PrefsPath  string // empty uses default ~/.config/kiosk/prefs.toml
	Host       string // overrides config and KIOSK_HOST
	LogLevel   string // overrides config
	Headless   bool   // no TUI; log to stderr
}

// Run boots the kiosk until the context is cancelled or the user quits.
func Run(ctx context.Context, opts Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if host := strings.TrimSpace(opts.Host); host != "" {
		cfg.Host = host
	}
	if opts.LogLevel != "" {
		level, err := zapcore.ParseLevel(opts.LogLevel)
		if err != nil {
			return fmt.Errorf("log level: %w", err)
		}
		cfg.LogLevel = level
	}

	logPath := cfg.LogFile
	if opts.Headless {
		logPath = ""
	}
	logger, closeLog, err := newLogger(cfg.LogLevel, logPath)
	if err != nil {
		return err
	}
	defer closeLog()

	userPrefs, err := prefs.Load(opts.PrefsPath)
	if err != nil {
		logger.Warn("preferences unreadable, using defaults", zap.Error(err))
	}

	manager := conn.Shared(managerOptions(cfg, logger))
	store := &state.Store{}
	unbind := store.Bind(manager)
	defer unbind()

	logger.Info("kiosk starting", zap.String("host", cfg.Host), zap.Bool("headless", opts.Headless))
	manager.Connect()
	defer manager.Disconnect()

	watcher := netwatch.New(netwatch.Options{SuspendThreshold: cfg.Resume.SuspendThreshold})
	StartPoller(ctx, watcher, manager, cfg.Resume.PollInterval, cfg.Connection.HealthMaxAge, logger.Named("netwatch"))

	if opts.Headless {
		return runHeadless(ctx, manager, logger)
	}

	return ui.Run(ui.Options{
		Context:    ctx,
		Controller: manager,
		Store:      store,
		Prefs:      userPrefs,
		PrefsPath:  opts.PrefsPath,
		LogPath:    logPath,
		Logger:     logger.Named("ui"),
	})
}

func managerOptions(cfg config.Config, logger *zap.Logger) conn.Options {
	dialer := socketio.NewDialer(socketio.Options{
		Path:              cfg.Transport.Path,
		EIO:               cfg.Transport.EIO,
		ReconnectAttempts: cfg.Transport.ReconnectAttempts,
		ReconnectDelay:    cfg.Transport.ReconnectDelay,
		ReconnectDelayMax: cfg.Transport.ReconnectDelayMax,
		HandshakeTimeout:  cfg.Transport.HandshakeTimeout,
		Logger:            logger,
	})
	return conn.Options{
		Host:                 cfg.Host,
		Dialer:               dialer,
		Logger:               logger,
		GracePeriod:          cfg.Connection.GracePeriod,
		ZombieNudgeAfter:     cfg.Connection.ZombieNudgeAfter,
		ZombieReconnectAfter: cfg.Connection.ZombieReconnectAfter,
		HealthMaxAge:         cfg.Connection.HealthMaxAge,
		InitialTrust:         cfg.Connection.InitialTrust,
		LoadingTimeout:       cfg.Connection.LoadingTimeout,
	}
}

// runHeadless logs connection changes until ctx is done.
func runHeadless(ctx context.Context, m *conn.Manager, logger *zap.Logger) error {
	stopState := m.State().Watch(func(s conn.State) {
		fields := []zap.Field{zap.Stringer("state", s)}
		if s == conn.Disconnected {
			if f := m.LastFailure(); f.Kind != conn.FailureNone {
				fields = append(fields, zap.Stringer("failure", f))
			}
		}
		logger.Info("connection", fields...)
	})
	defer stopState()
	stopReconnecting := m.Reconnecting().Watch(func(r bool) {
		logger.Info("reconnecting", zap.Bool("active", r))
	})
	defer stopReconnecting()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			stats := m.Latency().Stats()
			if stats.Count > 0 {
				logger.Info("latency",
					zap.Int("samples", stats.Count),
					zap.Duration("mean", stats.Mean),
					zap.Duration("p95", stats.P95))
			}
		}
	}
}
