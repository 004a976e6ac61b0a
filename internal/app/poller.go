package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/five82/kiosk/internal/netwatch"
)

const defaultPollInterval = 2 * time.Second

// Reconnector is the part of conn.Manager the resume poller drives.
type Reconnector interface {
	IsConnectionHealthy(maxAge time.Duration) bool
	ForceReconnect()
}

type checker interface {
	Check(ctx context.Context) (netwatch.Trigger, bool, error)
}

// StartPoller launches a background goroutine that samples the network at a
// fixed cadence and forces a reconnect when the host resumes or an interface
// comes up while the connection looks unhealthy. It returns immediately.
func StartPoller(ctx context.Context, w checker, r Reconnector, interval, maxAge time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			poll(ctx, w, r, maxAge, logger)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func poll(ctx context.Context, w checker, r Reconnector, maxAge time.Duration, logger *zap.Logger) {
	trig, fired, err := w.Check(ctx)
	if err != nil {
		logger.Debug("network check failed", zap.Error(err))
		return
	}
	if !fired {
		return
	}
	// After a suspend the socket is dead whatever it last reported.
	if trig.Kind != netwatch.Resumed && r.IsConnectionHealthy(maxAge) {
		logger.Debug("network change ignored, connection healthy", zap.Stringer("trigger", trig))
		return
	}
	logger.Info("forcing reconnect", zap.Stringer("trigger", trig))
	r.ForceReconnect()
}
