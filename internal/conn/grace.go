package conn

import (
	"go.uber.org/zap"

	"github.com/five82/kiosk/internal/clock"
)

// graceController holds at most one pending grace timer. token changes on
// every start and cancel so a timer that fires late can tell it is stale.
type graceController struct {
	timer clock.Timer
	token uint64
}

func (g *graceController) pending() bool { return g.timer != nil }

// startGraceLocked begins a grace window unless one is already pending.
// State is left as is; only the reconnecting flag is raised.
func (m *Manager) startGraceLocked(reason string) {
	if m.grace.pending() {
		return
	}
	m.reconnecting = true
	m.grace.token++
	token := m.grace.token
	m.grace.timer = m.clk.AfterFunc(m.opts.GracePeriod, func() {
		m.graceExpired(token, reason)
	})
}

func (m *Manager) cancelGraceLocked() {
	if m.grace.timer != nil {
		m.grace.timer.Stop()
		m.grace.timer = nil
	}
	m.grace.token++
}

func (m *Manager) graceExpired(token uint64, reason string) {
	m.update(func() {
		if token != m.grace.token || m.grace.timer == nil {
			return
		}
		m.grace.timer = nil
		m.state = Disconnected
		m.reconnecting = false
		m.log.Warn("grace period expired",
			zap.String("reason", reason),
			zap.String("failure", string(FailureTransient)),
		)
	})
}
