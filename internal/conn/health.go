package conn

import (
	"time"

	"go.uber.org/zap"

	"github.com/five82/kiosk/internal/clock"
)

// healthMonitor tracks inbound activity for the current session.
type healthMonitor struct {
	establishedAt time.Time
	lastActivity  time.Time
	received      bool
}

func (h *healthMonitor) reset(now time.Time) {
	h.establishedAt = now
	h.received = false
}

func (h *healthMonitor) touch(now time.Time) {
	h.lastActivity = now
	h.received = true
}

func (h *healthMonitor) healthy(now time.Time, maxAge, initialTrust time.Duration) bool {
	if !h.received {
		return now.Sub(h.establishedAt) < initialTrust
	}
	return now.Sub(h.lastActivity) < maxAge
}

// zombieChecks are the two timers armed on each connect. episode identifies
// the connect they belong to.
type zombieChecks struct {
	episode   uint64
	nudge     clock.Timer
	reconnect clock.Timer
}

func (m *Manager) armZombieLocked() {
	m.cancelZombieLocked()
	ep := m.zombie.episode
	m.zombie.nudge = m.clk.AfterFunc(m.opts.ZombieNudgeAfter, func() { m.zombieNudge(ep) })
	m.zombie.reconnect = m.clk.AfterFunc(m.opts.ZombieReconnectAfter, func() { m.zombieReconnect(ep) })
}

func (m *Manager) cancelZombieLocked() {
	if m.zombie.nudge != nil {
		m.zombie.nudge.Stop()
		m.zombie.nudge = nil
	}
	if m.zombie.reconnect != nil {
		m.zombie.reconnect.Stop()
		m.zombie.reconnect = nil
	}
	m.zombie.episode++
}

// silentLocked reports whether episode is still current and has seen no
// inbound data.
func (m *Manager) silentLocked(episode uint64) bool {
	return episode == m.zombie.episode && m.transport != nil && !m.health.received
}

func (m *Manager) zombieNudge(episode uint64) {
	m.mu.Lock()
	silent := m.silentLocked(episode)
	if silent {
		m.zombie.nudge = nil
	}
	m.mu.Unlock()
	if !silent {
		return
	}
	m.log.Info("no data since connect, re-requesting state")
	m.Emit(m.opts.StateRequestEvent, nil, nil)
}

func (m *Manager) zombieReconnect(episode uint64) {
	m.mu.Lock()
	silent := m.silentLocked(episode)
	if silent {
		m.zombie.reconnect = nil
		m.recordLocked(FailureZombie, "no data since connect", nil)
	}
	m.mu.Unlock()
	if !silent {
		return
	}
	m.log.Warn("connection looks dead, forcing reconnect",
		zap.String("failure", string(FailureZombie)),
	)
	m.ForceReconnect()
}

// touch records inbound activity. It reports false when gen names a
// released transport; gen zero is always accepted.
func (m *Manager) touch(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != 0 && gen != m.generation {
		return false
	}
	m.health.touch(m.clk.Now())
	return true
}
