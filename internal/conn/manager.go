package conn

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/five82/kiosk/internal/clock"
	"github.com/five82/kiosk/internal/guard"
	"github.com/five82/kiosk/internal/latency"
	"github.com/five82/kiosk/internal/signal"
)

// Guard keys for the process-wide singletons.
const (
	ManagerKey       = "kiosk/conn.manager"
	LastConnectedKey = "kiosk/conn.lastConnected"
)

// Manager owns the transport and its resilience state machine.
type Manager struct {
	opts    Options
	log     *zap.Logger
	clk     clock.Clock
	loading map[string]bool

	// lastConnected is the process-wide "last known connected" flag. It is
	// never trusted by Connect without a health check.
	lastConnected *atomic.Bool

	stateSig        *signal.Value[State]
	reconnectingSig *signal.Value[bool]
	loadingSig      *signal.Value[bool]
	latency         *latency.Tracker

	mu            sync.Mutex
	transport     Transport
	generation    uint64
	everConnected bool
	handlers      *registry
	failure       Failure

	state        State
	reconnecting bool

	grace    graceController
	health   healthMonitor
	zombie   zombieChecks
	inflight inflightRequests

	// publishing and republish coalesce signal publication; see publish.
	publishing bool
	republish  bool
}

// New returns a Manager. It shares the "last known connected" flag stored in
// opts.Registry but is otherwise independent; most callers want Shared.
func New(opts Options) *Manager {
	opts = opts.withDefaults()

	loading := make(map[string]bool, len(opts.LoadingEvents))
	for _, ev := range opts.LoadingEvents {
		loading[ev] = true
	}

	return &Manager{
		opts:    opts,
		log:     opts.Logger.Named("conn"),
		clk:     opts.Clock,
		loading: loading,
		lastConnected: guard.Get(opts.Registry, LastConnectedKey, func() *atomic.Bool {
			return new(atomic.Bool)
		}),
		stateSig:        signal.NewValue(Disconnected),
		reconnectingSig: signal.NewValue(false),
		loadingSig:      signal.NewValue(false),
		latency:         latency.NewTracker(opts.Clock, opts.Pairings),
		handlers:        newRegistry(),
		inflight:        inflightRequests{timers: make(map[uint64]clock.Timer)},
	}
}

// Shared returns the process-wide Manager stored in opts.Registry (or
// guard.Default), creating it from opts on first use. Later calls ignore opts.
func Shared(opts Options) *Manager {
	reg := opts.Registry
	if reg == nil {
		reg = guard.Default
	}
	opts.Registry = reg
	return guard.Get(reg, ManagerKey, func() *Manager { return New(opts) })
}

// State is the connection state signal.
func (m *Manager) State() *signal.Value[State] { return m.stateSig }

// Reconnecting is true while a grace period is pending.
func (m *Manager) Reconnecting() *signal.Value[bool] { return m.reconnectingSig }

// Loading is true while any loading request awaits its ack.
func (m *Manager) Loading() *signal.Value[bool] { return m.loadingSig }

// Latency returns the round trip tracker.
func (m *Manager) Latency() *latency.Tracker { return m.latency }

// Transport returns the current transport for inspection, or nil.
func (m *Manager) Transport() Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transport
}

// Generation increments every time a transport is created or released.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// LastFailure returns the most recent recorded failure.
func (m *Manager) LastFailure() Failure {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failure
}

// Connect establishes the transport if needed. It never blocks on the
// network and is safe to call repeatedly.
func (m *Manager) Connect() {
	distrust := false
	if m.lastConnected.Load() {
		if m.IsConnectionHealthy(0) {
			m.log.Debug("connect skipped, connection healthy")
			return
		}
		m.log.Info("last known connected flag is stale, reconnecting")
		m.lastConnected.Store(false)
		distrust = true
	}

	var stale Transport
	m.update(func() {
		if !distrust && m.transport != nil && m.transport.Connected() {
			return
		}
		if m.transport != nil {
			stale = m.releaseLocked()
		}

		m.generation++
		gen := m.generation
		m.state = Connecting
		m.health.reset(m.clk.Now())
		m.transport = m.opts.Dialer.Dial(m.opts.Host, func(ev Lifecycle) {
			m.handleLifecycle(gen, ev)
		})
		m.log.Info("dialing",
			zap.String("host", m.opts.Host),
			zap.Uint64("generation", gen),
			zap.String("transport", m.transport.ID()),
		)
	})
	m.closeTransport(stale)
}

// Disconnect tears down the transport and reports Disconnected. It is
// idempotent.
func (m *Manager) Disconnect() {
	var old Transport
	m.update(func() {
		m.cancelGraceLocked()
		old = m.releaseLocked()
		m.state = Disconnected
		m.reconnecting = false
	})
	m.lastConnected.Store(false)
	m.closeTransport(old)
}

// ForceReconnect discards the current transport and dials a new one at once,
// bypassing the transport's own backoff.
func (m *Manager) ForceReconnect() {
	var old Transport
	m.update(func() {
		m.cancelGraceLocked()
		m.reconnecting = true
		old = m.releaseLocked()
	})
	m.lastConnected.Store(false)
	m.closeTransport(old)
	m.log.Info("forcing reconnect")
	m.Connect()
}

// IsConnectionHealthy reports whether the transport is connected and has
// received data within maxAge. A session that has received nothing yet is
// trusted for Options.InitialTrust after it was established. A maxAge of zero
// or less uses Options.HealthMaxAge.
func (m *Manager) IsConnectionHealthy(maxAge time.Duration) bool {
	if maxAge <= 0 {
		maxAge = m.opts.HealthMaxAge
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transport == nil || !m.transport.Connected() {
		return false
	}
	return m.health.healthy(m.clk.Now(), maxAge, m.opts.InitialTrust)
}

func (m *Manager) handleLifecycle(gen uint64, ev Lifecycle) {
	if ev.Kind == KindActivity {
		m.touch(gen)
		return
	}

	var requestState bool
	m.update(func() {
		if gen != m.generation || m.transport == nil {
			m.log.Debug("ignoring stale lifecycle event",
				zap.String("event", string(ev.Kind)),
				zap.Uint64("generation", gen),
			)
			return
		}
		log := m.log.With(
			zap.String("event", string(ev.Kind)),
			zap.Uint64("generation", gen),
			zap.String("transport", m.transport.ID()),
		)

		switch ev.Kind {
		case KindConnect:
			m.cancelGraceLocked()
			m.state = Connected
			m.reconnecting = false
			m.everConnected = true
			m.lastConnected.Store(true)
			m.health.reset(m.clk.Now())
			m.attachAllLocked(gen)
			m.armZombieLocked()
			requestState = true
			log.Info("connected")

		case KindDisconnect:
			m.lastConnected.Store(false)
			m.cancelZombieLocked()
			if !m.everConnected {
				m.state = Disconnected
				m.recordLocked(FailureNeverConnected, ev.Reason, nil)
				log.Warn("disconnected before first connect", zap.String("reason", ev.Reason))
				return
			}
			m.recordLocked(FailureTransient, ev.Reason, nil)
			m.startGraceLocked(ev.Reason)
			log.Info("disconnected, grace period started",
				zap.String("reason", ev.Reason),
				zap.Duration("grace", m.opts.GracePeriod),
			)

		case KindConnectError, KindConnectTimeout:
			if !m.everConnected && !m.grace.pending() {
				m.state = Disconnected
				m.recordLocked(FailureNeverConnected, string(ev.Kind), ev.Err)
				log.Warn("initial connect failed", zap.Error(ev.Err))
				return
			}
			log.Debug("connect attempt failed", zap.Error(ev.Err))

		case KindReconnectAttempt:
			log.Debug("reconnect attempt", zap.Uint("attempt", ev.Attempt))

		case KindReconnectFailed:
			m.cancelGraceLocked()
			m.state = Disconnected
			m.reconnecting = false
			m.recordLocked(FailureExhausted, ev.Reason, ev.Err)
			log.Error("reconnect attempts exhausted", zap.Error(ev.Err))

		case KindError:
			log.Warn("transport error", zap.Error(ev.Err))

		default:
			log.Debug("unhandled lifecycle event")
		}
	})

	if requestState {
		m.Emit(m.opts.StateRequestEvent, nil, nil)
	}
}

// releaseLocked detaches the current transport and returns it for closing
// outside the lock. Timers tied to it are cancelled and in-flight requests
// are cleared.
func (m *Manager) releaseLocked() Transport {
	t := m.transport
	if t == nil {
		return nil
	}
	m.transport = nil
	m.generation++
	m.cancelZombieLocked()
	m.inflight.clear()
	return t
}

func (m *Manager) closeTransport(t Transport) {
	if t == nil {
		return
	}
	if err := t.Close(); err != nil {
		m.log.Debug("closing transport", zap.String("transport", t.ID()), zap.Error(err))
	}
}

func (m *Manager) recordLocked(kind FailureKind, reason string, err error) {
	m.failure = Failure{Kind: kind, Reason: reason, Err: err, At: m.clk.Now()}
}

// update runs fn under the lock and then publishes the resulting signal
// values.
func (m *Manager) update(fn func()) {
	m.mu.Lock()
	fn()
	m.mu.Unlock()
	m.publish()
}

// publish copies the locked state into the signals. Only one goroutine
// publishes at a time; a caller that finds publication in progress (including
// a watcher re-entering the Manager) marks it dirty and the active publisher
// loops, so the signals always settle on the latest state.
func (m *Manager) publish() {
	m.mu.Lock()
	if m.publishing {
		m.republish = true
		m.mu.Unlock()
		return
	}
	m.publishing = true
	for {
		m.republish = false
		state, reconnecting, loading := m.state, m.reconnecting, m.inflight.active()
		m.mu.Unlock()

		m.stateSig.Store(state)
		m.reconnectingSig.Store(reconnecting)
		m.loadingSig.Store(loading)

		m.mu.Lock()
		if !m.republish {
			m.publishing = false
			m.mu.Unlock()
			return
		}
	}
}
