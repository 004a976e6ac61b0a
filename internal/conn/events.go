package conn

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/five82/kiosk/internal/clock"
)

// inflightRequests tracks loading requests awaiting an ack. Each has a
// safety timer so a lost ack cannot leave Loading raised forever.
type inflightRequests struct {
	next   uint64
	timers map[uint64]clock.Timer
}

func (r *inflightRequests) active() bool { return len(r.timers) > 0 }

func (r *inflightRequests) done(id uint64) bool {
	t, ok := r.timers[id]
	if !ok {
		return false
	}
	t.Stop()
	delete(r.timers, id)
	return true
}

func (r *inflightRequests) clear() {
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
}

// Emit sends event with data to the backend. Without a transport it logs and
// returns without calling ack. Data is encoded as JSON; nil sends no payload.
func (m *Manager) Emit(event string, data any, ack Ack) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			m.log.Error("encoding payload", zap.String("event", event), zap.Error(err))
			return
		}
		raw = b
	}

	var (
		t         Transport
		requestID uint64
		tracked   bool
	)
	m.update(func() {
		t = m.transport
		if t == nil {
			m.recordLocked(FailureMisuse, event, ErrNoTransport)
			return
		}
		if m.loading[event] {
			m.inflight.next++
			requestID = m.inflight.next
			tracked = true
			m.inflight.timers[requestID] = m.clk.AfterFunc(m.opts.LoadingTimeout, func() {
				m.finishRequest(requestID, true)
			})
		}
	})
	if t == nil {
		m.log.Warn("emit without transport",
			zap.String("event", event),
			zap.String("failure", string(FailureMisuse)),
			zap.Error(ErrNoTransport),
		)
		return
	}

	m.latency.Start(event)

	err := t.Emit(event, raw, func(resp json.RawMessage) {
		if tracked {
			m.finishRequest(requestID, false)
		}
		if ack != nil {
			ack(resp)
		}
	})
	if err != nil {
		m.latency.Cancel(event)
		m.log.Warn("emit failed",
			zap.String("event", event),
			zap.String("transport", t.ID()),
			zap.Error(err),
		)
		if tracked {
			m.finishRequest(requestID, false)
		}
	}
}

func (m *Manager) finishRequest(id uint64, timedOut bool) {
	m.update(func() {
		if m.inflight.done(id) && timedOut {
			m.log.Warn("request ack timed out", zap.Duration("timeout", m.opts.LoadingTimeout))
		}
	})
}

// On subscribes h to event and returns a func that removes it. The
// subscription is attached to the current transport, if any, and to every
// transport created afterwards.
func (m *Manager) On(event string, h Handler) (unsubscribe func()) {
	m.mu.Lock()
	id := m.handlers.add(event, h)
	if m.transport != nil {
		m.transport.On(event, id, m.wrap(m.generation, event, h))
	}
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.handlers.remove(event, id)
			if m.transport != nil {
				m.transport.Off(event, id)
			}
		})
	}
}

// Off detaches every handler for event from the current transport. The
// subscriptions are kept and re-attached on the next connect.
func (m *Manager) Off(event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transport != nil {
		m.transport.OffAll(event)
	}
}

// SimulateEvent delivers data to every handler subscribed to event as if it
// had arrived from the backend. No transport is needed.
func (m *Manager) SimulateEvent(event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		m.log.Error("encoding simulated payload", zap.String("event", event), zap.Error(err))
		return
	}
	m.mu.Lock()
	subs := m.handlers.handlers(event)
	m.mu.Unlock()

	for _, s := range subs {
		m.wrap(0, event, s.h)(raw)
	}
}

// Subscribe is On with the payload decoded into T. Payloads that do not
// decode are logged and dropped.
func Subscribe[T any](m *Manager, event string, fn func(T)) (unsubscribe func()) {
	return m.On(event, func(raw json.RawMessage) {
		var v T
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &v); err != nil {
				m.log.Warn("decoding payload", zap.String("event", event), zap.Error(err))
				return
			}
		}
		fn(v)
	})
}

// wrap returns the handler actually attached to a transport. It records
// activity and resolves latency before calling h, and drops events from a
// transport that has since been released.
func (m *Manager) wrap(gen uint64, event string, h Handler) Handler {
	return func(data json.RawMessage) {
		if !m.touch(gen) {
			return
		}
		m.latency.Resolve(event)
		h(data)
	}
}

// attachAllLocked attaches every registered handler to the current
// transport, replacing any earlier attachment with the same id.
func (m *Manager) attachAllLocked(gen uint64) {
	for _, ev := range m.handlers.events() {
		for _, s := range m.handlers.handlers(ev) {
			m.transport.On(ev, s.id, m.wrap(gen, ev, s.h))
		}
	}
	m.log.Debug("handlers attached", zap.Int("count", m.handlers.len()))
}
