// Package conntest provides an in-memory conn.Transport and conn.Dialer for
// driving a conn.Manager in tests.
package conntest

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/five82/kiosk/internal/conn"
)

// Emitted is one call to Transport.Emit.
type Emitted struct {
	Event string
	Data  json.RawMessage
	Ack   conn.Ack
}

// Transport records emits and lets the test fire lifecycle and inbound
// events by hand.
type Transport struct {
	id     string
	Host   string
	notify func(conn.Lifecycle)

	mu        sync.Mutex
	connected bool
	closed    bool
	handlers  map[string]map[conn.HandlerID]conn.Handler
	emitted   []Emitted
	emitErr   error
}

// Dialer hands out Transports and remembers every one it created.
type Dialer struct {
	mu         sync.Mutex
	transports []*Transport
}

// Dial implements conn.Dialer.
func (d *Dialer) Dial(host string, notify func(conn.Lifecycle)) conn.Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := &Transport{
		id:       fmt.Sprintf("fake-%d", len(d.transports)+1),
		Host:     host,
		notify:   notify,
		handlers: make(map[string]map[conn.HandlerID]conn.Handler),
	}
	d.transports = append(d.transports, t)
	return t
}

// Count returns how many transports have been dialed.
func (d *Dialer) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

// Last returns the most recently dialed transport, or nil.
func (d *Dialer) Last() *Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

// All returns every dialed transport in dial order.
func (d *Dialer) All() []*Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Transport, len(d.transports))
	copy(out, d.transports)
	return out
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected && !t.closed
}

func (t *Transport) Emit(event string, data json.RawMessage, ack conn.Ack) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.emitErr != nil {
		return t.emitErr
	}
	t.emitted = append(t.emitted, Emitted{Event: event, Data: data, Ack: ack})
	return nil
}

func (t *Transport) On(event string, id conn.HandlerID, h conn.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handlers[event] == nil {
		t.handlers[event] = make(map[conn.HandlerID]conn.Handler)
	}
	t.handlers[event][id] = h
}

func (t *Transport) Off(event string, id conn.HandlerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers[event], id)
}

func (t *Transport) OffAll(event string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, event)
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.connected = false
	return nil
}

// Closed reports whether Close was called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// SetConnected changes what Connected reports without notifying.
func (t *Transport) SetConnected(v bool) {
	t.mu.Lock()
	t.connected = v
	t.mu.Unlock()
}

// FailEmits makes every later Emit return err. Nil restores normal behaviour.
func (t *Transport) FailEmits(err error) {
	t.mu.Lock()
	t.emitErr = err
	t.mu.Unlock()
}

// Fire delivers a lifecycle event. Connect and disconnect also update what
// Connected reports.
func (t *Transport) Fire(ev conn.Lifecycle) {
	switch ev.Kind {
	case conn.KindConnect:
		t.SetConnected(true)
	case conn.KindDisconnect:
		t.SetConnected(false)
	}
	t.notify(ev)
}

// Open fires a connect event.
func (t *Transport) Open() { t.Fire(conn.Lifecycle{Kind: conn.KindConnect}) }

// Drop fires a disconnect event with reason.
func (t *Transport) Drop(reason string) {
	t.Fire(conn.Lifecycle{Kind: conn.KindDisconnect, Reason: reason})
}

// Deliver reports activity like a real transport, then marshals data and
// calls every handler attached for event, in handler id order. It returns how
// many handlers ran.
func (t *Transport) Deliver(event string, data any) int {
	raw, err := json.Marshal(data)
	if err != nil {
		panic(fmt.Sprintf("conntest: marshal %s payload: %v", event, err))
	}
	t.notify(conn.Lifecycle{Kind: conn.KindActivity})

	t.mu.Lock()
	ids := make([]conn.HandlerID, 0, len(t.handlers[event]))
	for id := range t.handlers[event] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	hs := make([]conn.Handler, len(ids))
	for i, id := range ids {
		hs[i] = t.handlers[event][id]
	}
	t.mu.Unlock()

	for _, h := range hs {
		h(raw)
	}
	return len(hs)
}

// Handlers returns the number of handlers attached for event.
func (t *Transport) Handlers(event string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handlers[event])
}

// Emitted returns a copy of every emit so far.
func (t *Transport) Emitted() []Emitted {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Emitted, len(t.emitted))
	copy(out, t.emitted)
	return out
}

// EmittedEvents returns the event names emitted so far.
func (t *Transport) EmittedEvents() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.emitted))
	for i, e := range t.emitted {
		out[i] = e.Event
	}
	return out
}
