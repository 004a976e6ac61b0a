package conn_test

import (
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/five82/kiosk/internal/clock"
	"github.com/five82/kiosk/internal/conn"
	"github.com/five82/kiosk/internal/conn/conntest"
	"github.com/five82/kiosk/internal/guard"
)

type harness struct {
	m   *conn.Manager
	d   *conntest.Dialer
	clk *clock.Fake
	reg *guard.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		d:   &conntest.Dialer{},
		clk: clock.NewFake(time.Unix(1_700_000_000, 0)),
		reg: guard.New(),
	}
	h.m = conn.New(conn.Options{
		Host:     "player.local:3000",
		Dialer:   h.d,
		Clock:    h.clk,
		Registry: h.reg,
	})
	return h
}

// connected dials and completes the first connect.
func (h *harness) connected(t *testing.T) *conntest.Transport {
	t.Helper()
	h.m.Connect()
	tr := h.d.Last()
	if tr == nil {
		t.Fatalf("Connect did not dial")
	}
	tr.Open()
	return tr
}

func (h *harness) assertState(t *testing.T, want conn.State, wantReconnecting bool) {
	t.Helper()
	if got := h.m.State().Load(); got != want {
		t.Fatalf("State = %v, want %v", got, want)
	}
	if got := h.m.Reconnecting().Load(); got != wantReconnecting {
		t.Fatalf("Reconnecting = %v, want %v", got, wantReconnecting)
	}
}

func TestManager_DisconnectThenGraceExpires(t *testing.T) {
	h := newHarness(t)
	h.m.Connect()
	h.assertState(t, conn.Connecting, false)

	tr := h.d.Last()
	tr.Open()
	h.assertState(t, conn.Connected, false)

	tr.Drop("transport close")
	h.assertState(t, conn.Connected, true)

	h.clk.Advance(5100 * time.Millisecond)
	h.assertState(t, conn.Disconnected, false)

	if f := h.m.LastFailure(); f.Kind != conn.FailureTransient || f.Reason != "transport close" {
		t.Fatalf("LastFailure = %+v, want transient/transport close", f)
	}
}

func TestManager_GraceNeverExpiresEarly(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t)

	var transitions []conn.State
	h.m.State().Watch(func(s conn.State) { transitions = append(transitions, s) })

	tr.Drop("ping timeout")
	h.clk.Advance(4999 * time.Millisecond)
	h.assertState(t, conn.Connected, true)

	h.clk.Advance(time.Millisecond)
	h.assertState(t, conn.Disconnected, false)

	h.clk.Advance(time.Minute)
	if len(transitions) != 1 || transitions[0] != conn.Disconnected {
		t.Fatalf("transitions = %v, want [disconnected]", transitions)
	}
}

func TestManager_FlappingStaysConnected(t *testing.T) {
	h := newHarness(t)
	h.m.On("pushState", func(json.RawMessage) {})
	tr := h.connected(t)

	var sawDisconnected bool
	h.m.State().Watch(func(s conn.State) {
		if s != conn.Connected {
			sawDisconnected = true
		}
	})

	for i := 0; i < 6; i++ {
		tr.Drop("transport close")
		h.clk.Advance(3 * time.Second)
		tr.Open()
		tr.Deliver("pushState", map[string]string{"status": "play"})
		h.clk.Advance(time.Second)
	}

	if sawDisconnected {
		t.Fatalf("state left connected during flapping")
	}
	h.assertState(t, conn.Connected, false)

	h.clk.Advance(time.Hour)
	if got := h.m.State().Load(); got != conn.Connected {
		t.Fatalf("State after long advance = %v, want connected", got)
	}
	if h.d.Count() != 1 {
		t.Fatalf("dialed %d transports, want 1", h.d.Count())
	}
}

func TestManager_ReconnectInsideGraceCancelsTransition(t *testing.T) {
	h := newHarness(t)
	h.m.On("pushState", func(json.RawMessage) {})
	tr := h.connected(t)

	tr.Drop("transport close")
	h.clk.Advance(4900 * time.Millisecond)
	tr.Open()
	tr.Deliver("pushState", struct{}{})

	h.clk.Advance(10 * time.Minute)
	h.assertState(t, conn.Connected, false)
}

func TestManager_ConnectErrorBeforeFirstConnect(t *testing.T) {
	h := newHarness(t)
	h.m.Connect()

	h.d.Last().Fire(conn.Lifecycle{Kind: conn.KindConnectError, Err: errors.New("refused")})
	h.assertState(t, conn.Disconnected, false)

	if h.clk.Pending() != 0 {
		t.Fatalf("timers pending = %d, want 0 (no grace period)", h.clk.Pending())
	}
	if f := h.m.LastFailure(); f.Kind != conn.FailureNeverConnected {
		t.Fatalf("LastFailure.Kind = %q, want never_connected", f.Kind)
	}
}

func TestManager_ConnectTimeoutAndDisconnectBeforeFirstConnect(t *testing.T) {
	tests := []struct {
		name string
		ev   conn.Lifecycle
	}{
		{"timeout", conn.Lifecycle{Kind: conn.KindConnectTimeout}},
		{"disconnect", conn.Lifecycle{Kind: conn.KindDisconnect, Reason: "transport error"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.m.Connect()
			h.d.Last().Fire(tt.ev)
			h.assertState(t, conn.Disconnected, false)
		})
	}
}

func TestManager_ConnectErrorAfterConnectIsAbsorbed(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t)

	tr.Drop("transport close")
	tr.Fire(conn.Lifecycle{Kind: conn.KindConnectError, Err: errors.New("refused")})
	h.assertState(t, conn.Connected, true)
}

func TestManager_ConnectIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.connected(t)

	for i := 0; i < 5; i++ {
		h.m.Connect()
	}
	if h.d.Count() != 1 {
		t.Fatalf("dialed %d transports, want 1", h.d.Count())
	}
}

func TestManager_ConnectWhileDialingReplacesStaleTransport(t *testing.T) {
	h := newHarness(t)
	h.m.Connect()
	first := h.d.Last()

	h.m.Connect()
	if h.d.Count() != 2 {
		t.Fatalf("dialed %d transports, want 2", h.d.Count())
	}
	if !first.Closed() {
		t.Fatalf("stale transport was not closed")
	}

	first.Open()
	h.assertState(t, conn.Connecting, false)
}

func TestManager_StaleFlagWithoutTransport(t *testing.T) {
	h := newHarness(t)
	flag := guard.Get(h.reg, conn.LastConnectedKey, func() *atomic.Bool { return new(atomic.Bool) })
	flag.Store(true)

	h.m.Connect()
	if h.d.Count() != 1 {
		t.Fatalf("dialed %d transports, want 1", h.d.Count())
	}
	if flag.Load() {
		t.Fatalf("stale flag was not cleared")
	}
}

func TestManager_StaleFlagWithSilentTransport(t *testing.T) {
	h := newHarness(t)
	h.m.On("pushState", func(json.RawMessage) {})
	tr := h.connected(t)
	tr.Deliver("pushState", struct{}{})

	h.clk.Advance(31 * time.Second)
	if h.m.IsConnectionHealthy(0) {
		t.Fatalf("IsConnectionHealthy = true after 31s of silence")
	}

	h.m.Connect()
	if h.d.Count() != 2 {
		t.Fatalf("dialed %d transports, want 2", h.d.Count())
	}
	if !tr.Closed() {
		t.Fatalf("silent transport was not closed")
	}
}

func TestManager_HealthyFlagSkipsConnect(t *testing.T) {
	h := newHarness(t)
	h.m.On("pushState", func(json.RawMessage) {})
	tr := h.connected(t)
	tr.Deliver("pushState", struct{}{})

	h.m.Connect()
	if h.d.Count() != 1 {
		t.Fatalf("dialed %d transports, want 1", h.d.Count())
	}
}

func TestManager_HandlersRegisteredBeforeTransport(t *testing.T) {
	h := newHarness(t)
	var got []string
	h.m.On("pushState", func(data json.RawMessage) { got = append(got, string(data)) })

	h.m.Connect()
	tr := h.d.Last()
	if n := tr.Handlers("pushState"); n != 0 {
		t.Fatalf("handlers attached before connect = %d, want 0", n)
	}
	tr.Open()
	if n := tr.Handlers("pushState"); n != 1 {
		t.Fatalf("handlers attached after connect = %d, want 1", n)
	}

	tr.Deliver("pushState", map[string]string{"status": "stop"})
	if len(got) != 1 || got[0] != `{"status":"stop"}` {
		t.Fatalf("handler saw %v", got)
	}
}

func TestManager_HandlersSurviveForceReconnect(t *testing.T) {
	h := newHarness(t)
	calls := 0
	h.m.On("pushQueue", func(json.RawMessage) { calls++ })
	old := h.connected(t)

	h.m.ForceReconnect()
	fresh := h.d.Last()
	fresh.Open()

	if n := old.Deliver("pushQueue", []int{}); n != 1 {
		t.Fatalf("old transport still had %d handlers, want 1", n)
	}
	if calls != 0 {
		t.Fatalf("event from released transport reached handler")
	}
	fresh.Deliver("pushQueue", []int{})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestManager_ConnectEmitsStateRequest(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t)

	events := tr.EmittedEvents()
	if len(events) != 1 || events[0] != "getState" {
		t.Fatalf("emitted %v, want [getState]", events)
	}
}

func TestManager_LatencyPairing(t *testing.T) {
	h := newHarness(t)
	h.m.On("pushState", func(json.RawMessage) {})
	tr := h.connected(t)

	h.m.Emit("play", nil, nil)
	h.m.Emit("play", nil, nil)
	if p := h.m.Latency().Pending(); p != 1 {
		t.Fatalf("pending latency timers = %d, want 1", p)
	}

	h.clk.Advance(40 * time.Millisecond)
	tr.Deliver("pushState", struct{}{})

	samples := h.m.Latency().Samples()
	if len(samples) != 1 {
		t.Fatalf("samples = %d, want 1", len(samples))
	}
	if samples[0].Latency != 40*time.Millisecond || samples[0].Event != "pushState" {
		t.Fatalf("sample = %+v, want pushState 40ms", samples[0])
	}
	if samples[0].Latency < 0 {
		t.Fatalf("negative latency")
	}
}

func TestManager_LatencySamplesBounded(t *testing.T) {
	h := newHarness(t)
	h.m.On("pushState", func(json.RawMessage) {})
	tr := h.connected(t)

	for i := 0; i < 120; i++ {
		h.m.Emit("next", nil, nil)
		h.clk.Advance(time.Millisecond)
		tr.Deliver("pushState", struct{}{})
	}
	if n := len(h.m.Latency().Samples()); n != 50 {
		t.Fatalf("samples = %d, want 50", n)
	}
}

func TestManager_EmitWithoutTransport(t *testing.T) {
	h := newHarness(t)
	called := false
	h.m.Emit("play", map[string]int{"position": 1}, func(json.RawMessage) { called = true })

	if called {
		t.Fatalf("ack called without transport")
	}
	if h.m.Loading().Load() {
		t.Fatalf("Loading raised without transport")
	}
	if f := h.m.LastFailure(); f.Kind != conn.FailureMisuse || !errors.Is(f.Err, conn.ErrNoTransport) {
		t.Fatalf("LastFailure = %+v, want misuse/ErrNoTransport", f)
	}
}

func TestManager_EmitForwardsPayloadAndAck(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t)

	var acked string
	h.m.Emit("volume", 42, func(resp json.RawMessage) { acked = string(resp) })

	emitted := tr.Emitted()
	last := emitted[len(emitted)-1]
	if last.Event != "volume" || string(last.Data) != "42" {
		t.Fatalf("emitted %s %s, want volume 42", last.Event, last.Data)
	}
	last.Ack(json.RawMessage(`"ok"`))
	if acked != `"ok"` {
		t.Fatalf("ack = %q, want \"ok\"", acked)
	}
}

func TestManager_LoadingFlag(t *testing.T) {
	h := newHarness(t)
	h.m.On("pushState", func(json.RawMessage) {})
	tr := h.connected(t)
	tr.Deliver("pushState", struct{}{})

	acked := false
	h.m.Emit("browseLibrary", map[string]string{"uri": "music-library"}, func(json.RawMessage) { acked = true })
	if !h.m.Loading().Load() {
		t.Fatalf("Loading = false while browse in flight")
	}
	emitted := tr.Emitted()
	emitted[len(emitted)-1].Ack(nil)
	if h.m.Loading().Load() {
		t.Fatalf("Loading = true after ack")
	}
	if !acked {
		t.Fatalf("caller ack not invoked")
	}

	h.m.Emit("play", nil, nil)
	if h.m.Loading().Load() {
		t.Fatalf("Loading raised for a non-loading event")
	}
}

func TestManager_LoadingTimeout(t *testing.T) {
	h := newHarness(t)
	h.m.On("pushState", func(json.RawMessage) {})
	tr := h.connected(t)
	tr.Deliver("pushState", struct{}{})

	h.m.Emit("search", "miles", nil)
	h.clk.Advance(conn.DefaultLoadingTimeout - time.Millisecond)
	if !h.m.Loading().Load() {
		t.Fatalf("Loading cleared before timeout")
	}
	h.clk.Advance(time.Millisecond)
	if h.m.Loading().Load() {
		t.Fatalf("Loading still raised after timeout")
	}
}

func TestManager_LoadingClearedOnTeardownAndEmitError(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t)

	h.m.Emit("getPlaylists", nil, nil)
	h.m.Disconnect()
	if h.m.Loading().Load() {
		t.Fatalf("Loading still raised after Disconnect")
	}

	h.m.Connect()
	tr = h.d.Last()
	tr.Open()
	tr.FailEmits(errors.New("closed"))
	h.m.Emit("getPlaylists", nil, nil)
	if h.m.Loading().Load() {
		t.Fatalf("Loading still raised after failed emit")
	}
}

func TestManager_ZombieNudgeThenForceReconnect(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t)

	h.clk.Advance(conn.DefaultZombieNudgeAfter)
	events := tr.EmittedEvents()
	if len(events) != 2 || events[1] != "getState" {
		t.Fatalf("emitted %v, want two getState", events)
	}
	if h.d.Count() != 1 {
		t.Fatalf("reconnected before second check")
	}

	h.clk.Advance(conn.DefaultZombieReconnectAfter - conn.DefaultZombieNudgeAfter)
	if h.d.Count() != 2 {
		t.Fatalf("dialed %d transports, want 2", h.d.Count())
	}
	if !tr.Closed() {
		t.Fatalf("zombie transport not closed")
	}
	h.assertState(t, conn.Connecting, true)
	if f := h.m.LastFailure(); f.Kind != conn.FailureZombie {
		t.Fatalf("LastFailure.Kind = %q, want zombie", f.Kind)
	}
}

func TestManager_ZombieChecksSkipWhenDataArrives(t *testing.T) {
	h := newHarness(t)
	h.m.On("pushState", func(json.RawMessage) {})
	tr := h.connected(t)

	h.clk.Advance(2 * time.Second)
	tr.Deliver("pushState", struct{}{})
	h.clk.Advance(time.Minute)

	if n := len(tr.EmittedEvents()); n != 1 {
		t.Fatalf("emitted %d events, want 1", n)
	}
	if h.d.Count() != 1 {
		t.Fatalf("dialed %d transports, want 1", h.d.Count())
	}
}

func TestManager_UnsubscribedTrafficCountsAsActivity(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t)

	for i := 0; i < 30; i++ {
		h.clk.Advance(time.Second)
		if n := tr.Deliver("pushToastMessage", map[string]string{"type": "info"}); n != 0 {
			t.Fatalf("Deliver ran %d handlers, want 0", n)
		}
	}

	if h.d.Count() != 1 {
		t.Fatalf("dialed %d transports while traffic flowed, want 1", h.d.Count())
	}
	if f := h.m.LastFailure(); f.Kind == conn.FailureZombie {
		t.Fatalf("LastFailure = %v, want no zombie", f)
	}
	if !h.m.IsConnectionHealthy(2 * time.Second) {
		t.Fatalf("IsConnectionHealthy = false with recent traffic")
	}
}

func TestManager_FailedEmitLeavesNoLatencyTimer(t *testing.T) {
	h := newHarness(t)
	h.m.On("pushState", func(json.RawMessage) {})
	tr := h.connected(t)
	tr.Deliver("pushState", struct{}{})
	before := len(h.m.Latency().Samples())

	tr.FailEmits(errors.New("closed"))
	h.m.Emit("play", nil, nil)
	if p := h.m.Latency().Pending(); p != 0 {
		t.Fatalf("pending latency timers = %d after failed emit, want 0", p)
	}

	h.clk.Advance(5 * time.Second)
	tr.Deliver("pushState", struct{}{})
	if n := len(h.m.Latency().Samples()); n != before {
		t.Fatalf("samples = %d, want %d", n, before)
	}
}

func TestManager_ZombieChecksBelongToTheirEpisode(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t)

	h.clk.Advance(8 * time.Second)
	tr.Drop("transport close")
	h.clk.Advance(time.Second)
	tr.Open()

	// The first episode's checks were due at 10s and 15s.
	h.clk.Advance(7 * time.Second)
	if n := len(tr.EmittedEvents()); n != 2 {
		t.Fatalf("emitted %d events, want 2 (one per connect)", n)
	}
	if h.d.Count() != 1 {
		t.Fatalf("stale zombie check forced a reconnect")
	}
}

func TestManager_OffDetachesWithoutForgetting(t *testing.T) {
	h := newHarness(t)
	calls := 0
	h.m.On("pushQueue", func(json.RawMessage) { calls++ })
	tr := h.connected(t)

	h.m.Off("pushQueue")
	if n := tr.Deliver("pushQueue", nil); n != 0 {
		t.Fatalf("handlers after Off = %d, want 0", n)
	}

	tr.Drop("transport close")
	tr.Open()
	tr.Deliver("pushQueue", nil)
	if calls != 1 {
		t.Fatalf("calls after reconnect = %d, want 1", calls)
	}
}

func TestManager_UnsubscribeForgets(t *testing.T) {
	h := newHarness(t)
	calls := 0
	unsub := h.m.On("pushQueue", func(json.RawMessage) { calls++ })
	tr := h.connected(t)

	unsub()
	unsub()
	if n := tr.Handlers("pushQueue"); n != 0 {
		t.Fatalf("handlers after unsubscribe = %d, want 0", n)
	}

	tr.Drop("transport close")
	tr.Open()
	tr.Deliver("pushQueue", nil)
	h.m.SimulateEvent("pushQueue", nil)
	if calls != 0 {
		t.Fatalf("calls = %d, want 0", calls)
	}
}

func TestManager_DisconnectIsIdempotent(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t)

	h.m.Disconnect()
	h.m.Disconnect()
	h.assertState(t, conn.Disconnected, false)
	if !tr.Closed() {
		t.Fatalf("transport not closed")
	}
	if h.m.Transport() != nil {
		t.Fatalf("Transport() non-nil after Disconnect")
	}

	tr.Open()
	h.assertState(t, conn.Disconnected, false)
	if h.clk.Pending() != 0 {
		t.Fatalf("timers pending after Disconnect = %d", h.clk.Pending())
	}
}

func TestManager_DisconnectDuringGrace(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t)
	tr.Drop("transport close")

	h.m.Disconnect()
	h.assertState(t, conn.Disconnected, false)
	if h.clk.Pending() != 0 {
		t.Fatalf("grace timer still pending")
	}
}

func TestManager_ReconnectFailedIsHardStop(t *testing.T) {
	h := newHarness(t)
	tr := h.connected(t)

	tr.Drop("transport close")
	tr.Fire(conn.Lifecycle{Kind: conn.KindReconnectFailed})
	h.assertState(t, conn.Disconnected, false)

	if f := h.m.LastFailure(); f.Kind != conn.FailureExhausted {
		t.Fatalf("LastFailure.Kind = %q, want exhausted", f.Kind)
	}
	h.clk.Advance(time.Minute)
	if h.d.Count() != 1 {
		t.Fatalf("layer retried after reconnect_failed")
	}
}

func TestManager_ForceReconnect(t *testing.T) {
	h := newHarness(t)
	old := h.connected(t)
	old.Drop("transport close")

	h.m.ForceReconnect()
	if !old.Closed() {
		t.Fatalf("old transport not closed")
	}
	if h.d.Count() != 2 {
		t.Fatalf("dialed %d transports, want 2", h.d.Count())
	}
	h.assertState(t, conn.Connecting, true)

	h.clk.Advance(time.Minute)
	h.assertState(t, conn.Connecting, true)

	h.d.Last().Open()
	h.assertState(t, conn.Connected, false)
}

func TestManager_IsConnectionHealthy(t *testing.T) {
	h := newHarness(t)
	if h.m.IsConnectionHealthy(0) {
		t.Fatalf("healthy without transport")
	}

	h.m.On("pushState", func(json.RawMessage) {})
	tr := h.connected(t)
	if !h.m.IsConnectionHealthy(0) {
		t.Fatalf("fresh connection not trusted")
	}
	h.clk.Advance(conn.DefaultInitialTrust)
	if h.m.IsConnectionHealthy(0) {
		t.Fatalf("silent connection trusted past initial window")
	}

	tr.Deliver("pushState", struct{}{})
	h.clk.Advance(2 * time.Second)
	if !h.m.IsConnectionHealthy(0) {
		t.Fatalf("connection with recent data unhealthy")
	}
	if h.m.IsConnectionHealthy(time.Second) {
		t.Fatalf("healthy with maxAge shorter than silence")
	}

	tr.SetConnected(false)
	if h.m.IsConnectionHealthy(0) {
		t.Fatalf("healthy while transport reports disconnected")
	}
}

func TestManager_SimulateEvent(t *testing.T) {
	h := newHarness(t)
	var order []int
	h.m.On("pushToast", func(json.RawMessage) { order = append(order, 1) })
	h.m.On("pushToast", func(json.RawMessage) { order = append(order, 2) })

	h.m.SimulateEvent("pushToast", map[string]string{"type": "info"})
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("order = %v, want [1 2]", order)
	}
}

func TestSubscribe_DecodesPayload(t *testing.T) {
	h := newHarness(t)
	type playback struct {
		Status string `json:"status"`
		Volume int    `json:"volume"`
	}

	var got playback
	conn.Subscribe(h.m, "pushState", func(p playback) { got = p })
	h.m.SimulateEvent("pushState", map[string]any{"status": "play", "volume": 30})

	if got.Status != "play" || got.Volume != 30 {
		t.Fatalf("decoded %+v", got)
	}

	got = playback{}
	h.m.SimulateEvent("pushState", "not an object")
	if got.Status != "" {
		t.Fatalf("undecodable payload reached handler")
	}
}

func TestShared_ReturnsOneManager(t *testing.T) {
	reg := guard.New()
	d := &conntest.Dialer{}
	a := conn.Shared(conn.Options{Dialer: d, Registry: reg})
	b := conn.Shared(conn.Options{Dialer: d, Registry: reg})
	if a != b {
		t.Fatalf("Shared returned two managers")
	}

	reg.Reset(conn.ManagerKey)
	if c := conn.Shared(conn.Options{Dialer: d, Registry: reg}); c == a {
		t.Fatalf("Shared after Reset returned the old manager")
	}
}
