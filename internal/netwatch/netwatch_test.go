package netwatch

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeHost struct {
	now    time.Time
	ifaces []Interface
	err    error
}

func (h *fakeHost) list(context.Context) ([]Interface, error) { return h.ifaces, h.err }
func (h *fakeHost) clock() time.Time                          { return h.now }

func newFakeWatcher(h *fakeHost) *Watcher {
	return New(Options{Lister: h.list, Now: h.clock, SuspendThreshold: 10 * time.Second})
}

var (
	lo   = Interface{Name: "lo", Up: true, Loopback: true, Addrs: []string{"127.0.0.1/8"}}
	wlan = Interface{Name: "wlan0", Up: true, Addrs: []string{"192.168.1.40/24"}}
)

func TestWatcher_FirstCheckIsBaseline(t *testing.T) {
	h := &fakeHost{now: time.Unix(0, 0), ifaces: []Interface{lo, wlan}}
	w := newFakeWatcher(h)

	if _, ok, err := w.Check(context.Background()); ok || err != nil {
		t.Fatalf("first Check = %v, %v, want no trigger", ok, err)
	}
}

func TestWatcher_InterfaceUp(t *testing.T) {
	down := wlan
	down.Up = false
	h := &fakeHost{now: time.Unix(0, 0), ifaces: []Interface{lo, down}}
	w := newFakeWatcher(h)
	w.Check(context.Background())

	h.now = h.now.Add(2 * time.Second)
	if _, ok, _ := w.Check(context.Background()); ok {
		t.Fatalf("trigger while interface still down")
	}

	h.now = h.now.Add(2 * time.Second)
	h.ifaces = []Interface{lo, wlan}
	tr, ok, err := w.Check(context.Background())
	if err != nil || !ok {
		t.Fatalf("Check = %v, %v, want trigger", ok, err)
	}
	if tr.Kind != InterfaceUp || tr.Interface != "wlan0" {
		t.Fatalf("trigger = %+v, want interface_up wlan0", tr)
	}

	h.now = h.now.Add(2 * time.Second)
	if _, ok, _ := w.Check(context.Background()); ok {
		t.Fatalf("trigger repeated for an interface already up")
	}
}

func TestWatcher_UpWithoutAddressIgnored(t *testing.T) {
	h := &fakeHost{now: time.Unix(0, 0), ifaces: []Interface{lo}}
	w := newFakeWatcher(h)
	w.Check(context.Background())

	h.now = h.now.Add(time.Second)
	h.ifaces = []Interface{lo, {Name: "eth0", Up: true}}
	if _, ok, _ := w.Check(context.Background()); ok {
		t.Fatalf("trigger for interface without address")
	}
}

func TestWatcher_Resumed(t *testing.T) {
	h := &fakeHost{now: time.Unix(0, 0), ifaces: []Interface{lo, wlan}}
	w := newFakeWatcher(h)
	w.Check(context.Background())

	h.now = h.now.Add(10 * time.Minute)
	tr, ok, _ := w.Check(context.Background())
	if !ok || tr.Kind != Resumed || tr.Gap != 10*time.Minute {
		t.Fatalf("trigger = %+v, %v, want resumed after 10m", tr, ok)
	}
	if tr.String() != "resumed after 10m0s" {
		t.Fatalf("String = %q", tr.String())
	}
}

func TestWatcher_ListError(t *testing.T) {
	h := &fakeHost{now: time.Unix(0, 0), err: errors.New("netlink unavailable")}
	w := newFakeWatcher(h)
	if _, _, err := w.Check(context.Background()); err == nil {
		t.Fatalf("Check err = nil, want error")
	}
}
