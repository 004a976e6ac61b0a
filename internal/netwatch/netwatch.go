// Package netwatch notices when the kiosk has probably regained its network:
// a non-loopback interface came up with an address, or the host resumed from
// suspend. Either is a good moment to reconnect without waiting for backoff.
package netwatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// DefaultSuspendThreshold is the wall clock gap between checks treated as a
// resume from suspend.
const DefaultSuspendThreshold = 15 * time.Second

// Interface is the part of a network interface the watcher cares about.
type Interface struct {
	Name     string
	Up       bool
	Loopback bool
	Addrs    []string
}

// Lister reports the current interfaces.
type Lister func(ctx context.Context) ([]Interface, error)

// TriggerKind says why a Trigger fired.
type TriggerKind string

const (
	InterfaceUp TriggerKind = "interface_up"
	Resumed     TriggerKind = "resumed"
)

// Trigger describes a reason to reconnect.
type Trigger struct {
	Kind      TriggerKind
	Interface string        // InterfaceUp only
	Gap       time.Duration // Resumed only
}

func (t Trigger) String() string {
	switch t.Kind {
	case InterfaceUp:
		return fmt.Sprintf("interface %s up", t.Interface)
	case Resumed:
		return fmt.Sprintf("resumed after %s", t.Gap.Round(time.Second))
	default:
		return string(t.Kind)
	}
}

// Options configures a Watcher. Zero values use the system interfaces, the
// wall clock and DefaultSuspendThreshold.
type Options struct {
	Lister           Lister
	Now              func() time.Time
	SuspendThreshold time.Duration
}

// Watcher compares successive samples. It is not safe for concurrent use.
type Watcher struct {
	list      Lister
	now       func() time.Time
	threshold time.Duration

	primed bool
	last   time.Time
	ready  map[string]bool
}

// New returns a Watcher. The first Check only records a baseline.
func New(opts Options) *Watcher {
	if opts.Lister == nil {
		opts.Lister = SystemInterfaces
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SuspendThreshold <= 0 {
		opts.SuspendThreshold = DefaultSuspendThreshold
	}
	return &Watcher{
		list:      opts.Lister,
		now:       opts.Now,
		threshold: opts.SuspendThreshold,
		ready:     make(map[string]bool),
	}
}

// Check samples the system and reports a Trigger if the network likely came
// back since the previous call.
func (w *Watcher) Check(ctx context.Context) (Trigger, bool, error) {
	// Strip the monotonic reading: it stops while the host is suspended.
	now := w.now().Round(0)

	ifaces, err := w.list(ctx)
	if err != nil {
		w.last = now
		return Trigger{}, false, fmt.Errorf("list interfaces: %w", err)
	}

	ready := make(map[string]bool, len(ifaces))
	var cameUp []string
	for _, ifc := range ifaces {
		if ifc.Loopback || !ifc.Up || len(ifc.Addrs) == 0 {
			continue
		}
		ready[ifc.Name] = true
		if !w.ready[ifc.Name] {
			cameUp = append(cameUp, ifc.Name)
		}
	}
	sort.Strings(cameUp)

	primed, last := w.primed, w.last
	w.primed, w.last, w.ready = true, now, ready
	if !primed {
		return Trigger{}, false, nil
	}

	if gap := now.Sub(last); gap > w.threshold {
		return Trigger{Kind: Resumed, Gap: gap}, true, nil
	}
	if len(cameUp) > 0 {
		return Trigger{Kind: InterfaceUp, Interface: cameUp[0]}, true, nil
	}
	return Trigger{}, false, nil
}

// SystemInterfaces lists the host's interfaces through gopsutil.
func SystemInterfaces(ctx context.Context) ([]Interface, error) {
	stats, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Interface, 0, len(stats))
	for _, s := range stats {
		ifc := Interface{Name: s.Name}
		for _, f := range s.Flags {
			switch strings.ToLower(f) {
			case "up":
				ifc.Up = true
			case "loopback":
				ifc.Loopback = true
			}
		}
		for _, a := range s.Addrs {
			ifc.Addrs = append(ifc.Addrs, a.Addr)
		}
		out = append(out, ifc)
	}
	return out, nil
}
