// Package latency pairs outbound request events with the inbound event that
// carries their response and records round-trip samples.
package latency

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/five82/kiosk/internal/clock"
)

// MaxSamples bounds the rolling sample set.
const MaxSamples = 50

// DefaultPairings maps request events to the response event the backend
// pushes when it has handled them.
var DefaultPairings = map[string]string{
	"getState": "pushState",
	"play":     "pushState",
	"pause":    "pushState",
	"toggle":   "pushState",
	"stop":     "pushState",
	"next":     "pushState",
	"prev":     "pushState",
	"seek":     "pushState",
	"volume":   "pushState",
	"mute":     "pushState",
	"unmute":   "pushState",
	"random":   "pushState",
	"repeat":   "pushState",

	"getQueue":        "pushQueue",
	"addToQueue":      "pushQueue",
	"removeFromQueue": "pushQueue",

	"getLcdStatus": "pushLcdStatus",
	"lcdStandby":   "pushLcdStatus",
	"lcdWake":      "pushLcdStatus",

	"browseLibrary": "pushBrowseLibrary",
}

// Sample is one measured round trip.
type Sample struct {
	Event   string
	Latency time.Duration
	At      time.Time
}

type sampleJSON struct {
	Event     string  `json:"event"`
	LatencyMs float64 `json:"latencyMs"`
	Timestamp int64   `json:"timestamp"`
}

// MarshalJSON encodes the sample as {event, latencyMs, timestamp}, with the
// timestamp in Unix milliseconds.
func (s Sample) MarshalJSON() ([]byte, error) {
	return json.Marshal(sampleJSON{
		Event:     s.Event,
		LatencyMs: float64(s.Latency) / float64(time.Millisecond),
		Timestamp: s.At.UnixMilli(),
	})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (s *Sample) UnmarshalJSON(b []byte) error {
	var raw sampleJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	s.Event = raw.Event
	s.Latency = time.Duration(raw.LatencyMs * float64(time.Millisecond))
	s.At = time.UnixMilli(raw.Timestamp)
	return nil
}

// Stats summarises the current sample set.
type Stats struct {
	Count int
	Last  time.Duration
	Mean  time.Duration
	Min   time.Duration
	Max   time.Duration
	P95   time.Duration
}

// Tracker records pending request start times and completed samples.
type Tracker struct {
	clk      clock.Clock
	pairings map[string]string

	mu      sync.Mutex
	pending map[string]time.Time
	samples []Sample
	nextID  uint64
	watch   map[uint64]func(Sample)
	order   []uint64
}

// NewTracker returns a tracker using pairings. A nil pairings map uses
// DefaultPairings; a nil clock uses the wall clock.
func NewTracker(clk clock.Clock, pairings map[string]string) *Tracker {
	if clk == nil {
		clk = clock.Real{}
	}
	if pairings == nil {
		pairings = DefaultPairings
	}
	copied := make(map[string]string, len(pairings))
	for req, resp := range pairings {
		copied[req] = resp
	}
	return &Tracker{
		clk:      clk,
		pairings: copied,
		pending:  make(map[string]time.Time),
	}
}

// ResponseFor reports the response event paired with request.
func (t *Tracker) ResponseFor(request string) (string, bool) {
	resp, ok := t.pairings[request]
	return resp, ok
}

// Start records the send time of request against its paired response. An
// earlier pending start for the same response is overwritten. It reports
// whether request has a pairing.
func (t *Tracker) Start(request string) bool {
	resp, ok := t.pairings[request]
	if !ok {
		return false
	}
	now := t.clk.Now()
	t.mu.Lock()
	t.pending[resp] = now
	t.mu.Unlock()
	return true
}

// Cancel drops the pending start recorded for request's response, for a
// request that was never sent.
func (t *Tracker) Cancel(request string) {
	resp, ok := t.pairings[request]
	if !ok {
		return
	}
	t.mu.Lock()
	delete(t.pending, resp)
	t.mu.Unlock()
}

// Resolve consumes the pending start for response, if any, and appends a
// sample.
func (t *Tracker) Resolve(response string) (Sample, bool) {
	now := t.clk.Now()

	t.mu.Lock()
	started, ok := t.pending[response]
	if !ok {
		t.mu.Unlock()
		return Sample{}, false
	}
	delete(t.pending, response)

	elapsed := now.Sub(started)
	if elapsed < 0 {
		elapsed = 0
	}
	s := Sample{Event: response, Latency: elapsed, At: now}
	t.samples = append(t.samples, s)
	if over := len(t.samples) - MaxSamples; over > 0 {
		t.samples = append(t.samples[:0:0], t.samples[over:]...)
	}
	fns := make([]func(Sample), 0, len(t.order))
	for _, id := range t.order {
		fns = append(fns, t.watch[id])
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
	return s, true
}

// Samples returns a copy of the sample set, oldest first.
func (t *Tracker) Samples() []Sample {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Sample, len(t.samples))
	copy(out, t.samples)
	return out
}

// Pending returns the number of outstanding response timers.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Stats computes summary figures over the current samples.
func (t *Tracker) Stats() Stats {
	samples := t.Samples()
	if len(samples) == 0 {
		return Stats{}
	}

	durations := make([]time.Duration, len(samples))
	var total time.Duration
	for i, s := range samples {
		durations[i] = s.Latency
		total += s.Latency
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	idx := (len(durations)*95+99)/100 - 1
	if idx < 0 {
		idx = 0
	}
	return Stats{
		Count: len(samples),
		Last:  samples[len(samples)-1].Latency,
		Mean:  total / time.Duration(len(samples)),
		Min:   durations[0],
		Max:   durations[len(durations)-1],
		P95:   durations[idx],
	}
}

// Watch calls fn for every new sample and returns a cancel func.
func (t *Tracker) Watch(fn func(Sample)) (cancel func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.watch == nil {
		t.watch = make(map[uint64]func(Sample))
	}
	t.nextID++
	id := t.nextID
	t.watch[id] = fn
	t.order = append(t.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.watch, id)
			for i, cur := range t.order {
				if cur == id {
					t.order = append(t.order[:i], t.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Reset drops pending timers and samples.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = make(map[string]time.Time)
	t.samples = nil
}
