package state

import (
	"sync"
	"time"

	"github.com/five82/kiosk/internal/conn"
	"github.com/five82/kiosk/internal/latency"
)

// Playback is the subset of the player's pushState payload the kiosk shows.
type Playback struct {
	Status   string `json:"status"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Album    string `json:"album"`
	Volume   int    `json:"volume"`
	Mute     bool   `json:"mute"`
	Seek     int64  `json:"seek"`     // milliseconds
	Duration int64  `json:"duration"` // seconds
	Random   bool   `json:"random"`
	Repeat   bool   `json:"repeat"`
}

// Playing reports whether the player is currently playing.
func (p Playback) Playing() bool { return p.Status == "play" }

// Position returns the seek position.
func (p Playback) Position() time.Duration { return time.Duration(p.Seek) * time.Millisecond }

// Length returns the track duration.
func (p Playback) Length() time.Duration { return time.Duration(p.Duration) * time.Second }

// Snapshot represents the latest data available to the UI.
type Snapshot struct {
	Connection   conn.State
	Reconnecting bool
	Loading      bool
	Latency      latency.Stats
	LastFailure  conn.Failure

	Playback    Playback
	HasPlayback bool
	QueueLength int
	HasQueue    bool
	LastUpdated time.Time
}

// Offline reports whether the kiosk should show the disconnected banner.
func (s Snapshot) Offline() bool {
	return s.Connection == conn.Disconnected
}

// Store coordinates concurrent updates to the snapshot.
type Store struct {
	mu       sync.RWMutex
	snapshot Snapshot
}

// SetConnection records the connection signals.
func (s *Store) SetConnection(state conn.State, reconnecting bool, failure conn.Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Connection = state
	s.snapshot.Reconnecting = reconnecting
	s.snapshot.LastFailure = failure
}

// SetLoading records the in-flight flag.
func (s *Store) SetLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Loading = loading
}

// SetLatency records the latest latency summary.
func (s *Store) SetLatency(stats latency.Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Latency = stats
}

// UpdatePlayback replaces the playback state.
func (s *Store) UpdatePlayback(p Playback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Playback = p
	s.snapshot.HasPlayback = true
	s.snapshot.LastUpdated = time.Now()
}

// UpdateQueueLength records the number of queued tracks.
func (s *Store) UpdateQueueLength(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.QueueLength = n
	s.snapshot.HasQueue = true
	s.snapshot.LastUpdated = time.Now()
}

// Snapshot returns a copy of the current snapshot.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Bind keeps the store in sync with m and returns a func that stops it.
// The store is seeded from m's current values.
func (s *Store) Bind(m *conn.Manager) (unbind func()) {
	syncConnection := func() {
		s.SetConnection(m.State().Load(), m.Reconnecting().Load(), m.LastFailure())
	}
	syncConnection()
	s.SetLoading(m.Loading().Load())
	s.SetLatency(m.Latency().Stats())

	cancels := []func(){
		m.State().Watch(func(conn.State) { syncConnection() }),
		m.Reconnecting().Watch(func(bool) { syncConnection() }),
		m.Loading().Watch(s.SetLoading),
		m.Latency().Watch(func(latency.Sample) { s.SetLatency(m.Latency().Stats()) }),
		conn.Subscribe(m, "pushState", s.UpdatePlayback),
		conn.Subscribe(m, "pushQueue", func(items []struct{}) { s.UpdateQueueLength(len(items)) }),
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for _, cancel := range cancels {
				cancel()
			}
		})
	}
}
