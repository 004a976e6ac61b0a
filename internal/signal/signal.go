// Package signal provides read-only broadcast values that application code
// can poll or watch.
package signal

import "sync"

// Value holds the latest T and notifies watchers when it changes.
// The zero value is ready to use and holds the zero T.
type Value[T comparable] struct {
	mu      sync.RWMutex
	v       T
	nextID  uint64
	order   []uint64
	watched map[uint64]func(T)
}

// NewValue returns a Value initialised to v.
func NewValue[T comparable](v T) *Value[T] {
	return &Value[T]{v: v}
}

// Load returns the current value.
func (s *Value[T]) Load() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v
}

// Store sets the value and reports whether it changed. Watchers run
// synchronously, in subscription order, after the lock is released.
func (s *Value[T]) Store(v T) bool {
	s.mu.Lock()
	if s.v == v {
		s.mu.Unlock()
		return false
	}
	s.v = v
	fns := make([]func(T), 0, len(s.order))
	for _, id := range s.order {
		fns = append(fns, s.watched[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
	return true
}

// Watch registers fn for future changes and returns a cancel func.
func (s *Value[T]) Watch(fn func(T)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watched == nil {
		s.watched = make(map[uint64]func(T))
	}
	s.nextID++
	id := s.nextID
	s.watched[id] = fn
	s.order = append(s.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.watched, id)
			for i, cur := range s.order {
				if cur == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}
