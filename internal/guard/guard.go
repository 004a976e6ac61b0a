// Package guard holds process-wide singletons under well-known keys so that
// constructing code run more than once still yields a single instance.
package guard

import "sync"

// Registry is a keyed store of lazily built values.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	once  sync.Once
	v     any
	built bool // guarded by Registry.mu
}

// Default is the process-wide registry.
var Default = New()

// New returns an empty registry. Tests use private registries to avoid
// sharing state with Default.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Get returns the value stored under key, calling build exactly once to
// create it. Concurrent callers for the same key block until build returns.
// Get panics if a value of a different type is already stored under key.
func Get[T any](r *Registry, key string, build func() T) T {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		e = &entry{}
		r.entries[key] = e
	}
	r.mu.Unlock()

	e.once.Do(func() {
		e.v = build()
		r.mu.Lock()
		e.built = true
		r.mu.Unlock()
	})
	return e.v.(T)
}

// Has reports whether a value for key has been built. It is false while
// build is still running and after build panicked.
func (r *Registry) Has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	return ok && e.built
}

// Reset forgets the given keys, or every key when none are given. The next
// Get rebuilds. Values are not closed; callers tear them down first.
func (r *Registry) Reset(keys ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(keys) == 0 {
		r.entries = make(map[string]*entry)
		return
	}
	for _, k := range keys {
		delete(r.entries, k)
	}
}
