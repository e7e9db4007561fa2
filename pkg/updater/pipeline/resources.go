package pipeline

import (
	"errors"
	"sync"
)

// Resources is the per-event container handed to scoped handlers. It is
// created before the first scoped handler of an event runs and released
// after the last handler for that event completes, on every exit path.
// A container is never shared across events.
type Resources struct {
	mu       sync.Mutex
	values   map[string]any
	cleanups []func() error
	released bool
}

// NewResources creates an empty container.
func NewResources() *Resources {
	return &Resources{values: make(map[string]any)}
}

// Set stores a named value. Setting after release is a no-op.
func (r *Resources) Set(name string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return
	}
	r.values[name] = value
}

// Get returns a previously stored value.
func (r *Resources) Get(name string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.values[name]
	return v, ok
}

// Defer registers a cleanup to run on release. Cleanups run LIFO.
func (r *Resources) Defer(fn func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return
	}
	r.cleanups = append(r.cleanups, fn)
}

// Release runs all registered cleanups in reverse registration order and
// drops stored values. Release is idempotent; cleanup errors are joined.
func (r *Resources) Release() error {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return nil
	}
	r.released = true
	cleanups := r.cleanups
	r.cleanups = nil
	r.values = nil
	r.mu.Unlock()

	var errs []error
	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := cleanups[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
