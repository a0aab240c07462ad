package kvdb

import (
	"errors"
	"sync"
)

// FileOpener resolves a store name (and optional explicit path) to a
// FileStore. It is how the Registry receives the platform's file capability.
type FileOpener func(name, path string) (FileStore, error)

// Registry hands out at most one live Store per name within a process.
// It is an explicit object: callers pass it around instead of relying on a
// hidden global. Entries live for the process lifetime; there is no
// eviction, and a disposed Store stays cached and is returned as-is on a
// later Get. That mirrors the historical behavior and is likely a defect;
// callers that dispose a store should not ask for the same name again.
type Registry struct {
	opener FileOpener
	opts   []Option

	mu     sync.RWMutex
	stores map[string]*Store
}

// NewRegistry creates a Registry that opens backing files through opener.
// opts apply to every Store the Registry constructs.
func NewRegistry(opener FileOpener, opts ...Option) *Registry {
	return &Registry{
		opener: opener,
		opts:   opts,
		stores: make(map[string]*Store),
	}
}

// Get returns the Store for name, constructing it and starting its
// background load on first use. path and initial are honored only by the
// call that creates the instance; later calls for the same name ignore
// them, so changing path after first use has no effect.
//
// The returned Store may still be loading; await its WaitReady before
// relying on the initial contents.
func (r *Registry) Get(name, path string, initial map[string]any) (*Store, error) {
	if name == "" {
		return nil, errNameRequired
	}

	r.mu.RLock()
	if s, ok := r.stores[name]; ok {
		r.mu.RUnlock()
		return s, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[name]; ok {
		return s, nil
	}

	file, err := r.opener(name, path)
	if err != nil {
		return nil, IOError("failed to open backing file", err)
	}
	s := Open(name, file, initial, r.opts...)
	r.stores[name] = s
	return s, nil
}

// Names returns the names of all stores created so far.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	return names
}

// Flush flushes every live store, collecting failures. Disposed stores are
// skipped. Use as the durability point before process exit.
func (r *Registry) Flush() error {
	r.mu.RLock()
	stores := make([]*Store, 0, len(r.stores))
	for _, s := range r.stores {
		stores = append(stores, s)
	}
	r.mu.RUnlock()

	var errs []error
	for _, s := range stores {
		if s.Disposed() {
			continue
		}
		if err := s.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
