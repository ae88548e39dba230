package executor

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownConnection is returned by Registry.Get for unregistered names.
var ErrUnknownConnection = errors.New("unknown connection")

// Registry maps connection names to executors. It is safe for concurrent
// use. Executor steps name their connection; callers resolve it here.
type Registry struct {
	mu    sync.RWMutex
	execs map[string]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{execs: make(map[string]Executor)}
}

// Register adds an executor under name. Names are unique.
func (r *Registry) Register(name string, e Executor) error {
	if name == "" {
		return errors.New("connection name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.execs[name]; ok {
		return fmt.Errorf("connection %q already registered", name)
	}
	r.execs[name] = e
	return nil
}

// Get returns the executor registered under name.
func (r *Registry) Get(name string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.execs[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownConnection, name)
	}
	return e, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.execs))
	for name := range r.execs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes and removes every executor.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for name, e := range r.execs {
		if err := e.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(r.execs, name)
	}
	return errors.Join(errs...)
}
