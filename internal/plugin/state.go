package plugin

import (
	"fmt"
	"sort"
	"sync"

	"anvil/internal/domain"
)

// StateRegistry holds named, typed state slices owned by plugins.
type StateRegistry struct {
	mu     sync.RWMutex
	slices map[string]any
}

// Slice is a typed piece of plugin state. The value is replaced on every
// Patch, never modified in place, so values returned by Get stay valid.
type Slice[T any] struct {
	name    string
	mu      sync.RWMutex
	value   T
	version uint64
}

// RegisterSlice creates the slice name with an initial value.
func RegisterSlice[T any](r *StateRegistry, name string, initial T) (*Slice[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slices == nil {
		r.slices = make(map[string]any)
	}
	if _, exists := r.slices[name]; exists {
		return nil, fmt.Errorf("%w: state slice %s", domain.ErrDuplicate, name)
	}
	s := &Slice[T]{name: name, value: initial}
	r.slices[name] = s
	return s, nil
}

// LookupSlice returns the slice name if it exists with element type T.
func LookupSlice[T any](r *StateRegistry, name string) (*Slice[T], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.slices[name].(*Slice[T])
	return s, ok
}

// Names returns the registered slice names, sorted.
func (r *StateRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.slices))
	for name := range r.slices {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Name returns the slice name.
func (s *Slice[T]) Name() string { return s.name }

// Get returns the current value.
func (s *Slice[T]) Get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Version increases by one on every Patch.
func (s *Slice[T]) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Patch replaces the value with fn(current). fn must return a new value
// rather than writing into reference types held by current.
func (s *Slice[T]) Patch(fn func(current T) T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = fn(s.value)
	s.version++
}
