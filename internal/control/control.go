// Package control holds the control vector sent to the instrument every
// cycle. Values are set by operators (config, HTTP) and read by the
// acquisition session; the server does not interpret them.
package control

import (
	"sync"

	"github.com/xtxerr/powerscope/internal/errors"
	"github.com/xtxerr/powerscope/internal/wire"
)

// Store is a concurrency-safe control vector.
type Store struct {
	mu      sync.RWMutex
	values  wire.ControlVector
	version uint64
}

// NewStore creates a store holding initial.
func NewStore(initial wire.ControlVector) *Store {
	return &Store{values: initial}
}

// ControlVector returns the current values.
func (s *Store) ControlVector() wire.ControlVector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values
}

// Set replaces all six values.
func (s *Store) Set(v wire.ControlVector) {
	s.mu.Lock()
	s.values = v
	s.version++
	s.mu.Unlock()
}

// SetField replaces one value by wire position.
func (s *Store) SetField(i int, v float64) error {
	if i < 0 || i >= wire.ControlFields {
		return errors.NewInvalidValue("control field", i, "must be 0..5")
	}
	s.mu.Lock()
	s.values[i] = v
	s.version++
	s.mu.Unlock()
	return nil
}

// SetGroup replaces the three values of input group 1 or 2.
func (s *Store) SetGroup(group int, v [3]float64) error {
	if group != 1 && group != 2 {
		return errors.NewInvalidValue("control group", group, "must be 1 or 2")
	}
	s.mu.Lock()
	copy(s.values[(group-1)*3:group*3], v[:])
	s.version++
	s.mu.Unlock()
	return nil
}

// Version increases on every change.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}
