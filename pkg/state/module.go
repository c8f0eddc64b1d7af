// Package state holds the reactive per-module load state observed by the UI.
package state

import "sync"

// Snapshot is a point-in-time copy of a module's state.
type Snapshot[T any] struct {
	IsLoading bool   `json:"isLoading"`
	Error     string `json:"error,omitempty"`
	Data      *T     `json:"data"`
	Loaded    bool   `json:"loaded"`
}

// ModuleState tracks one module's load lifecycle. At most one load runs at a
// time: TryBegin refuses while a load is in flight.
type ModuleState[T any] struct {
	mu   sync.Mutex
	snap Snapshot[T]
	subs map[int]func(Snapshot[T])
	next int
}

func NewModuleState[T any]() *ModuleState[T] {
	return &ModuleState[T]{subs: make(map[int]func(Snapshot[T]))}
}

// update applies fn under the lock and notifies subscribers outside it.
func (s *ModuleState[T]) update(fn func(*Snapshot[T]) bool) bool {
	s.mu.Lock()
	if !fn(&s.snap) {
		s.mu.Unlock()
		return false
	}
	snap := s.snap
	subs := make([]func(Snapshot[T]), 0, len(s.subs))
	for _, f := range s.subs {
		subs = append(subs, f)
	}
	s.mu.Unlock()

	for _, f := range subs {
		f(snap)
	}
	return true
}

// TryBegin marks a load as started. It returns false if one is already running.
func (s *ModuleState[T]) TryBegin() bool {
	return s.update(func(sn *Snapshot[T]) bool {
		if sn.IsLoading {
			return false
		}
		sn.IsLoading = true
		sn.Error = ""
		return true
	})
}

// Succeed ends the current load with data.
func (s *ModuleState[T]) Succeed(data *T) {
	s.update(func(sn *Snapshot[T]) bool {
		sn.IsLoading = false
		sn.Error = ""
		sn.Data = data
		sn.Loaded = true
		return true
	})
}

// Fail ends the current load with a user-visible message. Existing data is kept.
func (s *ModuleState[T]) Fail(msg string) {
	s.update(func(sn *Snapshot[T]) bool {
		sn.IsLoading = false
		sn.Error = msg
		return true
	})
}

// Reset clears data and the loaded flag. An in-flight load keeps its
// IsLoading flag so it cannot be started twice.
func (s *ModuleState[T]) Reset() {
	s.update(func(sn *Snapshot[T]) bool {
		*sn = Snapshot[T]{IsLoading: sn.IsLoading}
		return true
	})
}

// Snapshot returns the current state.
func (s *ModuleState[T]) Snapshot() Snapshot[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Subscribe registers fn for every change and returns a function that
// removes it.
func (s *ModuleState[T]) Subscribe(fn func(Snapshot[T])) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}
