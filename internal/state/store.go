// Package state provides a transactional container for state shared
// between concurrently running task callbacks.
package state

import "sync"

// Store wraps a value of type T behind an atomic read-modify-write
// operation. Two concurrent Apply calls are linearized: one fully precedes
// the other from the perspective of the stored value, so no update is lost
// and no partial value is ever observable.
type Store[T any] struct {
	mu  sync.Mutex
	val T
}

// New returns a Store holding initial.
func New[T any](initial T) *Store[T] {
	return &Store[T]{val: initial}
}

// Apply atomically reads the current value, computes transform(current) and
// commits the result. It returns the committed value.
func (s *Store[T]) Apply(transform func(T) T) T {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.val = transform(s.val)
	return s.val
}

// Get returns the current value.
func (s *Store[T]) Get() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.val
}

// Counter is the common case: an integer accumulator shared by task
// callbacks.
type Counter = Store[int64]

// NewCounter returns a Counter starting at zero.
func NewCounter() *Counter { return New[int64](0) }

// Incr adds delta to a Counter and returns the new value.
func Incr(c *Counter, delta int64) int64 {
	return c.Apply(func(v int64) int64 { return v + delta })
}
