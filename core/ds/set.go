// Package ds provides small generic containers used by repositories and read
// models.
package ds

import (
	"encoding/json"
	"fmt"
)

type StringSet = Set[string]

// Set is an ordered set: O(1) membership with insertion order preserved.
// Iteration order is deterministic, which keeps listings and pagination built
// on top of it stable across runs.
//
// Add, Remove and Clear mutate the receiver; Filter and Copy return new sets.
type Set[T comparable] struct {
	items map[T]struct{}
	order []T // insertion order
}

// NewSet creates a set with the given items.
func NewSet[T comparable](items ...T) *Set[T] {
	set := &Set[T]{items: map[T]struct{}{}, order: make([]T, 0, len(items))}
	for _, item := range items {
		set.Add(item)
	}
	return set
}

func NewStringSet(items ...string) *StringSet {
	return NewSet(items...)
}

func (s *Set[T]) String() string {
	return fmt.Sprintf("%v", s.order)
}

// Add appends v unless it is already present.
func (s *Set[T]) Add(v T) {
	if s.Contains(v) {
		return
	}
	s.items[v] = struct{}{}
	s.order = append(s.order, v)
}

// Remove deletes the given values. O(n) in the set size.
func (s *Set[T]) Remove(values ...T) {
	if len(values) == 0 {
		return
	}

	removed := false
	for _, v := range values {
		if _, ok := s.items[v]; ok {
			delete(s.items, v)
			removed = true
		}
	}
	if !removed {
		return
	}

	newOrder := make([]T, 0, len(s.items))
	for _, v := range s.order {
		if _, ok := s.items[v]; ok {
			newOrder = append(newOrder, v)
		}
	}
	s.order = newOrder
}

func (s *Set[T]) Contains(v T) bool {
	_, ok := s.items[v]
	return ok
}

func (s *Set[T]) Len() int { return len(s.items) }

func (s *Set[T]) IsEmpty() bool { return len(s.items) == 0 }

// ForEach visits all elements in insertion order.
func (s *Set[T]) ForEach(fn func(T)) {
	for _, v := range s.order {
		fn(v)
	}
}

// Filter returns a new set with the elements for which fn returns true,
// keeping the receiver's order.
func (s *Set[T]) Filter(fn func(T) bool) *Set[T] {
	filtered := NewSet[T]()
	for _, v := range s.order {
		if fn(v) {
			filtered.Add(v)
		}
	}
	return filtered
}

// Copy returns a new set with the same elements and order.
func (s *Set[T]) Copy() *Set[T] {
	return NewSet(s.Values()...)
}

// Values returns a copy of the elements in insertion order.
func (s *Set[T]) Values() []T {
	out := make([]T, len(s.order))
	copy(out, s.order)
	return out
}

// Clear removes all elements.
func (s *Set[T]) Clear() {
	s.items = map[T]struct{}{}
	s.order = nil
}

// Eq reports whether both sets contain the same elements, ignoring order.
func (s *Set[T]) Eq(other *Set[T]) bool {
	if s.Len() != other.Len() {
		return false
	}
	for v := range other.items {
		if !s.Contains(v) {
			return false
		}
	}
	return true
}

// MarshalJSON serializes the set as an ordered array.
func (s Set[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Values())
}

// UnmarshalJSON replaces the set's contents with the array's elements.
func (s *Set[T]) UnmarshalJSON(data []byte) error {
	var values []T
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	s.Clear()
	for _, v := range values {
		s.Add(v)
	}
	return nil
}
