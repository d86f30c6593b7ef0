package ds

import (
	"encoding/json"
)

type (
	// MapFactory constructs the zero entry for a key. Read-model rows
	// implement it so projections can upsert without nil checks.
	MapFactory[T any]    interface{ Create(id string) *T }
	Map[T MapFactory[T]] struct{ d map[string]*T }
)

func NewMap[T MapFactory[T]]() *Map[T] {
	return &Map[T]{d: make(map[string]*T)}
}

func (m *Map[T]) Len() int { return len(m.d) }

func (m *Map[T]) Data() map[string]*T { return m.d }

func (m *Map[T]) Keys() *Set[string] {
	keys := make([]string, 0, len(m.d))
	for k := range m.d {
		keys = append(keys, k)
	}
	return NewSet(keys...)
}

// Ensure returns the entry for id, creating it through the factory when
// missing.
func (m *Map[T]) Ensure(id string) (e *T) {
	var ok bool
	e, ok = m.d[id]
	if !ok {
		var z T
		e = z.Create(id)
		m.d[id] = e
	}
	return e
}

func (m *Map[T]) Remove(id string) {
	delete(m.d, id)
}

func (m *Map[T]) MarshalJSON() ([]byte, error) { return json.Marshal(m.d) }
func (m *Map[T]) UnmarshalJSON(data []byte) error {
	m.d = make(map[string]*T)
	return json.Unmarshal(data, &m.d)
}
