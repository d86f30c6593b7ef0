package sf

import "golang.org/x/sync/singleflight"

// Singleflight collapses concurrent calls with the same key into one
// execution of fn.
type Singleflight[T any] struct {
	group singleflight.Group
}

func New[T any]() *Singleflight[T] {
	return &Singleflight[T]{}
}

// Do runs fn for key unless a call for the same key is already in flight, in
// which case it waits and returns that call's result. fn executes at most
// once per key at any time.
func (s *Singleflight[T]) Do(key string, fn func() (*T, error)) (*T, error) {
	v, err, _ := s.group.Do(key, func() (any, error) {
		return fn()
	})
	if err != nil {
		return nil, err
	}
	return v.(*T), nil
}
