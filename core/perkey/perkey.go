// Package perkey serializes work per key while work for different keys runs
// concurrently. The event store uses it to order appends per aggregate stream
// without a global lock.
package perkey

import (
	"context"
	"errors"
	"sync"
)

// ErrSchedulerClosed is returned when Do is called on a closed scheduler.
var ErrSchedulerClosed = errors.New("scheduler is closed")

// Option configures a Scheduler.
type Option func(*config)

type config struct {
	bufferSize int
}

// WithBufferSize sets the job buffer size per key (default: 64).
func WithBufferSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.bufferSize = size
		}
	}
}

// Scheduler executes submitted functions sequentially per key, in submission
// order. Different keys proceed in parallel, each on its own goroutine.
type Scheduler[K comparable] struct {
	mu         sync.Mutex
	lanes      map[K]*lane
	closed     bool
	inflight   sync.WaitGroup
	bufferSize int
}

type lane struct {
	jobs chan *job
}

type job struct {
	fn   func() error
	done chan error
}

func New[K comparable](opts ...Option) *Scheduler[K] {
	cfg := &config{bufferSize: 64}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Scheduler[K]{
		lanes:      make(map[K]*lane),
		bufferSize: cfg.bufferSize,
	}
}

// Do runs fn on the key's lane and blocks until it finishes, returning its
// error. Calls for the same key never overlap.
func (s *Scheduler[K]) Do(key K, fn func() error) error {
	return s.DoContext(context.Background(), key, fn)
}

// DoContext is Do with cancellation: waiting to enqueue or waiting for the
// result aborts with the context error. A job that already made it into the
// queue still executes.
func (s *Scheduler[K]) DoContext(ctx context.Context, key K, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	s.inflight.Add(1)
	l := s.laneLocked(key)
	s.mu.Unlock()
	defer s.inflight.Done()

	j := &job{
		fn:   fn,
		done: make(chan error, 1),
	}

	select {
	case l.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work. Queued jobs still run; Close waits for
// in-flight submissions before closing the lanes.
func (s *Scheduler[K]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	// no submission may race a channel close
	s.inflight.Wait()

	s.mu.Lock()
	for _, l := range s.lanes {
		close(l.jobs)
	}
	s.lanes = nil
	s.mu.Unlock()
}

func (s *Scheduler[K]) laneLocked(key K) *lane {
	l, ok := s.lanes[key]
	if ok {
		return l
	}

	l = &lane{jobs: make(chan *job, s.bufferSize)}
	s.lanes[key] = l
	go l.run()
	return l
}

func (l *lane) run() {
	for j := range l.jobs {
		j.done <- j.fn()
	}
}
