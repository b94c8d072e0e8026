// Package keyqueue serializes work per key while letting distinct keys run
// concurrently.
//
// Each key owns a chain of tickets. A task waits for the ticket of the task
// submitted before it, runs, then closes its own ticket. The slot for a key
// is removed as soon as its last queued task exits, so memory is bounded by
// the number of keys with work in flight.
package keyqueue

import (
	"context"
	"sync"
)

var closed = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

type slot struct {
	tail chan struct{}
	refs int
}

// Serializer runs at most one task per key at a time, in submission order.
type Serializer struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// New creates an empty Serializer.
func New() *Serializer {
	return &Serializer{slots: make(map[string]*slot)}
}

// Ticket is a reserved place in a key's queue. It must be passed to Await
// or Release exactly once.
type Ticket struct {
	s    *Serializer
	key  string
	prev <-chan struct{}
	done chan struct{}
}

// Reserve takes the next place in key's queue without waiting. Tickets run
// in the order they were reserved, whichever goroutine later awaits them.
func (s *Serializer) Reserve(key string) *Ticket {
	prev, done := s.enqueue(key)
	return &Ticket{s: s, key: key, prev: prev, done: done}
}

// Release gives up t without running anything. Later tickets for the key
// still wait for the ones reserved before t.
func (t *Ticket) Release() {
	go func() {
		<-t.prev
		t.s.release(t.key, t.done)
	}()
}

// Await runs fn once every ticket reserved before t has finished. An error
// or panic from fn reaches only this caller. If ctx ends while waiting,
// Await returns ctx.Err() and fn is not run.
func Await[T any](ctx context.Context, t *Ticket, fn func(context.Context) (T, error)) (T, error) {
	select {
	case <-t.prev:
	case <-ctx.Done():
		t.Release()
		var zero T
		return zero, ctx.Err()
	}

	defer t.s.release(t.key, t.done)
	return fn(ctx)
}

// Do runs fn once every task previously submitted for key has finished.
func Do[T any](ctx context.Context, s *Serializer, key string, fn func(context.Context) (T, error)) (T, error) {
	return Await(ctx, s.Reserve(key), fn)
}

// Run is Do for tasks that only return an error.
func (s *Serializer) Run(ctx context.Context, key string, fn func(context.Context) error) error {
	_, err := Do(ctx, s, key, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Active returns the number of keys with queued or running tasks.
func (s *Serializer) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

// Queued returns the number of tasks queued or running for key.
func (s *Serializer) Queued(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok := s.slots[key]; ok {
		return sl.refs
	}
	return 0
}

func (s *Serializer) enqueue(key string) (<-chan struct{}, chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slots[key]
	if !ok {
		sl = &slot{tail: closed}
		s.slots[key] = sl
	}
	prev := sl.tail
	done := make(chan struct{})
	sl.tail = done
	sl.refs++
	return prev, done
}

func (s *Serializer) release(key string, done chan struct{}) {
	close(done)

	s.mu.Lock()
	defer s.mu.Unlock()
	sl := s.slots[key]
	sl.refs--
	if sl.refs == 0 {
		delete(s.slots, key)
	}
}
