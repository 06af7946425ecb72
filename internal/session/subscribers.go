package session

import (
	"log/slog"
	"sync"
)

// subscriberSet is a fan-out point for one event stream. Delivery iterates a
// snapshot so subscribers may unsubscribe (or subscribe) from inside their
// own callback, and a panicking subscriber never takes down its peers.
type subscriberSet[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(T)
}

func newSubscriberSet[T any]() *subscriberSet[T] {
	return &subscriberSet[T]{subs: make(map[int]func(T))}
}

// subscribe registers fn and returns its idempotent removal.
func (s *subscriberSet[T]) subscribe(fn func(T)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
		})
	}
}

func (s *subscriberSet[T]) snapshot() []func(T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]func(T), 0, len(s.subs))
	for _, fn := range s.subs {
		out = append(out, fn)
	}
	return out
}

// notify delivers v to every current subscriber in isolation.
func (s *subscriberSet[T]) notify(v T, logger *slog.Logger) {
	for _, fn := range s.snapshot() {
		deliver(fn, v, logger)
	}
}

func deliver[T any](fn func(T), v T, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil && logger != nil {
			logger.Warn("session subscriber panicked", "panic", r)
		}
	}()
	fn(v)
}
