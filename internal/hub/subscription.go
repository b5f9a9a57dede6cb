package hub

import (
	"errors"
	"sync"
)

var ErrSubscriptionClosed = errors.New("hub: subscription closed")

// Subscription is a Writer that keeps only the most recent value, so a slow
// reader never blocks the publisher.
type Subscription[T any] struct {
	ch chan T

	mu     sync.Mutex
	closed bool
	onStop func()
}

func NewSubscription[T any]() *Subscription[T] {
	return &Subscription[T]{ch: make(chan T, 1)}
}

// C delivers published values. It is closed when the subscription ends.
func (s *Subscription[T]) C() <-chan T { return s.ch }

func (s *Subscription[T]) Write(v T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSubscriptionClosed
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- v
	return nil
}

func (s *Subscription[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.ch)
	return nil
}

// Stop unregisters the subscription from its hub and closes it.
func (s *Subscription[T]) Stop() {
	s.mu.Lock()
	stop := s.onStop
	s.onStop = nil
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
	_ = s.Close()
}

// Subscribe registers a latest-value subscription under key.
func (h *Hub[T]) Subscribe(key string) *Subscription[T] {
	sub := NewSubscription[T]()
	conn := &Connection[T]{Key: key, Writer: sub}
	sub.onStop = func() { h.Unregister(conn) }
	h.Register(conn)
	return sub
}
