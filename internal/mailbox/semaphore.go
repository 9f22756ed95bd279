package mailbox

import (
	"context"
	"sync"
)

// Semaphore wakes one waiter when events have been posted.
//
// Posts are counted, so none is lost if it arrives before the waiter
// blocks. A single Wait takes every post made so far: the waiter then
// drains the queue once for all of them.
//
// The signal channel has a buffer of 1, so repeated posts coalesce into
// one wake-up.
type Semaphore struct {
	mu     sync.Mutex
	count  int
	signal chan struct{}
}

// NewSemaphore creates a semaphore with no posts.
func NewSemaphore() *Semaphore {
	return &Semaphore{signal: make(chan struct{}, 1)}
}

// Post records one event and wakes the waiter.
// Thread-safe: may be called from any goroutine.
func (s *Semaphore) Post() {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Wait blocks until at least one post is pending or ctx is done. It
// returns the number of posts it consumed.
func (s *Semaphore) Wait(ctx context.Context) (int, error) {
	for {
		s.mu.Lock()
		n := s.count
		s.count = 0
		s.mu.Unlock()
		if n > 0 {
			return n, nil
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-s.signal:
		}
	}
}

// Pending returns the number of posts not yet consumed.
func (s *Semaphore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
