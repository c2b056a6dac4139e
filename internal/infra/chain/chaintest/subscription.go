package chaintest

import (
	"sync"

	"github.com/vietddude/reactor/internal/core/domain"
)

// Subscription is the fake chain.Subscription handed out by Gateway.
type Subscription struct {
	filter  domain.EventFilter
	batches chan domain.EventBatch
	errc    chan error
	done    chan struct{}
	stop    sync.Once

	mu     sync.Mutex
	closed bool
}

func newSubscription(filter domain.EventFilter) *Subscription {
	return &Subscription{
		filter:  filter,
		batches: make(chan domain.EventBatch),
		errc:    make(chan error, 1),
		done:    make(chan struct{}),
	}
}

func (s *Subscription) Batches() <-chan domain.EventBatch { return s.batches }

func (s *Subscription) Err() <-chan error { return s.errc }

// Filter returns the filter the subscription was opened with.
func (s *Subscription) Filter() domain.EventFilter { return s.filter }

func (s *Subscription) Unsubscribe() {
	s.stop.Do(func() { close(s.done) })
	s.end()
}

// Fail ends the subscription with err, as a gateway that gave up resuming.
func (s *Subscription) Fail(err error) {
	s.stop.Do(func() { close(s.done) })
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.errc <- err
	s.closed = true
	close(s.batches)
}

func (s *Subscription) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.batches)
	}
}

func (s *Subscription) ended() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// push delivers b unless the subscription ends first.
func (s *Subscription) push(b domain.EventBatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.batches <- b:
	case <-s.done:
	}
}
