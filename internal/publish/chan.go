package publish

import (
	"context"
	"sync"

	"github.com/kelvinyan1/aime-reproduction/internal/orchestrator"
)

// ChanSink forwards events to a buffered channel for an in-process consumer
// such as the terminal view. Events are dropped while the buffer is full.
type ChanSink struct {
	mu     sync.Mutex
	ch     chan orchestrator.Event
	closed bool
}

// NewChanSink returns a sink with a buffer of n events.
func NewChanSink(n int) *ChanSink {
	if n <= 0 {
		n = 64
	}
	return &ChanSink{ch: make(chan orchestrator.Event, n)}
}

// C returns the receive side. It is closed by Close.
func (s *ChanSink) C() <-chan orchestrator.Event { return s.ch }

// Publish forwards ev unless the buffer is full.
func (s *ChanSink) Publish(_ context.Context, ev orchestrator.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	select {
	case s.ch <- ev:
	default:
	}
	return nil
}

// Close closes the channel.
func (s *ChanSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}
