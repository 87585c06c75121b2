// Package publish fans orchestrator events out to sinks: a JSON Lines file,
// a Kafka topic, in-process consumers.
package publish

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/kelvinyan1/aime-reproduction/internal/logging"
	"github.com/kelvinyan1/aime-reproduction/internal/orchestrator"
)

// Sink receives every event of a run.
type Sink interface {
	Publish(ctx context.Context, ev orchestrator.Event) error
	Close() error
}

// SinkFunc adapts a function to Sink. Close is a no-op.
type SinkFunc func(ctx context.Context, ev orchestrator.Event) error

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, ev orchestrator.Event) error { return f(ctx, ev) }

// Close does nothing.
func (f SinkFunc) Close() error { return nil }

// Pump copies events from a channel to every sink, in order. A failing sink
// is logged and skipped for that event; it never stops the others.
type Pump struct {
	sinks  []Sink
	log    *logrus.Entry
	failed atomic.Uint64
	done   chan struct{}
	once   sync.Once
}

// NewPump returns a pump over sinks.
func NewPump(sinks ...Sink) *Pump {
	return &Pump{
		sinks: sinks,
		log:   logging.For("publish"),
		done:  make(chan struct{}),
	}
}

// Run delivers events until the channel is closed or ctx is done, then
// closes every sink.
func (p *Pump) Run(ctx context.Context, events <-chan orchestrator.Event) {
	defer p.finish()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.deliver(ctx, ev)
		}
	}
}

// Start runs the pump in a goroutine. Wait returns once it has finished.
func (p *Pump) Start(ctx context.Context, events <-chan orchestrator.Event) {
	go p.Run(ctx, events)
}

// Wait blocks until Run has returned.
func (p *Pump) Wait() {
	<-p.done
}

// Failures returns the number of failed deliveries.
func (p *Pump) Failures() uint64 {
	return p.failed.Load()
}

func (p *Pump) deliver(ctx context.Context, ev orchestrator.Event) {
	for _, s := range p.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			n := p.failed.Add(1)
			if n == 1 || n%50 == 0 {
				p.log.WithError(err).WithField("failures", n).Warn("event sink failed")
			}
		}
	}
}

func (p *Pump) finish() {
	p.once.Do(func() {
		for _, s := range p.sinks {
			if err := s.Close(); err != nil {
				p.log.WithError(err).Warn("closing event sink")
			}
		}
		close(p.done)
	})
}
