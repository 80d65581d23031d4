// Package stream delivers orchestrator events to caller-supplied sinks.
// Delivery is in emission order and at-most-once; a blocking sink pauses
// the pipeline but never reorders it.
package stream

import (
	"context"
	"sync"

	"github.com/haasonsaas/conduit/pkg/models"
)

// Sink receives streaming events during a processMessage turn.
// Implementations must be safe to call from multiple goroutines.
type Sink interface {
	Emit(ctx context.Context, e models.StreamingEvent)
}

// ChanSink delivers events to a channel with blocking writes, so a slow
// consumer back-pressures the pipeline instead of losing events. A
// cancelled context abandons the write.
type ChanSink struct {
	ch chan<- models.StreamingEvent
}

// NewChanSink creates a sink over the given channel.
func NewChanSink(ch chan<- models.StreamingEvent) *ChanSink {
	return &ChanSink{ch: ch}
}

// Emit blocks until the channel accepts the event or the context ends.
func (s *ChanSink) Emit(ctx context.Context, e models.StreamingEvent) {
	select {
	case s.ch <- e:
	case <-ctx.Done():
	}
}

// CallbackSink wraps a function as a Sink.
type CallbackSink struct {
	fn func(ctx context.Context, e models.StreamingEvent)
}

// NewCallbackSink creates a sink that calls fn for each event.
func NewCallbackSink(fn func(ctx context.Context, e models.StreamingEvent)) *CallbackSink {
	return &CallbackSink{fn: fn}
}

// Emit calls the wrapped function.
func (s *CallbackSink) Emit(ctx context.Context, e models.StreamingEvent) {
	if s.fn != nil {
		s.fn(ctx, e)
	}
}

// MultiSink fans an event out to several sinks in order. Nil sinks are
// filtered at construction.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a fan-out sink.
func NewMultiSink(sinks ...Sink) *MultiSink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

// Emit dispatches to every sink in order.
func (s *MultiSink) Emit(ctx context.Context, e models.StreamingEvent) {
	for _, sink := range s.sinks {
		sink.Emit(ctx, e)
	}
}

// NopSink discards all events.
type NopSink struct{}

// Emit does nothing.
func (NopSink) Emit(ctx context.Context, e models.StreamingEvent) {}

// CollectSink records every event it receives, preserving order. Intended
// for tests and synchronous callers that inspect a turn afterwards.
type CollectSink struct {
	mu     sync.Mutex
	events []models.StreamingEvent
}

// NewCollectSink creates an empty collector.
func NewCollectSink() *CollectSink {
	return &CollectSink{}
}

// Emit appends the event.
func (s *CollectSink) Emit(ctx context.Context, e models.StreamingEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

// Events returns a copy of the recorded events in emission order.
func (s *CollectSink) Events() []models.StreamingEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.StreamingEvent, len(s.events))
	copy(out, s.events)
	return out
}
