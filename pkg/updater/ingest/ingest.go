// Package ingest adapts external event feeds into the dispatcher. A Source
// pushes events through an emit callback until its context ends; the
// coordinator wires emit to the dispatcher's Enqueue.
package ingest

import "context"

// Options carries adapter knobs chosen by the coordinator.
type Options struct {
	// AllowedKinds lists the event kinds the coordinator handles.
	// Adapters that support server-side filtering should request only
	// these kinds.
	AllowedKinds []string

	// FlushBacklog asks the adapter to drop any backlog accumulated while
	// the process was down, before emitting fresh events. Adapters
	// without a server-side backlog ignore it.
	FlushBacklog bool
}

// Source feeds events into the dispatcher until ctx ends.
// A nil error means a clean stop (context cancelled or feed exhausted);
// emit errors should be returned as-is so the coordinator can tell a
// stopped dispatcher from a source failure.
type Source[T any] interface {
	Run(ctx context.Context, opts Options, emit func(T) error) error
}

// ChannelSource delivers events from an in-process channel. It is the
// adapter of choice for tests and embedded producers.
type ChannelSource[T any] struct {
	c <-chan T
}

// FromChannel wraps an existing channel as a Source. The source stops
// cleanly when the channel is closed.
func FromChannel[T any](c <-chan T) *ChannelSource[T] {
	return &ChannelSource[T]{c: c}
}

// Run implements Source.
func (s *ChannelSource[T]) Run(ctx context.Context, _ Options, emit func(T) error) error {
	for {
		select {
		case event, ok := <-s.c:
			if !ok {
				return nil
			}
			if err := emit(event); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Func adapts a function into a Source.
type Func[T any] func(ctx context.Context, opts Options, emit func(T) error) error

// Run implements Source.
func (f Func[T]) Run(ctx context.Context, opts Options, emit func(T) error) error {
	return f(ctx, opts, emit)
}
