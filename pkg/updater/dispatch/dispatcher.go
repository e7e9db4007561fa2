// Package dispatch implements a keyed concurrency dispatcher: incoming
// events are grouped by an int64 key, delivered strictly in enqueue order
// within a key, and in parallel across keys under a fixed worker budget.
//
// A key with queued events and no delivery in progress is "ready". Workers
// claim ready keys earliest-ready-first, so no key with pending work is
// starved while workers are free. A key is not a persistent entity: once its
// queue drains it is forgotten until the next event resolves to it.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
)

// ReservedKey is the key used when no identity can be resolved from an event.
const ReservedKey int64 = 0

// Delivery pairs an event with the key whose turn is in progress.
type Delivery[T any] struct {
	Key   int64
	Event T
}

// Consumer receives exactly one call per delivery. An error return is
// forwarded to the dispatcher's OnError callback; it never stops the pool.
type Consumer[T any] func(ctx context.Context, d Delivery[T]) error

// Config configures a Dispatcher.
type Config[T any] struct {
	// Resolve maps an event to its ordering key. Required.
	// Events resolving to the same key are serialized.
	Resolve func(T) int64

	// Consume handles one delivery. Required.
	Consume Consumer[T]

	// OnError receives errors and recovered panics escaping Consume.
	OnError func(err error)

	// Parallelism is the worker budget. Default: runtime.NumCPU().
	Parallelism int

	// Logger for dispatcher lifecycle events. Default: slog.Default().
	Logger *slog.Logger
}

// Dispatcher errors.
var (
	ErrStopped        = errors.New("dispatch: dispatcher stopped")
	ErrAlreadyStarted = errors.New("dispatch: dispatcher already started")
)

// keyQueue holds the pending events for one key.
type keyQueue[T any] struct {
	events  []T
	running bool
}

// Dispatcher owns the per-key queues and the worker pool.
type Dispatcher[T any] struct {
	cfg    Config[T]
	logger *slog.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	queues    map[int64]*keyQueue[T]
	ready     []int64 // FIFO of ready keys
	queued    int     // events accepted but not yet claimed
	inflight  int     // deliveries in progress
	started   bool
	stopped   bool // no new enqueues; workers drain
	cancelled bool // workers exit at the next loop boundary

	wg sync.WaitGroup
}

// New validates the configuration and creates a Dispatcher.
// Enqueue may be called before Start; events queue up until workers run.
func New[T any](cfg Config[T]) (*Dispatcher[T], error) {
	if cfg.Resolve == nil {
		return nil, errors.New("dispatch: Resolve is required")
	}
	if cfg.Consume == nil {
		return nil, errors.New("dispatch: Consume is required")
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = runtime.NumCPU()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	d := &Dispatcher[T]{
		cfg:    cfg,
		logger: cfg.Logger,
		queues: make(map[int64]*keyQueue[T]),
	}
	d.cond = sync.NewCond(&d.mu)
	return d, nil
}

// Parallelism returns the configured worker budget.
func (d *Dispatcher[T]) Parallelism() int { return d.cfg.Parallelism }

// Enqueue resolves the event's key and appends it to that key's queue.
// It is safe for concurrent use and never blocks beyond the queue lock.
func (d *Dispatcher[T]) Enqueue(event T) error {
	key := d.cfg.Resolve(event)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || d.cancelled {
		return ErrStopped
	}

	q := d.queues[key]
	if q == nil {
		q = &keyQueue[T]{}
		d.queues[key] = q
	}
	q.events = append(q.events, event)
	d.queued++

	// The key becomes ready only when it had no pending work and no
	// delivery in progress; otherwise it is already ready or will be
	// re-readied by the worker that finishes its current delivery.
	if !q.running && len(q.events) == 1 {
		d.ready = append(d.ready, key)
		d.cond.Signal()
	}
	return nil
}

// Backlog returns the number of accepted events not yet claimed by a worker.
func (d *Dispatcher[T]) Backlog() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queued
}

// Start launches the worker pool. Cancelling ctx cancels the dispatcher
// cooperatively, as if Cancel had been called.
func (d *Dispatcher[T]) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return ErrAlreadyStarted
	}
	d.started = true
	d.mu.Unlock()

	d.logger.Debug("dispatcher starting",
		slog.Int("parallelism", d.cfg.Parallelism),
	)

	stop := context.AfterFunc(ctx, d.Cancel)
	d.wg.Add(d.cfg.Parallelism)
	for i := 0; i < d.cfg.Parallelism; i++ {
		go d.worker(ctx)
	}
	go func() {
		d.wg.Wait()
		stop()
	}()
	return nil
}

// Stop gracefully shuts the dispatcher down: further Enqueue calls are
// rejected, the accepted backlog is drained, then workers return. If ctx
// expires first the dispatcher falls back to Cancel and waits for in-flight
// deliveries only.
func (d *Dispatcher[T]) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	d.cond.Broadcast()
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.Cancel()
		<-done
		return ctx.Err()
	}
}

// Cancel requests a cooperative stop: workers finish their current delivery
// and exit at the next loop boundary. Queued events are dropped.
func (d *Dispatcher[T]) Cancel() {
	d.mu.Lock()
	if !d.cancelled {
		d.cancelled = true
		d.cond.Broadcast()
	}
	d.mu.Unlock()
}

// Wait blocks until all workers have exited.
func (d *Dispatcher[T]) Wait() { d.wg.Wait() }

func (d *Dispatcher[T]) worker(ctx context.Context) {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		for len(d.ready) == 0 && !d.cancelled && !d.drainedLocked() {
			d.cond.Wait()
		}
		if d.cancelled || d.drainedLocked() {
			d.mu.Unlock()
			return
		}

		// Claim the earliest-ready key and its oldest event.
		key := d.ready[0]
		d.ready = d.ready[1:]
		q := d.queues[key]
		event := q.events[0]
		q.events[0] = *new(T)
		q.events = q.events[1:]
		q.running = true
		d.queued--
		d.inflight++
		d.mu.Unlock()

		d.deliver(ctx, Delivery[T]{Key: key, Event: event})

		d.mu.Lock()
		q.running = false
		d.inflight--
		if len(q.events) > 0 {
			d.ready = append(d.ready, key)
			d.cond.Signal()
		} else {
			delete(d.queues, key)
			if d.stopped && d.drainedLocked() {
				// Last delivery of the drain; wake everyone up to exit.
				d.cond.Broadcast()
			}
		}
		d.mu.Unlock()
	}
}

// drainedLocked reports whether a graceful stop has nothing left to do.
// Callers must hold d.mu.
func (d *Dispatcher[T]) drainedLocked() bool {
	return d.stopped && len(d.ready) == 0 && d.queued == 0 && d.inflight == 0
}

// deliver invokes the consumer, converting panics and error returns into
// OnError callbacks so a single bad event never halts the pool.
func (d *Dispatcher[T]) deliver(ctx context.Context, dl Delivery[T]) {
	defer func() {
		if r := recover(); r != nil {
			d.reportError(fmt.Errorf("dispatch: consumer panic on key %d: %v", dl.Key, r))
		}
	}()

	if err := d.cfg.Consume(ctx, dl); err != nil {
		d.reportError(fmt.Errorf("dispatch: consume key %d: %w", dl.Key, err))
	}
}

func (d *Dispatcher[T]) reportError(err error) {
	if d.cfg.OnError != nil {
		d.cfg.OnError(err)
		return
	}
	d.logger.Error("delivery failed",
		slog.String("error", err.Error()),
	)
}
