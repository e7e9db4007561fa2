// Package conversation lets a handler suspend mid-event and wait for the
// next matching event on the same key, without occupying a dispatcher
// worker while it waits.
//
// A Waiter is installed on a key (at most one live waiter per key) and is
// resolved by exactly one of: a matching event offered to the key, the
// deadline elapsing, the caller's context ending, or manager shutdown.
// Resolution races have exactly one winner.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nktdrkhv/TelegramUpdater/pkg/updater/filters"
)

// Conversation errors.
var (
	// ErrWaiterExists is returned when a key already has a live waiter.
	ErrWaiterExists = errors.New("conversation: key already has a live waiter")

	// ErrTimeout resolves a waiter whose deadline elapsed with no match.
	ErrTimeout = errors.New("conversation: wait deadline elapsed")

	// ErrClosed resolves live waiters when the manager shuts down.
	ErrClosed = errors.New("conversation: manager closed")
)

// UnmatchedAction is the decision of an OnUnmatched callback for an event
// that arrived on a waiting key but did not pass the waiter's filter.
type UnmatchedAction int

const (
	// Proceed lets the event run through the normal pipeline while the
	// waiter stays pending. This is the default.
	Proceed UnmatchedAction = iota

	// Drop consumes the event without running the pipeline.
	Drop
)

// Option configures a waiter at install time.
type Option[T any] func(*Waiter[T])

// OnUnmatched sets the callback consulted for same-key events that do not
// match the waiter's filter.
func OnUnmatched[T any](fn func(event T) UnmatchedAction) Option[T] {
	return func(w *Waiter[T]) { w.onUnmatched = fn }
}

// outcome is the single resolution of a waiter.
type outcome[T any] struct {
	event T
	err   error
}

// Waiter is a pending conversational wait on one key.
type Waiter[T any] struct {
	key         int64
	filter      filters.Filter[T]
	onUnmatched func(T) UnmatchedAction

	m      *Manager[T]
	timer  *time.Timer
	result chan outcome[T]

	mu       sync.Mutex
	resolved bool
}

// resolve attempts to settle the waiter with o. It reports whether this
// call won; losers must not touch the result channel.
func (w *Waiter[T]) resolve(o outcome[T]) bool {
	w.mu.Lock()
	if w.resolved {
		w.mu.Unlock()
		return false
	}
	w.resolved = true
	w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.result <- o // buffered; never blocks
	return true
}

// Wait blocks the calling goroutine until the waiter resolves. A context
// end counts as a resolution attempt and races like any other.
func (w *Waiter[T]) Wait(ctx context.Context) (T, error) {
	select {
	case o := <-w.result:
		return o.event, o.err
	case <-ctx.Done():
		if w.resolve(outcome[T]{err: ctx.Err()}) {
			w.m.remove(w)
			var zero T
			return zero, ctx.Err()
		}
		// Lost the race: a real resolution is already in the channel.
		o := <-w.result
		return o.event, o.err
	}
}

// Manager owns the per-key waiter table.
type Manager[T any] struct {
	logger *slog.Logger

	mu      sync.Mutex
	waiters map[int64]*Waiter[T]
	closed  bool
}

// NewManager creates an empty manager. A nil logger defaults to
// slog.Default().
func NewManager[T any](logger *slog.Logger) *Manager[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager[T]{
		logger:  logger,
		waiters: make(map[int64]*Waiter[T]),
	}
}

// Install registers a waiter for key with the given filter and deadline.
// Installing on a key that already has a live waiter fails fast with
// ErrWaiterExists.
func (m *Manager[T]) Install(key int64, f filters.Filter[T], timeout time.Duration, opts ...Option[T]) (*Waiter[T], error) {
	if f == nil {
		f = filters.Any[T]()
	}

	w := &Waiter[T]{
		key:    key,
		filter: f,
		m:      m,
		result: make(chan outcome[T], 1),
	}
	for _, opt := range opts {
		opt(w)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if _, exists := m.waiters[key]; exists {
		m.mu.Unlock()
		return nil, ErrWaiterExists
	}
	m.waiters[key] = w
	m.mu.Unlock()

	if timeout > 0 {
		w.timer = time.AfterFunc(timeout, func() {
			if w.resolve(outcome[T]{err: ErrTimeout}) {
				m.remove(w)
				m.logger.Debug("waiter expired", slog.Int64("key", key))
			}
		})
	}

	m.logger.Debug("waiter installed",
		slog.Int64("key", key),
		slog.Duration("timeout", timeout),
	)
	return w, nil
}

// Offer routes an incoming delivery to the key's waiter, if any. It reports
// true when the event was consumed and must not reach the pipeline.
func (m *Manager[T]) Offer(key int64, event T) bool {
	m.mu.Lock()
	w := m.waiters[key]
	m.mu.Unlock()
	if w == nil {
		return false
	}

	if !w.filter.Matches(event) {
		if w.onUnmatched != nil && w.onUnmatched(event) == Drop {
			return true
		}
		return false
	}

	if !w.resolve(outcome[T]{event: event}) {
		// Deadline or cancellation won the race; deliver normally.
		return false
	}
	m.remove(w)
	m.logger.Debug("waiter resolved", slog.Int64("key", key))
	return true
}

// Pending reports whether key has a live waiter.
func (m *Manager[T]) Pending(key int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.waiters[key]
	return ok
}

// Close resolves every live waiter with ErrClosed and rejects further
// installs.
func (m *Manager[T]) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	waiters := make([]*Waiter[T], 0, len(m.waiters))
	for _, w := range m.waiters {
		waiters = append(waiters, w)
	}
	m.waiters = make(map[int64]*Waiter[T])
	m.mu.Unlock()

	for _, w := range waiters {
		w.resolve(outcome[T]{err: ErrClosed})
	}
}

// remove deletes the waiter from the table if it is still the one mapped.
func (m *Manager[T]) remove(w *Waiter[T]) {
	m.mu.Lock()
	if m.waiters[w.key] == w {
		delete(m.waiters, w.key)
	}
	m.mu.Unlock()
}
