// Package pipeline selects, orders, and executes the handlers applicable to
// one delivered event, and routes handler failures through registered
// exception routes.
//
// Handlers signal control flow with an explicit Result (Continue, Stop, or
// Fail). A Fail is routed through the exception routes and then treated as
// Continue: one handler's failure never prevents its siblings from running.
// Only an explicit Stop short-circuits the chain.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/nktdrkhv/TelegramUpdater/pkg/updater/filters"
)

// entry pins a descriptor to its registration sequence for stable ordering.
type entry[T any] struct {
	d   Descriptor[T]
	seq int
}

// Pipeline holds the handler and route registries. Both are append-only and
// read-mostly: registration is safe before and during dispatch.
type Pipeline[T any] struct {
	logger *slog.Logger

	mu      sync.RWMutex
	entries []entry[T]
	routes  []Route
	seq     int
}

// New creates an empty pipeline. A nil logger defaults to slog.Default().
func New[T any](logger *slog.Logger) *Pipeline[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline[T]{logger: logger}
}

// AddHandler registers a descriptor. Descriptors are append-only and safe to
// add while the pipeline is running.
func (p *Pipeline[T]) AddHandler(d Descriptor[T]) error {
	if d.Filter == nil {
		return fmt.Errorf("pipeline: handler %q: filter is required", d.Name)
	}
	switch d.Kind {
	case Singleton:
		if d.Handler == nil {
			return fmt.Errorf("pipeline: handler %q: singleton descriptor needs Handler", d.Name)
		}
	case Scoped:
		if d.New == nil {
			return fmt.Errorf("pipeline: handler %q: scoped descriptor needs New", d.Name)
		}
	default:
		return fmt.Errorf("pipeline: handler %q: unknown kind %d", d.Name, d.Kind)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if d.Name == "" {
		d.Name = fmt.Sprintf("handler-%d", p.seq)
	}
	p.entries = append(p.entries, entry[T]{d: d, seq: p.seq})
	p.seq++
	return nil
}

// Handlers returns the registered handler names in registration order.
func (p *Pipeline[T]) Handlers() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.entries))
	for _, e := range p.entries {
		names = append(names, e.d.Name)
	}
	return names
}

// DeclaredKinds returns the order-preserving duplicate-free union of every
// registered filter's declared kinds.
func (p *Pipeline[T]) DeclaredKinds() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	lists := make([][]string, 0, len(p.entries))
	for _, e := range p.entries {
		lists = append(lists, e.d.Filter.Kinds())
	}
	return filters.UnionKinds(lists...)
}

// Run executes every applicable handler for the event in ascending group
// order (ties by registration order) and returns how many handlers ran.
// Cancellation is cooperative: the context is consulted before each handler.
func (p *Pipeline[T]) Run(ctx context.Context, key int64, event T) int {
	matched := p.applicable(event)
	if len(matched) == 0 {
		return 0
	}

	var res *Resources
	for _, e := range matched {
		if e.d.Kind == Scoped {
			res = NewResources()
			break
		}
	}
	if res != nil {
		defer func() {
			if err := res.Release(); err != nil {
				p.logger.Warn("resource release failed",
					slog.Int64("key", key),
					slog.String("error", err.Error()),
				)
			}
		}()
	}

	ran := 0
	for _, e := range matched {
		if ctx.Err() != nil {
			return ran
		}

		h := e.d.Handler
		if e.d.Kind == Scoped {
			h = e.d.New(res)
			if h == nil {
				p.logger.Warn("scoped factory returned nil handler",
					slog.String("handler", e.d.Name),
				)
				continue
			}
		}

		r := p.invoke(ctx, h, e.d.Name, event)
		ran++
		switch {
		case r.Stopped():
			return ran
		case r.Err() != nil:
			fired := p.RouteError(ctx, r.Err(), e.d.Name)
			p.logger.Debug("handler failed",
				slog.String("handler", e.d.Name),
				slog.Int64("key", key),
				slog.Int("routes_fired", fired),
				slog.String("error", r.Err().Error()),
			)
		}
	}
	return ran
}

// applicable filters the registry by the event and stable-sorts by group.
func (p *Pipeline[T]) applicable(event T) []entry[T] {
	p.mu.RLock()
	matched := make([]entry[T], 0, len(p.entries))
	for _, e := range p.entries {
		if e.d.Filter.Matches(event) {
			matched = append(matched, e)
		}
	}
	p.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].d.Group != matched[j].d.Group {
			return matched[i].d.Group < matched[j].d.Group
		}
		return matched[i].seq < matched[j].seq
	})
	return matched
}

// invoke runs one handler, converting panics into Fail results.
func (p *Pipeline[T]) invoke(ctx context.Context, h Handler[T], name string, event T) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Fail(fmt.Errorf("handler %s panic: %v", name, r))
		}
	}()
	return h(ctx, event)
}
