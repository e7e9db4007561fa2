package pipeline

import (
	"context"

	"github.com/nktdrkhv/TelegramUpdater/pkg/updater/filters"
)

// Handler processes one event and returns an explicit outcome.
type Handler[T any] func(ctx context.Context, event T) Result

// Kind tells how a handler is instantiated.
type Kind int

const (
	// Singleton handlers are instantiated once at registration and reused
	// across events.
	Singleton Kind = iota

	// Scoped handlers are instantiated fresh per delivered event, with
	// access to that event's resource container.
	Scoped
)

func (k Kind) String() string {
	switch k {
	case Scoped:
		return "scoped"
	default:
		return "singleton"
	}
}

// Descriptor registers a handler with the pipeline.
type Descriptor[T any] struct {
	// Name identifies the handler in logs and exception routes.
	// Auto-generated ("handler-N") when empty.
	Name string

	// Filter selects the events this handler applies to. Required.
	Filter filters.Filter[T]

	// Group orders applicable handlers ascending; ties run in
	// registration order.
	Group int

	// Kind selects Singleton (default) or Scoped instantiation.
	Kind Kind

	// Handler is the singleton instance. Required for Singleton kind.
	Handler Handler[T]

	// New builds a fresh handler for one event, optionally pulling
	// dependencies from the per-event resource container.
	// Required for Scoped kind.
	New func(res *Resources) Handler[T]
}
