package updater

import (
	"context"
	"errors"
	"time"

	"github.com/nktdrkhv/TelegramUpdater/pkg/updater/conversation"
	"github.com/nktdrkhv/TelegramUpdater/pkg/updater/filters"
	"github.com/nktdrkhv/TelegramUpdater/pkg/updater/observability"
)

// deliveryHandle is the per-delivery state handlers reach through their
// context: the dispatch key, the conversation manager, and the detach
// signal that releases the delivering worker.
type deliveryHandle[T any] struct {
	key     int64
	conv    *conversation.Manager[T]
	metrics observability.MetricsRecorder
	detach  func()
}

type deliveryCtxKey struct{}

func withDelivery[T any](ctx context.Context, h *deliveryHandle[T]) context.Context {
	return context.WithValue(ctx, deliveryCtxKey{}, h)
}

func deliveryFrom[T any](ctx context.Context) (*deliveryHandle[T], bool) {
	h, ok := ctx.Value(deliveryCtxKey{}).(*deliveryHandle[T])
	return h, ok
}

// Key returns the dispatch key of the delivery the context belongs to.
func Key[T any](ctx context.Context) (int64, bool) {
	h, ok := deliveryFrom[T](ctx)
	if !ok {
		return 0, false
	}
	return h.key, true
}

// AwaitNext suspends the calling handler until the next event on the same
// key matching f arrives, or timeout elapses (conversation.ErrTimeout).
//
// The dispatcher worker that delivered the current event is released while
// the handler waits, so waiting consumes no slot of the worker budget, and
// subsequent events for the key keep flowing — which is what allows the
// matching event to arrive at all. The matched event resolves the wait and
// is not separately delivered through the pipeline.
//
// A second AwaitNext on the same key while one is pending fails fast with
// conversation.ErrWaiterExists.
func AwaitNext[T any](ctx context.Context, f filters.Filter[T], timeout time.Duration, opts ...conversation.Option[T]) (T, error) {
	h, ok := deliveryFrom[T](ctx)
	if !ok {
		var zero T
		return zero, ErrNoDelivery
	}

	w, err := h.conv.Install(h.key, f, timeout, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	if h.metrics != nil {
		h.metrics.RecordWaiter(ctx, observability.WaiterInstalled)
	}

	// The waiter is in place; from here on the worker is no longer needed.
	h.detach()

	event, err := w.Wait(ctx)
	if err != nil && errors.Is(err, conversation.ErrTimeout) && h.metrics != nil {
		h.metrics.RecordWaiter(context.WithoutCancel(ctx), observability.WaiterExpired)
	}
	return event, err
}
