// Package updater coordinates a keyed concurrency dispatcher, a handler
// pipeline, and a conversation manager behind one registration and
// lifecycle surface.
//
// Events enter through an ingest.Source, are grouped by a resolver-computed
// key (conversation or sender id), and are processed strictly in order
// within a key and in parallel across keys under a fixed worker budget.
// Handlers are selected by filters, ordered by group, and may suspend with
// AwaitNext to wait for the next matching event on the same key. Handler
// failures are routed through exception routes and never stop the system.
package updater

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/nktdrkhv/TelegramUpdater/pkg/updater/conversation"
	"github.com/nktdrkhv/TelegramUpdater/pkg/updater/dispatch"
	"github.com/nktdrkhv/TelegramUpdater/pkg/updater/ingest"
	"github.com/nktdrkhv/TelegramUpdater/pkg/updater/observability"
	"github.com/nktdrkhv/TelegramUpdater/pkg/updater/pipeline"
)

// Updater composes the dispatcher, the pipeline, and the conversation
// manager. Create one with New, register handlers and routes, then Start
// it with an ingestion source.
type Updater[T any] struct {
	cfg     settings[T]
	logger  *slog.Logger
	metrics observability.MetricsRecorder

	pipe *pipeline.Pipeline[T]
	conv *conversation.Manager[T]
	disp *dispatch.Dispatcher[T]

	started atomic.Bool

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	identityOnce sync.Once
	identity     Identity
	identityErr  error
}

// New validates the options and builds an Updater. At least one resolver
// is required; everything else has defaults.
func New[T any](opts ...Option[T]) (*Updater[T], error) {
	cfg := settings[T]{
		parallelism: runtime.NumCPU(),
		logger:      slog.Default(),
		metrics:     observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if len(cfg.resolvers) == 0 {
		return nil, &ConfigError{Field: "resolver", Reason: "at least one key resolver is required"}
	}

	u := &Updater[T]{
		cfg:     cfg,
		logger:  cfg.logger,
		metrics: cfg.metrics,
		pipe:    pipeline.New[T](cfg.logger),
		conv:    conversation.NewManager[T](cfg.logger),
	}

	disp, err := dispatch.New(dispatch.Config[T]{
		Resolve:     u.resolveKey,
		Consume:     u.consume,
		OnError:     u.onDispatchError,
		Parallelism: cfg.parallelism,
		Logger:      cfg.logger,
	})
	if err != nil {
		return nil, &ConfigError{Field: "dispatcher", Reason: err.Error()}
	}
	u.disp = disp

	// Handler failures surface through exception routes only; this
	// built-in catch-all keeps the metrics accurate without affecting
	// user-registered routes.
	_ = u.pipe.AddRoute(pipeline.Route{
		Callback: func(ctx context.Context, _ error, handler string) {
			u.metrics.RecordHandlerError(ctx, handler)
		},
	})
	return u, nil
}

// AddHandler registers a handler descriptor. Registration is append-only
// and safe before and during run.
func (u *Updater[T]) AddHandler(d pipeline.Descriptor[T]) error {
	return u.pipe.AddHandler(d)
}

// AddExceptionRoute registers an exception route. Registration is
// append-only and safe before and during run.
func (u *Updater[T]) AddExceptionRoute(r pipeline.Route) error {
	return u.pipe.AddRoute(r)
}

// DetectAllowedKinds returns the configured allowed kinds when set,
// otherwise the order-preserving duplicate-free union of every registered
// filter's declared kinds. The result is stable for a fixed registration
// set.
func (u *Updater[T]) DetectAllowedKinds() []string {
	if len(u.cfg.allowedKinds) > 0 {
		out := make([]string, len(u.cfg.allowedKinds))
		copy(out, u.cfg.allowedKinds)
		return out
	}
	return u.pipe.DeclaredKinds()
}

// Identity performs the one-time external identity fetch, memoized.
// Exactly one fetch executes even under concurrent first access; the
// result (or its error) is cached for the updater's lifetime.
func (u *Updater[T]) Identity(ctx context.Context) (Identity, error) {
	if u.cfg.identityFunc == nil {
		return Identity{}, &ConfigError{Field: "identity", Reason: "no identity fetcher configured"}
	}
	u.identityOnce.Do(func() {
		u.identity, u.identityErr = u.cfg.identityFunc(ctx)
	})
	return u.identity, u.identityErr
}

// Enqueue feeds a single event to the dispatcher directly, bypassing any
// source. Useful for webhook receivers and tests.
func (u *Updater[T]) Enqueue(event T) error {
	if err := u.disp.Enqueue(event); err != nil {
		return err
	}
	u.metrics.RecordEnqueue(context.Background())
	return nil
}

// Start runs the dispatcher and consumes the source until it stops or ctx
// ends. On a clean source stop the accepted backlog is drained before
// Start returns; on cancellation (ctx or EmergencyCancel) only in-flight
// deliveries complete.
func (u *Updater[T]) Start(ctx context.Context, src ingest.Source[T]) error {
	if src == nil {
		return &ConfigError{Field: "source", Reason: "ingestion source is required"}
	}
	if !u.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	u.cancelMu.Lock()
	u.cancel = cancel
	u.cancelMu.Unlock()

	kinds := u.DetectAllowedKinds()
	observability.LogStart(u.logger, u.disp.Parallelism(), kinds)

	if err := u.disp.Start(runCtx); err != nil {
		return err
	}

	srcErr := src.Run(runCtx, ingest.Options{
		AllowedKinds: kinds,
		FlushBacklog: u.cfg.flushBacklog,
	}, func(event T) error {
		if err := u.disp.Enqueue(event); err != nil {
			return err
		}
		u.metrics.RecordEnqueue(runCtx)
		return nil
	})

	graceful := runCtx.Err() == nil
	if graceful {
		// Source finished on its own; drain what was accepted.
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		if err := u.disp.Stop(stopCtx); err != nil {
			graceful = false
		}
	} else {
		u.disp.Cancel()
		u.disp.Wait()
	}

	u.conv.Close()
	observability.LogStop(u.logger, graceful)
	return srcErr
}

// EmergencyCancel requests a best-effort cooperative stop: the shared
// cancellation signal flips, workers stop claiming keys after their
// current delivery, handlers observe a cancelled context at the next
// checkpoint, and live waiters resolve with an error. It never aborts an
// in-flight handler mid-instruction.
func (u *Updater[T]) EmergencyCancel() {
	u.cancelMu.Lock()
	cancel := u.cancel
	u.cancelMu.Unlock()

	if cancel == nil {
		u.logger.Warn("emergency cancel before start; nothing to stop")
		return
	}
	u.logger.Warn("emergency cancel requested")
	cancel()
	u.disp.Cancel()
	u.conv.Close()
}

// resolveKey walks the resolver fallback chain: first non-zero key wins,
// reserved zero key otherwise.
func (u *Updater[T]) resolveKey(event T) int64 {
	for _, r := range u.cfg.resolvers {
		if key := r(event); key != dispatch.ReservedKey {
			return key
		}
	}
	return dispatch.ReservedKey
}

// consume is the dispatcher's per-delivery callback. It first offers the
// event to a pending waiter on the key; only unconsumed events reach the
// pipeline. The pipeline runs in its own goroutine so a handler that
// suspends in AwaitNext can release the worker without finishing.
func (u *Updater[T]) consume(ctx context.Context, d dispatch.Delivery[T]) error {
	if u.conv.Offer(d.Key, d.Event) {
		observability.LogWaiterResolved(u.logger, d.Key)
		u.metrics.RecordWaiter(ctx, observability.WaiterResolved)
		return nil
	}

	deliveryID := uuid.NewString()
	var span trace.Span
	if u.cfg.tracing {
		ctx, span = observability.StartDeliverySpan(ctx, d.Key, deliveryID)
	}
	observability.LogDeliveryStart(u.logger, d.Key, deliveryID)
	elapsed := observability.TimedOperation()

	detached := make(chan struct{})
	var detachOnce sync.Once
	handle := &deliveryHandle[T]{
		key:     d.Key,
		conv:    u.conv,
		metrics: u.metrics,
		detach: func() {
			detachOnce.Do(func() { close(detached) })
		},
	}

	hctx := withDelivery(ctx, handle)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ran := u.pipe.Run(hctx, d.Key, d.Event)
		observability.LogDeliveryComplete(u.logger, d.Key, deliveryID, ran, elapsed())
	}()

	// Hold the worker until the pipeline finishes or the handler parks
	// itself in AwaitNext; either way the key's serialization is intact.
	select {
	case <-done:
	case <-detached:
	}

	// The span covers the worker-held portion of the delivery; a detached
	// continuation keeps running past it.
	if span != nil {
		observability.EndSpanWithError(span, nil)
	}
	u.metrics.RecordDelivery(ctx, time.Duration(elapsed()*float64(time.Millisecond)), nil)
	return nil
}

// onDispatchError receives errors and recovered panics escaping consume.
func (u *Updater[T]) onDispatchError(err error) {
	observability.LogDeliveryError(u.logger, err)
	u.metrics.RecordDelivery(context.Background(), 0, err)
}
