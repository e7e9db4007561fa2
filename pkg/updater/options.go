package updater

import (
	"context"
	"log/slog"

	"github.com/nktdrkhv/TelegramUpdater/pkg/updater/config"
	"github.com/nktdrkhv/TelegramUpdater/pkg/updater/observability"
)

// Resolver maps an event to its dispatch key. Resolvers must be pure and
// deterministic; returning the reserved zero key means "could not resolve".
type Resolver[T any] func(event T) int64

// Identity describes the platform account this process acts as, fetched
// once and memoized.
type Identity struct {
	ID       int64
	Username string
	Name     string
}

// IdentityFunc performs the one-time external identity fetch.
type IdentityFunc func(ctx context.Context) (Identity, error)

type settings[T any] struct {
	parallelism  int
	allowedKinds []string
	flushBacklog bool
	resolvers    []Resolver[T]
	identityFunc IdentityFunc
	logger       *slog.Logger
	metrics      observability.MetricsRecorder
	tracing      bool
}

// Option configures an Updater.
type Option[T any] func(*settings[T])

// WithParallelism sets the worker budget.
// Default: host CPU count. Values below 1 are ignored.
func WithParallelism[T any](n int) Option[T] {
	return func(s *settings[T]) {
		if n >= 1 {
			s.parallelism = n
		}
	}
}

// WithAllowedKinds sets the event kinds to request from the platform,
// overriding auto-detection from registered handler filters.
func WithAllowedKinds[T any](kinds ...string) Option[T] {
	return func(s *settings[T]) { s.allowedKinds = kinds }
}

// WithFlushBacklog asks the ingestion adapter to drop any server-side
// backlog accumulated while the process was down.
func WithFlushBacklog[T any](flush bool) Option[T] {
	return func(s *settings[T]) { s.flushBacklog = flush }
}

// WithResolver appends a key resolver to the fallback chain. Resolvers are
// tried in order; the first non-zero key wins, with the reserved zero key
// as the final fallback. At least one resolver is required.
func WithResolver[T any](r Resolver[T]) Option[T] {
	return func(s *settings[T]) {
		if r != nil {
			s.resolvers = append(s.resolvers, r)
		}
	}
}

// WithIdentity sets the one-time identity fetcher behind Identity().
func WithIdentity[T any](fn IdentityFunc) Option[T] {
	return func(s *settings[T]) { s.identityFunc = fn }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(s *settings[T]) { s.logger = logger }
}

// WithMetrics sets the metrics recorder.
// Default: observability.NoopMetrics{}.
func WithMetrics[T any](m observability.MetricsRecorder) Option[T] {
	return func(s *settings[T]) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracing enables a span per delivery via the global OTel tracer
// provider.
func WithTracing[T any](enabled bool) Option[T] {
	return func(s *settings[T]) { s.tracing = enabled }
}

// Recognized config keys for OptionsFromConfig.
const (
	KeyParallelism  = "parallelism"
	KeyAllowedKinds = "allowed_kinds"
	KeyFlushBacklog = "flush_backlog_on_start"
)

// OptionsFromConfig translates a loaded config into updater options.
// Unrecognized keys are ignored; missing keys produce no option.
func OptionsFromConfig[T any](cfg config.Config) []Option[T] {
	var opts []Option[T]
	if cfg.Has(KeyParallelism) {
		opts = append(opts, WithParallelism[T](cfg.Int(KeyParallelism, 0)))
	}
	if cfg.Has(KeyAllowedKinds) {
		opts = append(opts, WithAllowedKinds[T](cfg.StringSlice(KeyAllowedKinds, nil)...))
	}
	if cfg.Has(KeyFlushBacklog) {
		opts = append(opts, WithFlushBacklog[T](cfg.Bool(KeyFlushBacklog, false)))
	}
	return opts
}
