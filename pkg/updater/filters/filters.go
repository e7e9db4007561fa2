// Package filters provides the predicate type used to select handlers for an
// event and to match events against conversational waits, plus the usual
// boolean combinators.
//
// A Filter can optionally declare which platform event kinds it is able to
// match. Declared kinds feed the coordinator's allowed-kind auto-detection:
// when no explicit kind set is configured, the coordinator requests exactly
// the union of every registered filter's declared kinds from the platform.
package filters

// Filter decides whether an event is of interest.
type Filter[T any] interface {
	// Matches reports whether the event passes the filter.
	Matches(event T) bool

	// Kinds lists the event kinds this filter can match.
	// An empty result means the filter cannot narrow the kind set.
	Kinds() []string
}

// Func adapts a plain predicate into a Filter with no declared kinds.
type Func[T any] func(T) bool

// Matches reports whether the event passes the predicate.
func (f Func[T]) Matches(event T) bool { return f(event) }

// Kinds returns nil; a bare predicate declares nothing.
func (f Func[T]) Kinds() []string { return nil }

// New builds a filter from a predicate and the kinds it can match.
func New[T any](pred func(T) bool, kinds ...string) Filter[T] {
	return WithKinds[T](Func[T](pred), kinds...)
}

// WithKinds attaches declared kinds to an existing filter, replacing any
// kinds the filter declared itself.
func WithKinds[T any](f Filter[T], kinds ...string) Filter[T] {
	return kinded[T]{inner: f, kinds: kinds}
}

// Any returns a filter that matches every event and declares no kinds.
func Any[T any]() Filter[T] {
	return Func[T](func(T) bool { return true })
}

// And returns a filter matching when every operand matches.
// Declared kinds are the order-preserving union of the operands' kinds.
func And[T any](fs ...Filter[T]) Filter[T] { return and[T]{fs: fs} }

// Or returns a filter matching when at least one operand matches.
// Declared kinds are the order-preserving union of the operands' kinds.
func Or[T any](fs ...Filter[T]) Filter[T] { return or[T]{fs: fs} }

// Not inverts a filter. The complement of a kind set is unbounded, so the
// result declares no kinds.
func Not[T any](f Filter[T]) Filter[T] {
	return Func[T](func(event T) bool { return !f.Matches(event) })
}

type kinded[T any] struct {
	inner Filter[T]
	kinds []string
}

func (k kinded[T]) Matches(event T) bool { return k.inner.Matches(event) }
func (k kinded[T]) Kinds() []string      { return k.kinds }

type and[T any] struct{ fs []Filter[T] }

func (a and[T]) Matches(event T) bool {
	for _, f := range a.fs {
		if !f.Matches(event) {
			return false
		}
	}
	return true
}

func (a and[T]) Kinds() []string { return unionOf(a.fs) }

type or[T any] struct{ fs []Filter[T] }

func (o or[T]) Matches(event T) bool {
	for _, f := range o.fs {
		if f.Matches(event) {
			return true
		}
	}
	return false
}

func (o or[T]) Kinds() []string { return unionOf(o.fs) }

func unionOf[T any](fs []Filter[T]) []string {
	lists := make([][]string, 0, len(fs))
	for _, f := range fs {
		lists = append(lists, f.Kinds())
	}
	return UnionKinds(lists...)
}

// UnionKinds merges kind lists preserving first-seen order and dropping
// duplicates. The result is stable for a fixed input.
func UnionKinds(lists ...[]string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, list := range lists {
		for _, k := range list {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}
