package pipeline

import (
	"context"
	"errors"
	"regexp"
	"slices"
)

// Route matches handler failures to an observability callback. A failure may
// match any number of routes; every matching callback is invoked. A failure
// matching no route is absorbed silently: exception routes are a reporting
// hook, not a recovery mechanism.
type Route struct {
	// Match reports whether the error is of the kind this route covers.
	// Nil matches every error. Use As or Is for wrapped-chain matching.
	Match func(err error) bool

	// Handlers restricts the route to failures raised by the named
	// handlers. Empty means any handler.
	Handlers []string

	// Pattern optionally filters on the error text.
	Pattern *regexp.Regexp

	// Callback is invoked for every matching failure. Required.
	Callback func(ctx context.Context, err error, handler string)
}

// As returns a matcher satisfied when the error chain contains an E.
// This is the subtype-aware kind match: wrapped errors count.
func As[E error]() func(error) bool {
	return func(err error) bool {
		var target E
		return errors.As(err, &target)
	}
}

// Is returns a matcher using errors.Is against target.
func Is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

// matches reports whether the route covers a failure from the named handler.
func (r Route) matches(err error, handler string) bool {
	if r.Match != nil && !r.Match(err) {
		return false
	}
	if len(r.Handlers) > 0 && !slices.Contains(r.Handlers, handler) {
		return false
	}
	if r.Pattern != nil && !r.Pattern.MatchString(err.Error()) {
		return false
	}
	return true
}

// AddRoute registers an exception route. Routes are append-only and safe to
// add while the pipeline is running.
func (p *Pipeline[T]) AddRoute(r Route) error {
	if r.Callback == nil {
		return errors.New("pipeline: route callback is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routes = append(p.routes, r)
	return nil
}

// RouteError invokes the callback of every route matching the failure and
// returns how many fired. Zero matches is not an error.
func (p *Pipeline[T]) RouteError(ctx context.Context, err error, handler string) int {
	if err == nil {
		return 0
	}

	p.mu.RLock()
	routes := slices.Clone(p.routes)
	p.mu.RUnlock()

	fired := 0
	for _, r := range routes {
		if r.matches(err, handler) {
			r.Callback(ctx, err, handler)
			fired++
		}
	}
	return fired
}
