// Package ratelimit handles the platform's flood-control responses on the
// outbound path: it extracts the server-mandated "retry after N" pause from
// an API error and delays the next send accordingly.
//
// The core dispatcher does not send anything itself; a platform adapter
// calls Limiter.Wait before each outbound API call and Limiter.Observe on
// each error response.
package ratelimit

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

var retryAfterText = regexp.MustCompile(`(?i)retry after (\d+)`)

// RetryAfter extracts the mandated pause from an API error response.
// It understands, in order of preference:
//   - the JSON field parameters.retry_after (seconds)
//   - a Retry-After header value (seconds)
//   - the textual "retry after N" form anywhere in the body
//
// The second return is false when no pause could be extracted.
func RetryAfter(body []byte, header string) (time.Duration, bool) {
	if v := gjson.GetBytes(body, "parameters.retry_after"); v.Exists() && v.Int() >= 0 {
		return time.Duration(v.Int()) * time.Second, true
	}

	if header != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && n >= 0 {
			return time.Duration(n) * time.Second, true
		}
	}

	if m := retryAfterText.FindSubmatch(body); m != nil {
		if n, err := strconv.Atoi(string(m[1])); err == nil {
			return time.Duration(n) * time.Second, true
		}
	}

	return 0, false
}

// Limiter delays outbound calls while a server-mandated pause is active.
// The zero value is ready to use.
type Limiter struct {
	mu    sync.Mutex
	until time.Time
}

// Observe inspects an API error response and records any mandated pause.
// It reports whether a pause was recorded.
func (l *Limiter) Observe(body []byte, header string) bool {
	d, ok := RetryAfter(body, header)
	if !ok {
		return false
	}
	l.Backoff(d)
	return true
}

// Backoff records a pause of d from now. A shorter pause never truncates a
// longer one already in effect.
func (l *Limiter) Backoff(d time.Duration) {
	until := time.Now().Add(d)
	l.mu.Lock()
	if until.After(l.until) {
		l.until = until
	}
	l.mu.Unlock()
}

// Active returns the remaining pause, or zero when sending is allowed.
func (l *Limiter) Active() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if remain := time.Until(l.until); remain > 0 {
		return remain
	}
	return 0
}

// Wait blocks until any recorded pause has elapsed or ctx ends.
// Call it before each outbound API call.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		remain := l.Active()
		if remain <= 0 {
			return nil
		}
		timer := time.NewTimer(remain)
		select {
		case <-timer.C:
			// A longer pause may have been recorded meanwhile; re-check.
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
