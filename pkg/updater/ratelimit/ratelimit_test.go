package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryAfterJSONParameters(t *testing.T) {
	body := []byte(`{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 5","parameters":{"retry_after":30}}`)

	d, ok := RetryAfter(body, "")
	if !ok {
		t.Fatal("expected a pause")
	}
	// The structured field wins over the textual form.
	if d != 30*time.Second {
		t.Errorf("expected 30s, got %v", d)
	}
}

func TestRetryAfterHeader(t *testing.T) {
	d, ok := RetryAfter([]byte(`{"ok":false}`), " 12 ")
	if !ok || d != 12*time.Second {
		t.Errorf("expected 12s from header, got %v (ok=%v)", d, ok)
	}
}

func TestRetryAfterText(t *testing.T) {
	d, ok := RetryAfter([]byte("Too Many Requests: Retry After 7"), "")
	if !ok || d != 7*time.Second {
		t.Errorf("expected 7s from body text, got %v (ok=%v)", d, ok)
	}
}

func TestRetryAfterNone(t *testing.T) {
	cases := []struct {
		body   string
		header string
	}{
		{`{"ok":true}`, ""},
		{"chat not found", ""},
		{"", "soon"},
		{`{"parameters":{"migrate_to_chat_id":-100}}`, ""},
	}
	for _, c := range cases {
		if d, ok := RetryAfter([]byte(c.body), c.header); ok {
			t.Errorf("body=%q header=%q: unexpected pause %v", c.body, c.header, d)
		}
	}
}

func TestLimiterBackoff(t *testing.T) {
	var l Limiter
	if l.Active() != 0 {
		t.Error("fresh limiter must allow sending")
	}

	l.Backoff(time.Second)
	if remain := l.Active(); remain <= 0 || remain > time.Second {
		t.Errorf("unexpected remaining pause %v", remain)
	}
}

func TestLimiterShorterPauseNeverTruncates(t *testing.T) {
	var l Limiter
	l.Backoff(time.Minute)
	l.Backoff(time.Millisecond)

	if remain := l.Active(); remain < 50*time.Second {
		t.Errorf("a shorter pause truncated a longer one: %v remaining", remain)
	}
}

func TestLimiterObserve(t *testing.T) {
	var l Limiter
	if l.Observe([]byte(`{"ok":true}`), "") {
		t.Error("a clean response must not record a pause")
	}
	if !l.Observe([]byte(`{"parameters":{"retry_after":1}}`), "") {
		t.Error("expected the flood response to record a pause")
	}
	if l.Active() == 0 {
		t.Error("pause must be in effect after Observe")
	}
}

func TestLimiterWait(t *testing.T) {
	var l Limiter
	l.Backoff(20 * time.Millisecond)

	start := time.Now()
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("wait returned after %v, before the pause elapsed", elapsed)
	}

	// No pause: returns immediately.
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("wait with no pause: %v", err)
	}
}

func TestLimiterWaitContext(t *testing.T) {
	var l Limiter
	l.Backoff(time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
}
