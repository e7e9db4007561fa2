package conversation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nktdrkhv/TelegramUpdater/pkg/updater/conversation"
	"github.com/nktdrkhv/TelegramUpdater/pkg/updater/filters"
)

type msg struct {
	Text string
}

func textIs(want string) filters.Filter[msg] {
	return filters.New(func(m msg) bool { return m.Text == want })
}

func TestMatchingEventResolvesWaiter(t *testing.T) {
	m := conversation.NewManager[msg](nil)

	w, err := m.Install(1, textIs("yes"), time.Second)
	if err != nil {
		t.Fatalf("install: %v", err)
	}

	if consumed := m.Offer(1, msg{Text: "yes"}); !consumed {
		t.Fatal("matching event must be consumed by the waiter")
	}

	got, err := w.Wait(context.Background())
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got.Text != "yes" {
		t.Errorf("expected the matching event, got %+v", got)
	}
	if m.Pending(1) {
		t.Error("waiter must be removed after resolution")
	}
}

func TestUnmatchedEventProceedsByDefault(t *testing.T) {
	m := conversation.NewManager[msg](nil)
	m.Install(1, textIs("yes"), time.Second)

	if consumed := m.Offer(1, msg{Text: "no"}); consumed {
		t.Error("non-matching event must flow on to the pipeline")
	}
	if !m.Pending(1) {
		t.Error("waiter must stay pending after a non-matching event")
	}
}

func TestOtherKeyEventIgnored(t *testing.T) {
	m := conversation.NewManager[msg](nil)
	m.Install(1, filters.Any[msg](), time.Second)

	if consumed := m.Offer(2, msg{Text: "yes"}); consumed {
		t.Error("an event on another key must not touch the waiter")
	}
	if !m.Pending(1) {
		t.Error("waiter must stay pending")
	}
}

func TestOnUnmatchedDrop(t *testing.T) {
	m := conversation.NewManager[msg](nil)
	var saw []string

	m.Install(1, textIs("yes"), time.Second, conversation.OnUnmatched(func(e msg) conversation.UnmatchedAction {
		saw = append(saw, e.Text)
		if e.Text == "spam" {
			return conversation.Drop
		}
		return conversation.Proceed
	}))

	if consumed := m.Offer(1, msg{Text: "spam"}); !consumed {
		t.Error("Drop decision must consume the event")
	}
	if consumed := m.Offer(1, msg{Text: "other"}); consumed {
		t.Error("Proceed decision must let the event through")
	}
	if len(saw) != 2 {
		t.Errorf("callback saw %d events, expected 2", len(saw))
	}
	if !m.Pending(1) {
		t.Error("waiter must survive unmatched events either way")
	}
}

func TestTimeout(t *testing.T) {
	m := conversation.NewManager[msg](nil)
	timeout := 30 * time.Millisecond

	w, err := m.Install(1, filters.Any[msg](), timeout)
	if err != nil {
		t.Fatalf("install: %v", err)
	}

	start := time.Now()
	_, err = w.Wait(context.Background())
	if !errors.Is(err, conversation.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < timeout {
		t.Errorf("waiter resolved after %v, before the %v deadline", elapsed, timeout)
	}
	if m.Pending(1) {
		t.Error("expired waiter must be removed")
	}
}

func TestDuplicateWaiterRejected(t *testing.T) {
	m := conversation.NewManager[msg](nil)
	if _, err := m.Install(1, filters.Any[msg](), time.Second); err != nil {
		t.Fatalf("first install: %v", err)
	}
	if _, err := m.Install(1, filters.Any[msg](), time.Second); !errors.Is(err, conversation.ErrWaiterExists) {
		t.Fatalf("expected ErrWaiterExists, got %v", err)
	}
	// A different key is fine.
	if _, err := m.Install(2, filters.Any[msg](), time.Second); err != nil {
		t.Fatalf("install on other key: %v", err)
	}
}

func TestResolutionHasSingleWinner(t *testing.T) {
	// Race a matching event against a near-immediate deadline many times;
	// whichever wins, Wait must return a consistent single outcome and the
	// loser's effect must not leak.
	for i := 0; i < 50; i++ {
		m := conversation.NewManager[msg](nil)
		w, err := m.Install(1, filters.Any[msg](), time.Millisecond)
		if err != nil {
			t.Fatalf("install: %v", err)
		}

		var consumed bool
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			consumed = m.Offer(1, msg{Text: "racer"})
		}()

		got, err := w.Wait(context.Background())
		wg.Wait()

		switch {
		case err == nil:
			if !consumed {
				t.Fatal("event won the race but Offer reported not consumed")
			}
			if got.Text != "racer" {
				t.Fatalf("unexpected event %+v", got)
			}
		case errors.Is(err, conversation.ErrTimeout):
			if consumed {
				t.Fatal("deadline won the race but Offer also consumed the event")
			}
		default:
			t.Fatalf("unexpected wait outcome: %v", err)
		}
	}
}

func TestWaitContextCancellation(t *testing.T) {
	m := conversation.NewManager[msg](nil)
	w, err := m.Install(1, filters.Any[msg](), time.Minute)
	if err != nil {
		t.Fatalf("install: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if _, err := w.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if m.Pending(1) {
		t.Error("cancelled waiter must be removed")
	}
}

func TestCloseResolvesAllWaiters(t *testing.T) {
	m := conversation.NewManager[msg](nil)
	w1, _ := m.Install(1, filters.Any[msg](), time.Minute)
	w2, _ := m.Install(2, filters.Any[msg](), time.Minute)

	m.Close()

	for _, w := range []*conversation.Waiter[msg]{w1, w2} {
		if _, err := w.Wait(context.Background()); !errors.Is(err, conversation.ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	}
	if _, err := m.Install(3, filters.Any[msg](), time.Second); !errors.Is(err, conversation.ErrClosed) {
		t.Errorf("install after close: expected ErrClosed, got %v", err)
	}
}

func TestNilFilterMatchesEverything(t *testing.T) {
	m := conversation.NewManager[msg](nil)
	w, err := m.Install(1, nil, time.Second)
	if err != nil {
		t.Fatalf("install: %v", err)
	}

	if consumed := m.Offer(1, msg{Text: "anything"}); !consumed {
		t.Fatal("nil filter must accept any event")
	}
	if _, err := w.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestNoTimeoutWaitsIndefinitely(t *testing.T) {
	m := conversation.NewManager[msg](nil)
	w, err := m.Install(1, filters.Any[msg](), 0)
	if err != nil {
		t.Fatalf("install: %v", err)
	}

	done := make(chan struct{})
	go func() {
		w.Wait(context.Background())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("zero timeout must mean no deadline")
	case <-time.After(50 * time.Millisecond):
	}

	m.Offer(1, msg{})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter never resolved after a matching event")
	}
}
