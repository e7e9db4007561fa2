package ingest_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/nktdrkhv/TelegramUpdater/pkg/updater/ingest"
)

type update struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

func TestChannelSourceDrainsAndStops(t *testing.T) {
	events := make(chan update, 3)
	events <- update{ChatID: 1, Text: "a"}
	events <- update{ChatID: 1, Text: "b"}
	events <- update{ChatID: 2, Text: "c"}
	close(events)

	var got []update
	err := ingest.FromChannel(events).Run(context.Background(), ingest.Options{}, func(u update) error {
		got = append(got, u)
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(got) != 3 || got[0].Text != "a" || got[2].Text != "c" {
		t.Errorf("unexpected events: %v", got)
	}
}

func TestChannelSourceStopsOnContext(t *testing.T) {
	events := make(chan update)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- ingest.FromChannel(events).Run(ctx, ingest.Options{}, func(update) error {
			return nil
		})
	}()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("context stop must be clean, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("source did not stop on context cancellation")
	}
}

func TestChannelSourceEmitError(t *testing.T) {
	events := make(chan update, 2)
	events <- update{Text: "first"}
	events <- update{Text: "second"}
	close(events)

	wantErr := errors.New("dispatcher stopped")
	var emitted int
	err := ingest.FromChannel(events).Run(context.Background(), ingest.Options{}, func(update) error {
		emitted++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected the emit error back, got %v", err)
	}
	if emitted != 1 {
		t.Errorf("source must stop on the first emit error, emitted %d", emitted)
	}
}

func TestFuncSource(t *testing.T) {
	src := ingest.Func[update](func(ctx context.Context, opts ingest.Options, emit func(update) error) error {
		if len(opts.AllowedKinds) != 1 || opts.AllowedKinds[0] != "message" {
			return fmt.Errorf("unexpected allowed kinds %v", opts.AllowedKinds)
		}
		return emit(update{Text: "hi"})
	})

	var got update
	err := src.Run(context.Background(), ingest.Options{AllowedKinds: []string{"message"}}, func(u update) error {
		got = u
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got.Text != "hi" {
		t.Errorf("unexpected event %v", got)
	}
}

func TestWatermillSourceDelivers(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubsub.Close()

	src := &ingest.WatermillSource[update]{
		Subscriber: pubsub,
		Topic:      "updates",
		Decode: func(msg *message.Message) (update, error) {
			var u update
			err := json.Unmarshal(msg.Payload, &u)
			return u, err
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan update, 2)
	done := make(chan error, 1)
	go func() {
		done <- src.Run(ctx, ingest.Options{}, func(u update) error {
			got <- u
			return nil
		})
	}()

	// Let the subscription settle before publishing.
	time.Sleep(20 * time.Millisecond)

	publish := func(payload string) {
		msg := message.NewMessage(watermill.NewUUID(), []byte(payload))
		if err := pubsub.Publish("updates", msg); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	publish(`{"chat_id": 1, "text": "hello"}`)
	publish(`not json`) // decode failure: nacked and skipped
	publish(`{"chat_id": 2, "text": "world"}`)

	for _, want := range []string{"hello", "world"} {
		select {
		case u := <-got:
			if u.Text != want {
				t.Errorf("expected %q, got %q", want, u.Text)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("never received %q", want)
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("clean stop expected, got %v", err)
	}
}

func TestWatermillSourceEmitErrorStops(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubsub.Close()

	src := &ingest.WatermillSource[update]{
		Subscriber: pubsub,
		Topic:      "updates",
		Decode: func(msg *message.Message) (update, error) {
			return update{}, nil
		},
	}

	wantErr := errors.New("stopped")
	done := make(chan error, 1)
	go func() {
		done <- src.Run(context.Background(), ingest.Options{}, func(update) error {
			return wantErr
		})
	}()

	time.Sleep(20 * time.Millisecond)
	pubsub.Publish("updates", message.NewMessage(watermill.NewUUID(), nil))

	select {
	case err := <-done:
		if !errors.Is(err, wantErr) {
			t.Errorf("expected the emit error back, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("source did not stop on emit error")
	}
}

func TestWatermillSourceValidation(t *testing.T) {
	src := &ingest.WatermillSource[update]{}
	if err := src.Run(context.Background(), ingest.Options{}, func(update) error { return nil }); err == nil {
		t.Error("expected error for missing configuration")
	}
}
