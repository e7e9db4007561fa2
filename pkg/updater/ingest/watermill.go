package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
)

// WatermillSource bridges a watermill subscriber into the dispatcher. It
// lets the updater consume events from any broker watermill supports
// (queues, pub/sub, in-memory channels in tests) without the core knowing
// about transports.
//
// Messages that fail to decode are nacked and skipped; messages rejected by
// emit (dispatcher stopped) are nacked and the source returns.
type WatermillSource[T any] struct {
	// Subscriber is the watermill subscription endpoint. Required.
	Subscriber message.Subscriber

	// Topic to subscribe to. Required.
	Topic string

	// Decode turns a raw message into an event. Required.
	Decode func(msg *message.Message) (T, error)

	// Logger for decode failures. Default: slog.Default().
	Logger *slog.Logger
}

// Run implements Source.
func (s *WatermillSource[T]) Run(ctx context.Context, _ Options, emit func(T) error) error {
	if s.Subscriber == nil || s.Decode == nil || s.Topic == "" {
		return fmt.Errorf("ingest: watermill source needs Subscriber, Topic, and Decode")
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	messages, err := s.Subscriber.Subscribe(ctx, s.Topic)
	if err != nil {
		return fmt.Errorf("ingest: subscribe %s: %w", s.Topic, err)
	}

	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			event, err := s.Decode(msg)
			if err != nil {
				logger.Warn("message decode failed",
					slog.String("topic", s.Topic),
					slog.String("message_id", msg.UUID),
					slog.String("error", err.Error()),
				)
				msg.Nack()
				continue
			}
			if err := emit(event); err != nil {
				msg.Nack()
				return err
			}
			msg.Ack()
		case <-ctx.Done():
			return nil
		}
	}
}
