// Package events carries domain events over an in-process watermill bus.
//
// Services publish after a write has committed. Publishing is best effort:
// a failure is logged by the publisher and never undoes or fails the write
// that produced the event. Everything runs in one process, so the bus is a
// watermill GoChannel; swapping in a broker only changes New.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
)

// Topic is the single topic all resource events go to.
const Topic = "resource.events"

// Event types.
const (
	TypeRatingSubmitted    = "rating.submitted"
	TypeResourceUploaded   = "resource.uploaded"
	TypeResourceDownloaded = "resource.downloaded"
	TypeResourceDeleted    = "resource.deleted"
)

// Event is the JSON payload of every message on Topic.
type Event struct {
	Type       string    `json:"type"`
	ResourceID string    `json:"resourceId"`
	UserID     string    `json:"userId,omitempty"`
	Score      int       `json:"score,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher is what services depend on.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Bus owns the GoChannel and implements Publisher.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger *slog.Logger
}

// New creates an in-process bus. buffer is the per-subscriber channel size.
func New(buffer int64, logger *slog.Logger) *Bus {
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: buffer},
		watermill.NewSlogLogger(logger),
	)
	return &Bus{pubsub: pubsub, logger: logger}
}

// Publish encodes and sends event. Errors are logged, not returned.
func (b *Bus) Publish(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.ErrorContext(ctx, "failed to encode event", "type", event.Type, "error", err)
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("type", event.Type)

	if err := b.pubsub.Publish(Topic, msg); err != nil {
		b.logger.ErrorContext(ctx, "failed to publish event",
			"type", event.Type,
			"resource_id", event.ResourceID,
			"error", err,
		)
	}
}

// Subscribe returns the raw message channel for Topic. The channel closes when
// ctx is cancelled or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	msgs, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, fmt.Errorf("events: subscribing to %s: %w", Topic, err)
	}
	return msgs, nil
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// Decode parses a message payload back into an Event.
func Decode(msg *message.Message) (Event, error) {
	var event Event
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return Event{}, fmt.Errorf("events: decoding message %s: %w", msg.UUID, err)
	}
	return event, nil
}

// Nop discards events. Handy for wiring code paths that don't care.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
