package events

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/sakif/college-resources/internal/metrics"
)

// Consumer writes every domain event to the activity log and counts it.
type Consumer struct {
	logger *slog.Logger
}

func NewConsumer(logger *slog.Logger) *Consumer {
	return &Consumer{logger: logger}
}

// Run drains msgs until it is closed. Malformed messages are acked and
// dropped: redelivering them could never succeed.
func (c *Consumer) Run(ctx context.Context, msgs <-chan *message.Message) {
	for msg := range msgs {
		c.handle(ctx, msg)
		msg.Ack()
	}
}

func (c *Consumer) handle(ctx context.Context, msg *message.Message) {
	event, err := Decode(msg)
	if err != nil {
		c.logger.WarnContext(ctx, "dropping malformed event", "message_id", msg.UUID, "error", err)
		return
	}

	metrics.RecordEvent(event.Type)
	c.logger.InfoContext(ctx, "activity",
		"type", event.Type,
		"resource_id", event.ResourceID,
		"user_id", event.UserID,
		"score", event.Score,
		"occurred_at", event.OccurredAt,
	)
}
