package consumer

import (
	"context"
	"time"

	"etl-narrative-engine/internal/broker"
	"etl-narrative-engine/internal/errclass"
	"etl-narrative-engine/internal/models"

	"go.uber.org/zap"
)

// Consumer wraps the broker and the orchestrator in a blocking loop: one
// worker handles strictly one message at a time. Horizontal scaling runs
// more worker processes against the same consumer group.
type Consumer struct {
	broker broker.Broker
	orch   *Orchestrator
	logger *zap.Logger
}

func NewConsumer(b broker.Broker, orch *Orchestrator, logger *zap.Logger) *Consumer {
	return &Consumer{
		broker: b,
		orch:   orch,
		logger: logger,
	}
}

// Start runs the consumption loop until ctx is cancelled. Receive errors
// back off exponentially; in-flight messages finish before shutdown
// because dispositions are applied before the next poll.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Consumer started")

	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Consumer stopped")
			return nil
		default:
		}

		deliveries, err := c.broker.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to receive messages",
				zap.Error(err),
				zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		for _, d := range deliveries {
			c.handleDelivery(ctx, d)
		}
	}
}

// handleDelivery parses one stream entry, runs the orchestrator, and
// applies the disposition through the broker.
func (c *Consumer) handleDelivery(ctx context.Context, d *broker.Delivery) {
	msg, err := models.ParseInboundMessage(d.Values)
	if err != nil {
		// Unparseable payloads can never succeed; dead-letter directly.
		c.logger.Error("Failed to parse inbound message",
			zap.String("delivery_id", d.ID),
			zap.Error(err))
		if dlErr := c.broker.DeadLetter(ctx, d, string(errclass.SchemaError), err.Error()); dlErr != nil {
			c.logger.Error("Failed to dead-letter unparseable message", zap.Error(dlErr))
		}
		return
	}

	disp := c.orch.Handle(ctx, msg)

	var applyErr error
	switch disp.Kind {
	case Acknowledged:
		applyErr = c.broker.Ack(ctx, d)
	case Requeued:
		applyErr = c.broker.Requeue(ctx, d, disp.Delay)
	case DeadLettered:
		applyErr = c.broker.DeadLetter(ctx, d, string(disp.Category), disp.Reason)
	}
	if applyErr != nil {
		// The message stays pending in the consumer group and will be
		// redelivered; the ledger makes the redelivery harmless.
		c.logger.Error("Failed to apply disposition",
			zap.String("delivery_id", d.ID),
			zap.String("disposition", disp.Kind.String()),
			zap.Error(applyErr))
	}
}
