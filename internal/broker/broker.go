// Package broker is the message-queue boundary. The pipeline consumes
// through a narrow receive/ack/requeue/dead-letter contract; the concrete
// transport is Redis Streams with consumer groups.
package broker

import (
	"context"
	"time"
)

// Delivery is one received message, still unparsed. Values carry the raw
// stream entry fields; the consumer decodes them into an InboundMessage.
type Delivery struct {
	ID     string
	Stream string
	Values map[string]interface{}
}

// Broker is the queue capability the consumer loop is written against.
type Broker interface {
	// Receive blocks up to the configured poll interval and returns the
	// next batch of deliveries, possibly empty.
	Receive(ctx context.Context) ([]*Delivery, error)
	// Ack marks a delivery as handled.
	Ack(ctx context.Context, d *Delivery) error
	// Requeue re-publishes the delivery with an incremented retry count,
	// visible again after the delay, and acks the original.
	Requeue(ctx context.Context, d *Delivery, delay time.Duration) error
	// DeadLetter moves the delivery to the dead-letter stream with the
	// failure category and reason, and acks the original.
	DeadLetter(ctx context.Context, d *Delivery, category, reason string) error
}
