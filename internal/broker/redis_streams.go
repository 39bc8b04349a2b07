package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// StreamConfig names the Redis Streams topology for one worker.
type StreamConfig struct {
	InboundStream    string
	DelayedSet       string
	DeadLetterStream string
	ConsumerGroup    string
	ConsumerName     string
	BatchSize        int64
	BlockTimeout     time.Duration
}

// RedisStreamBroker implements Broker on Redis Streams. Delayed requeues
// park the payload in a sorted set scored by ready time; Receive promotes
// due entries back onto the inbound stream before reading.
type RedisStreamBroker struct {
	client *redis.Client
	cfg    StreamConfig
	logger *zap.Logger

	groupReady bool
}

func NewRedisStreamBroker(client *redis.Client, cfg StreamConfig, logger *zap.Logger) *RedisStreamBroker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	return &RedisStreamBroker{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// ensureGroup creates the consumer group on first use; BUSYGROUP means the
// group already exists and is not an error.
func (b *RedisStreamBroker) ensureGroup(ctx context.Context) error {
	if b.groupReady {
		return nil
	}
	err := b.client.XGroupCreateMkStream(ctx, b.cfg.InboundStream, b.cfg.ConsumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create consumer group on %s: %w", b.cfg.InboundStream, err)
	}
	b.groupReady = true
	return nil
}

func (b *RedisStreamBroker) Receive(ctx context.Context) ([]*Delivery, error) {
	if err := b.ensureGroup(ctx); err != nil {
		return nil, err
	}
	if err := b.promoteDue(ctx); err != nil {
		b.logger.Warn("Failed to promote delayed messages", zap.Error(err))
	}

	streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    b.cfg.ConsumerGroup,
		Consumer: b.cfg.ConsumerName,
		Streams:  []string{b.cfg.InboundStream, ">"},
		Count:    b.cfg.BatchSize,
		Block:    b.cfg.BlockTimeout,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream %s: %w", b.cfg.InboundStream, err)
	}

	var deliveries []*Delivery
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			deliveries = append(deliveries, &Delivery{
				ID:     msg.ID,
				Stream: stream.Stream,
				Values: msg.Values,
			})
		}
	}
	return deliveries, nil
}

func (b *RedisStreamBroker) Ack(ctx context.Context, d *Delivery) error {
	if err := b.client.XAck(ctx, b.cfg.InboundStream, b.cfg.ConsumerGroup, d.ID).Err(); err != nil {
		return fmt.Errorf("failed to ack message %s: %w", d.ID, err)
	}
	return nil
}

// Requeue parks the payload in the delayed set with retry_count+1 and acks
// the original entry.
func (b *RedisStreamBroker) Requeue(ctx context.Context, d *Delivery, delay time.Duration) error {
	values := copyValues(d.Values)
	values["retry_count"] = strconv.Itoa(retryCount(d.Values) + 1)

	payload, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to marshal requeue payload: %w", err)
	}

	readyAt := float64(time.Now().Add(delay).UnixMilli())
	if err := b.client.ZAdd(ctx, b.cfg.DelayedSet, &redis.Z{Score: readyAt, Member: payload}).Err(); err != nil {
		return fmt.Errorf("failed to park delayed message %s: %w", d.ID, err)
	}
	return b.Ack(ctx, d)
}

func (b *RedisStreamBroker) DeadLetter(ctx context.Context, d *Delivery, category, reason string) error {
	values := copyValues(d.Values)
	values["failure_category"] = category
	values["failure_reason"] = reason
	values["failed_at"] = strconv.FormatInt(time.Now().Unix(), 10)

	if err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.cfg.DeadLetterStream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("failed to dead-letter message %s: %w", d.ID, err)
	}
	return b.Ack(ctx, d)
}

// promoteDue moves delayed entries whose ready time has passed back onto
// the inbound stream.
func (b *RedisStreamBroker) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	members, err := b.client.ZRangeByScore(ctx, b.cfg.DelayedSet, &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to read delayed set: %w", err)
	}

	for _, member := range members {
		var values map[string]interface{}
		if err := json.Unmarshal([]byte(member), &values); err != nil {
			// Undecodable entries would loop forever; drop them.
			b.logger.Error("Dropping undecodable delayed entry", zap.Error(err))
			b.client.ZRem(ctx, b.cfg.DelayedSet, member)
			continue
		}
		if err := b.client.XAdd(ctx, &redis.XAddArgs{
			Stream: b.cfg.InboundStream,
			Values: values,
		}).Err(); err != nil {
			return fmt.Errorf("failed to promote delayed message: %w", err)
		}
		if err := b.client.ZRem(ctx, b.cfg.DelayedSet, member).Err(); err != nil {
			return fmt.Errorf("failed to remove promoted message: %w", err)
		}
	}
	return nil
}

// Publish adds an inbound message payload to the stream. Used by upload
// notifiers and the sample publisher.
func Publish(ctx context.Context, client *redis.Client, stream string, message interface{}) (string, error) {
	payload, err := json.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}
	id, err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"data":      string(payload),
			"timestamp": time.Now().Unix(),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to stream %s: %w", stream, err)
	}
	return id, nil
}

func copyValues(values map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(values)+3)
	for k, v := range values {
		out[k] = v
	}
	return out
}

func retryCount(values map[string]interface{}) int {
	raw, ok := values["retry_count"]
	if !ok {
		return 0
	}
	if s, ok := raw.(string); ok {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return 0
}
