package broker_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"etl-narrative-engine/internal/broker"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newBrokerTest(t *testing.T) (*broker.RedisStreamBroker, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	b := broker.NewRedisStreamBroker(client, broker.StreamConfig{
		InboundStream:    "etl:inbound",
		DelayedSet:       "etl:inbound:delayed",
		DeadLetterStream: "etl:dead-letter",
		ConsumerGroup:    "etl-workers",
		ConsumerName:     "worker-test",
		BatchSize:        10,
		BlockTimeout:     50 * time.Millisecond,
	}, zap.NewNop())
	return b, client, mr
}

func TestPublishReceiveAck(t *testing.T) {
	b, client, _ := newBrokerTest(t)
	ctx := context.Background()

	_, err := broker.Publish(ctx, client, "etl:inbound", map[string]string{
		"message_id": "msg-1",
		"user_id":    "user-1",
	})
	require.NoError(t, err)

	deliveries, err := b.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	d := deliveries[0]
	require.Equal(t, "etl:inbound", d.Stream)

	raw, ok := d.Values["data"].(string)
	require.True(t, ok)
	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))
	require.Equal(t, "msg-1", payload["message_id"])

	require.NoError(t, b.Ack(ctx, d))
}

func TestRequeuePromotesWithIncrementedRetryCount(t *testing.T) {
	b, client, _ := newBrokerTest(t)
	ctx := context.Background()

	_, err := broker.Publish(ctx, client, "etl:inbound", map[string]string{"message_id": "msg-1"})
	require.NoError(t, err)

	deliveries, err := b.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	// Zero delay makes the parked entry immediately due.
	require.NoError(t, b.Requeue(ctx, deliveries[0], 0))

	deliveries, err = b.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	require.Equal(t, "1", deliveries[0].Values["retry_count"])
	require.Contains(t, deliveries[0].Values["data"], "msg-1")
}

func TestRequeueHonorsDelay(t *testing.T) {
	b, client, _ := newBrokerTest(t)
	ctx := context.Background()

	_, err := broker.Publish(ctx, client, "etl:inbound", map[string]string{"message_id": "msg-1"})
	require.NoError(t, err)

	deliveries, err := b.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	require.NoError(t, b.Requeue(ctx, deliveries[0], time.Hour))

	// Not yet due: nothing to receive.
	deliveries, err = b.Receive(ctx)
	require.NoError(t, err)
	require.Empty(t, deliveries)
}

func TestDeadLetterCarriesFailureContext(t *testing.T) {
	b, client, _ := newBrokerTest(t)
	ctx := context.Background()

	_, err := broker.Publish(ctx, client, "etl:inbound", map[string]string{"message_id": "msg-1"})
	require.NoError(t, err)

	deliveries, err := b.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	require.NoError(t, b.DeadLetter(ctx, deliveries[0], "SCHEMA_ERROR", "unknown record type"))

	entries, err := client.XRange(ctx, "etl:dead-letter", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "SCHEMA_ERROR", entries[0].Values["failure_category"])
	require.Equal(t, "unknown record type", entries[0].Values["failure_reason"])
	require.NotEmpty(t, entries[0].Values["failed_at"])
}
