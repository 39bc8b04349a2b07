package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisLedger is the shared backend for multi-worker deployments. The
// received->pending transition is a SetNX so two workers racing on the same
// idempotency key serialize: the loser observes the existing entry and
// backs off. Pending claims carry a TTL so a crashed worker's claim
// expires; completed entries never expire.
type RedisLedger struct {
	client     *redis.Client
	keyPrefix  string
	pendingTTL time.Duration
	logger     *zap.Logger
}

func NewRedisLedger(client *redis.Client, keyPrefix string, pendingTTL time.Duration, logger *zap.Logger) *RedisLedger {
	return &RedisLedger{
		client:     client,
		keyPrefix:  keyPrefix,
		pendingTTL: pendingTTL,
		logger:     logger,
	}
}

func (l *RedisLedger) redisKey(key string) string {
	return l.keyPrefix + key
}

func (l *RedisLedger) Begin(ctx context.Context, key string) (ClaimResult, error) {
	entry := Entry{Key: key, State: StatePending, Timestamp: time.Now().UTC()}
	payload, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal ledger entry: %w", err)
	}

	ok, err := l.client.SetNX(ctx, l.redisKey(key), payload, l.pendingTTL).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to claim ledger entry: %w", err)
	}
	if ok {
		return Claimed, nil
	}

	existing, err := l.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if existing == nil {
		// The competing entry expired between SetNX and Get; retry once.
		ok, err := l.client.SetNX(ctx, l.redisKey(key), payload, l.pendingTTL).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to re-claim ledger entry: %w", err)
		}
		if ok {
			return Claimed, nil
		}
		return InFlight, nil
	}

	switch existing.State {
	case StateCompleted:
		return AlreadyCompleted, nil
	case StatePending:
		return InFlight, nil
	default:
		// Failed entries are re-claimable. A race between two workers
		// re-claiming a failed key can duplicate emission, which is the
		// acceptable failure mode; duplicate loss is not.
		if err := l.setEntry(ctx, key, StatePending, "", l.pendingTTL); err != nil {
			return 0, err
		}
		return Claimed, nil
	}
}

func (l *RedisLedger) Complete(ctx context.Context, key string) error {
	return l.setEntry(ctx, key, StateCompleted, "", 0)
}

func (l *RedisLedger) Fail(ctx context.Context, key string, reason string) error {
	return l.setEntry(ctx, key, StateFailed, reason, 0)
}

func (l *RedisLedger) setEntry(ctx context.Context, key string, state State, lastError string, ttl time.Duration) error {
	entry := Entry{Key: key, State: state, Timestamp: time.Now().UTC(), Error: lastError}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger entry: %w", err)
	}
	if err := l.client.Set(ctx, l.redisKey(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set ledger state %s: %w", state, err)
	}
	return nil
}

func (l *RedisLedger) Get(ctx context.Context, key string) (*Entry, error) {
	val, err := l.client.Get(ctx, l.redisKey(key)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger entry: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ledger entry: %w", err)
	}
	return &entry, nil
}

// Close is a no-op; the shared Redis client is owned by the service.
func (l *RedisLedger) Close() error {
	return nil
}
