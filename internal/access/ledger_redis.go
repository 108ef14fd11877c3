package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix     = "accessrelay:grant:"
	redisReservedValue = "reserved"
	redisIssuedPrefix  = "issued:"
)

// releaseScript deletes the key only while it still holds a reservation,
// so a late Release cannot erase a completed grant.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLedger shares grant records between relay replicas.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLedger connects to the Redis server at addr.
func NewRedisLedger(addr string, ttl time.Duration) *RedisLedger {
	return NewRedisLedgerWithClient(redis.NewClient(&redis.Options{Addr: addr}), ttl)
}

// NewRedisLedgerWithClient wraps an existing client.
func NewRedisLedgerWithClient(client *redis.Client, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	return &RedisLedger{client: client, ttl: ttl}
}

// Ping checks connectivity (used for readiness probes).
func (l *RedisLedger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (l *RedisLedger) Close() error {
	return l.client.Close()
}

func (l *RedisLedger) Reserve(ctx context.Context, key string) (Reservation, error) {
	ok, err := l.client.SetNX(ctx, redisKeyPrefix+key, redisReservedValue, l.ttl).Result()
	if err != nil {
		return 0, fmt.Errorf("reserve grant %s: %w", key, err)
	}
	if ok {
		return ReservationAcquired, nil
	}

	val, err := l.client.Get(ctx, redisKeyPrefix+key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// Expired between SETNX and GET; the provider will retry.
		return ReservationBusy, nil
	case err != nil:
		return 0, fmt.Errorf("read grant %s: %w", key, err)
	case strings.HasPrefix(val, redisIssuedPrefix):
		return ReservationIssued, nil
	default:
		return ReservationBusy, nil
	}
}

func (l *RedisLedger) Complete(ctx context.Context, key, inviteLink string) error {
	if err := l.client.Set(ctx, redisKeyPrefix+key, redisIssuedPrefix+inviteLink, 0).Err(); err != nil {
		return fmt.Errorf("complete grant %s: %w", key, err)
	}
	return nil
}

func (l *RedisLedger) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, l.client, []string{redisKeyPrefix + key}, redisReservedValue).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release grant %s: %w", key, err)
	}
	return nil
}
