/**
 * @description
 * This file implements the fast counter store: a Redis-backed atomic counter
 * keyed by (user, resource, day) that produces the hot-path gating signal for
 * admission control. A Lua script makes the increment and the first-increment
 * expiry a single atomic operation, so the key self-expires at the next UTC
 * day boundary with no separate reset job.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: The Redis client.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tutorhub/usage-service/internal/domain"
)

// UsageCounter is the fast, self-expiring gating counter. Implementations must
// guarantee that N increments for the same key yield a final count of exactly N
// under any interleaving.
type UsageCounter interface {
	// Increment atomically adds one and returns the new count. On the
	// transition from absent to 1 the key's expiry is set to the remainder of
	// the UTC day.
	Increment(ctx context.Context, userID uuid.UUID, resource domain.ResourceType, day time.Time) (int64, error)
	// Get returns the current count, 0 when the key is absent.
	Get(ctx context.Context, userID uuid.UUID, resource domain.ResourceType, day time.Time) (int64, error)
	// Available is a short-timeout health probe. Any error counts as
	// unavailable; admission control fails open on false.
	Available(ctx context.Context) bool
}

// errNoCounterClient is returned when the counter has no backing client.
// Admission treats it like any other counter outage and fails open.
var errNoCounterClient = errors.New("usage counter client not configured")

var usageCounterScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RedisUsageCounter implements UsageCounter on Redis.
type RedisUsageCounter struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

// NewRedisUsageCounter creates a counter with the given key prefix and
// per-call timeout. The timeout is deliberately sub-second: a slow counter
// store must degrade into fail-open, not add latency to every request.
// client may be nil when no counter store is configured; the counter then
// reports unavailable instead of panicking.
func NewRedisUsageCounter(client redis.UniversalClient, prefix string, timeout time.Duration) *RedisUsageCounter {
	// A nil *redis.Client smuggled through the interface must read as
	// "no client", not dereference later.
	if c, ok := client.(*redis.Client); ok && c == nil {
		client = nil
	}

	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "tutorhub:usage"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}

	return &RedisUsageCounter{
		client:  client,
		prefix:  trimmedPrefix,
		timeout: timeout,
		now:     time.Now,
	}
}

func (c *RedisUsageCounter) key(userID uuid.UUID, resource domain.ResourceType, day time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s", c.prefix, userID, resource, dayKey(day))
}

// Increment runs the INCR+PEXPIRE script. The TTL is computed from the shared
// reference clock so the key and the ledger row roll over together.
func (c *RedisUsageCounter) Increment(ctx context.Context, userID uuid.UUID, resource domain.ResourceType, day time.Time) (int64, error) {
	if c.client == nil {
		return 0, errNoCounterClient
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ttlMs := untilDayEnd(c.now()).Milliseconds()
	rawResult, err := usageCounterScript.Run(ctx, c.client, []string{c.key(userID, resource, day)}, ttlMs).Result()
	if err != nil {
		return 0, err
	}

	count, ok := rawResult.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected usage counter response type: %T", rawResult)
	}
	return count, nil
}

// Get reads the current count; an absent key reads as zero.
func (c *RedisUsageCounter) Get(ctx context.Context, userID uuid.UUID, resource domain.ResourceType, day time.Time) (int64, error) {
	if c.client == nil {
		return 0, errNoCounterClient
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	count, err := c.client.Get(ctx, c.key(userID, resource, day)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

// Available pings Redis under the counter timeout. Timeouts and connection
// failures both report unavailable.
func (c *RedisUsageCounter) Available(ctx context.Context) bool {
	if c.client == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.Ping(ctx).Err() == nil
}
