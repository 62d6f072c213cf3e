/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package concurrency

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// KEYS[1] - tracking key, ARGV[1] - now (ms), ARGV[2] - lease expiry (ms), ARGV[3] - ttl (ms), ARGV[4] - request ID.
// Members with score < now are expired. The key itself lives at least as long as its longest lease.
const (
	luaTrimExpired = `
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
`
	luaExtendKeyTTL = `
if redis.call('PTTL', KEYS[1]) < tonumber(ARGV[3]) then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
`
)

var zsetAdmitScript = redis.NewScript(luaTrimExpired + `
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[4])
` + luaExtendKeyTTL + `
return redis.call('ZCARD', KEYS[1])
`)

var zsetReleaseScript = redis.NewScript(`
redis.call('ZREM', KEYS[1], ARGV[2])
` + luaTrimExpired + `
return redis.call('ZCARD', KEYS[1])
`)

var zsetCountScript = redis.NewScript(luaTrimExpired + `
return redis.call('ZCARD', KEYS[1])
`)

var zsetRefreshScript = redis.NewScript(luaTrimExpired + `
if not redis.call('ZSCORE', KEYS[1], ARGV[4]) then
	return 0
end
redis.call('ZADD', KEYS[1], 'XX', ARGV[2], ARGV[4])
` + luaExtendKeyTTL + `
return 1
`)

// OrderedSetStrategy keeps all leases of a resource key in one sorted set.
// Members are request IDs, scores are lease expiry timestamps in Unix milliseconds.
type OrderedSetStrategy struct {
	client redis.Scripter
	keys   KeyLayout
}

var _ Strategy = (*OrderedSetStrategy)(nil)

// NewOrderedSetStrategy creates a new OrderedSetStrategy.
func NewOrderedSetStrategy(client redis.Scripter, keys KeyLayout) *OrderedSetStrategy {
	return &OrderedSetStrategy{client: client, keys: keys}
}

// Admit implements Strategy. Re-admission of the same request ID overwrites its expiry.
func (s *OrderedSetStrategy) Admit(
	ctx context.Context, now time.Time, resourceKey, requestID string, ttl time.Duration,
) (int64, error) {
	nowMs := now.UnixMilli()
	cnt, err := zsetAdmitScript.Run(ctx, s.client, []string{s.keys.TrackingKey(resourceKey)},
		nowMs, nowMs+ttl.Milliseconds(), ttl.Milliseconds(), requestID).Int64()
	if err != nil {
		return 0, fmt.Errorf("zset admit: %w", err)
	}
	return cnt, nil
}

// Release implements Strategy.
func (s *OrderedSetStrategy) Release(ctx context.Context, now time.Time, resourceKey, requestID string) (int64, error) {
	cnt, err := zsetReleaseScript.Run(ctx, s.client, []string{s.keys.TrackingKey(resourceKey)},
		now.UnixMilli(), requestID).Int64()
	if err != nil {
		return 0, fmt.Errorf("zset release: %w", err)
	}
	return cnt, nil
}

// Count implements Strategy. Expired members are trimmed before counting.
func (s *OrderedSetStrategy) Count(ctx context.Context, now time.Time, resourceKey string) (int64, error) {
	cnt, err := zsetCountScript.Run(ctx, s.client, []string{s.keys.TrackingKey(resourceKey)}, now.UnixMilli()).Int64()
	if err != nil {
		return 0, fmt.Errorf("zset count: %w", err)
	}
	return cnt, nil
}

// Refresh implements Strategy.
func (s *OrderedSetStrategy) Refresh(
	ctx context.Context, now time.Time, resourceKey, requestID string, ttl time.Duration,
) (bool, error) {
	nowMs := now.UnixMilli()
	res, err := zsetRefreshScript.Run(ctx, s.client, []string{s.keys.TrackingKey(resourceKey)},
		nowMs, nowMs+ttl.Milliseconds(), ttl.Milliseconds(), requestID).Int64()
	if err != nil {
		return false, fmt.Errorf("zset refresh: %w", err)
	}
	return res == 1, nil
}

// QueueTrimAndCount queues the trim of expired members and the cardinality read of the tracking key into the pipeline.
// The returned command holds the count once the pipeline is executed.
func QueueTrimAndCount(ctx context.Context, pipe redis.Pipeliner, trackingKey string, now time.Time) *redis.IntCmd {
	pipe.ZRemRangeByScore(ctx, trackingKey, "-inf", "("+strconv.FormatInt(now.UnixMilli(), 10))
	return pipe.ZCard(ctx, trackingKey)
}
