/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package concurrency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/acronis/go-concurrencylimit/redisscan"
)

const leaseKeyValue = "1"

// IndependentKeyStrategy stores every lease as its own string key with a native TTL.
// Counting is done by pattern enumeration, so its cost is proportional to the keyspace scanned.
type IndependentKeyStrategy struct {
	client    redis.Cmdable
	keys      KeyLayout
	scanCount int64
	maxRounds int
}

var _ Strategy = (*IndependentKeyStrategy)(nil)

// IndependentKeyStrategyOpts represents options for IndependentKeyStrategy.
type IndependentKeyStrategyOpts struct {
	// ScanCount is a COUNT hint for every SCAN round used for counting.
	ScanCount int64
	// MaxRounds caps the number of SCAN rounds used for counting. Zero means no cap.
	MaxRounds int
}

// NewIndependentKeyStrategy creates a new IndependentKeyStrategy.
func NewIndependentKeyStrategy(client redis.Cmdable, keys KeyLayout, opts IndependentKeyStrategyOpts) *IndependentKeyStrategy {
	if opts.ScanCount <= 0 {
		opts.ScanCount = DefaultScanCount
	}
	return &IndependentKeyStrategy{client: client, keys: keys, scanCount: opts.ScanCount, maxRounds: opts.MaxRounds}
}

// Admit implements Strategy.
// The lease key is created only if absent. A repeated admission of a live lease extends its TTL instead of failing.
func (s *IndependentKeyStrategy) Admit(
	ctx context.Context, now time.Time, resourceKey, requestID string, ttl time.Duration,
) (int64, error) {
	key := s.keys.LeaseKey(resourceKey, requestID)
	created, err := s.client.SetNX(ctx, key, leaseKeyValue, ttl).Result()
	if err != nil {
		return 0, fmt.Errorf("slots admit: %w", err)
	}
	if !created {
		if err = s.client.PExpire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("slots admit (extend existing lease): %w", err)
		}
	}
	return s.Count(ctx, now, resourceKey)
}

// Release implements Strategy.
func (s *IndependentKeyStrategy) Release(ctx context.Context, now time.Time, resourceKey, requestID string) (int64, error) {
	if err := s.client.Del(ctx, s.keys.LeaseKey(resourceKey, requestID)).Err(); err != nil {
		return 0, fmt.Errorf("slots release: %w", err)
	}
	return s.Count(ctx, now, resourceKey)
}

// Count implements Strategy. Expired leases are already removed by Redis.
func (s *IndependentKeyStrategy) Count(ctx context.Context, _ time.Time, resourceKey string) (int64, error) {
	keys, err := redisscan.ScanAll(ctx, s.client, s.keys.LeasePattern(resourceKey), s.scanCount, s.maxRounds)
	if err != nil {
		return 0, fmt.Errorf("slots count: %w", err)
	}
	// SCAN may return a key more than once while the keyspace is being rehashed.
	uniq := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		uniq[k] = struct{}{}
	}
	return int64(len(uniq)), nil
}

// Refresh implements Strategy.
func (s *IndependentKeyStrategy) Refresh(
	ctx context.Context, _ time.Time, resourceKey, requestID string, ttl time.Duration,
) (bool, error) {
	ok, err := s.client.PExpire(ctx, s.keys.LeaseKey(resourceKey, requestID), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("slots refresh: %w", err)
	}
	return ok, nil
}

// LeaseTTL returns the remaining TTL of the lease. A negative value means that there is no such lease.
func (s *IndependentKeyStrategy) LeaseTTL(ctx context.Context, resourceKey, requestID string) (time.Duration, error) {
	ttl, err := s.client.PTTL(ctx, s.keys.LeaseKey(resourceKey, requestID)).Result()
	if err != nil {
		return 0, fmt.Errorf("slots lease ttl: %w", err)
	}
	return ttl, nil
}
