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
	"go.uber.org/atomic"

	"github.com/acronis/go-concurrencylimit/log"
	"github.com/acronis/go-concurrencylimit/redisscan"
)

// The key may receive a new lease between the phases, so it's deleted only if it's still empty.
// Redis drops an emptied sorted set by itself, so 1 is returned for a missing key too.
var deleteIfEmptyScript = redis.NewScript(`
if redis.call('ZCARD', KEYS[1]) == 0 then
	redis.call('DEL', KEYS[1])
	return 1
end
return 0
`)

// CleanupResult describes a single cleanup run.
type CleanupResult struct {
	// Skipped is true if the run did not happen because the previous one was still in progress.
	Skipped bool `json:"skipped"`
	// Scanned is the number of keys returned by enumeration (both representations).
	Scanned int `json:"scanned"`
	// Trimmed is the number of tracking keys that were trimmed and counted.
	Trimmed int `json:"trimmed"`
	// Deleted is the number of tracking keys that were found empty and removed.
	Deleted int `json:"deleted"`
	// Failed is the number of keys excluded because Redis replied with an error for them (e.g. WRONGTYPE).
	Failed int `json:"failed"`
	// Truncated is true if enumeration was stopped by the rounds cap before the keyspace was exhausted.
	Truncated bool `json:"truncated"`
}

// CleanerOpts represents options for Cleaner.
type CleanerOpts struct {
	Keys      KeyLayout
	ScanCount int64
	MaxRounds int
	Logger    log.FieldLogger
	Metrics   *MetricsCollector
}

// Cleaner removes expired leases and empty tracking keys.
//
// Every run costs a fixed number of pipelines regardless of how many keys are tracked:
// phase 1 trims and counts all discovered tracking keys in one pipeline,
// phase 2 deletes the empty ones in another pipeline and is skipped if there are none.
// Runs never overlap, a concurrent call returns immediately with Skipped set.
type Cleaner struct {
	client      redis.Cmdable
	switchState SwitchStateProvider
	keys        KeyLayout
	scanCount   int64
	maxRounds   int
	logger      log.FieldLogger
	metrics     *MetricsCollector
	running     atomic.Bool
}

// NewCleaner creates a new Cleaner.
func NewCleaner(client redis.Cmdable, switchState SwitchStateProvider, opts CleanerOpts) *Cleaner {
	if opts.Keys == (KeyLayout{}) {
		opts.Keys = DefaultKeyLayout()
	}
	if opts.ScanCount <= 0 {
		opts.ScanCount = DefaultScanCount
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	return &Cleaner{
		client:      client,
		switchState: switchState,
		keys:        opts.Keys,
		scanCount:   opts.ScanCount,
		maxRounds:   opts.MaxRounds,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
}

// Run implements service.Worker interface.
func (c *Cleaner) Run(ctx context.Context) error {
	_, err := c.RunOnce(ctx)
	return err
}

// RunOnce performs a single cleanup run.
func (c *Cleaner) RunOnce(ctx context.Context) (CleanupResult, error) {
	if !c.running.CompareAndSwap(false, true) {
		c.logger.Warn("cleanup is already in progress, skipping")
		c.observeRun(MetricsResultSkipped, 0, 0)
		return CleanupResult{Skipped: true}, nil
	}
	defer c.running.Store(false)

	startTime := time.Now()
	res, err := c.cleanup(ctx)
	if err != nil {
		c.observeRun(MetricsResultError, 0, time.Since(startTime))
		return res, fmt.Errorf("cleanup: %w", err)
	}
	c.observeRun(MetricsResultOK, res.Deleted, time.Since(startTime))
	c.logger.Info("cleanup finished",
		log.Int("scanned", res.Scanned), log.Int("trimmed", res.Trimmed),
		log.Int("deleted", res.Deleted), log.Int("failed", res.Failed),
		log.Bool("truncated", res.Truncated), log.DurationIn(time.Since(startTime), time.Millisecond))
	return res, nil
}

func (c *Cleaner) cleanup(ctx context.Context) (CleanupResult, error) {
	var res CleanupResult

	state, err := c.switchState.GetSwitchState(ctx)
	if err != nil {
		return res, err
	}

	keys, cursor, err := redisscan.ScanAllWithCursor(ctx, c.client, c.keys.TrackingPattern(), c.scanCount, c.maxRounds)
	if err != nil {
		return res, err
	}
	res.Scanned = len(keys)
	if cursor != redisscan.StartCursor {
		res.Truncated = true
		c.logger.Warn("cleanup enumeration was truncated by rounds cap",
			log.Int("max_rounds", c.maxRounds), log.String("cursor", cursor))
	}

	trackingKeys := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup || !c.keys.IsTrackingKey(key) {
			continue
		}
		seen[key] = struct{}{}
		trackingKeys = append(trackingKeys, key)
	}
	if len(trackingKeys) == 0 {
		return res, nil
	}

	emptyKeys, failed, err := c.trimAndCount(ctx, trackingKeys, state.ServerTime)
	if err != nil {
		return res, err
	}
	res.Trimmed = len(trackingKeys) - failed
	res.Failed = failed
	if len(emptyKeys) == 0 {
		return res, nil
	}

	deleted, failed, err := c.deleteEmpty(ctx, emptyKeys)
	if err != nil {
		return res, err
	}
	res.Deleted = deleted
	res.Failed += failed
	return res, nil
}

// trimAndCount is phase 1: a single pipeline of ZREMRANGEBYSCORE + ZCARD per key.
func (c *Cleaner) trimAndCount(ctx context.Context, keys []string, now time.Time) (emptyKeys []string, failed int, err error) {
	pipe := c.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(keys))
	for i, key := range keys {
		cmds[i] = QueueTrimAndCount(ctx, pipe, key, now)
	}
	if _, err = pipe.Exec(ctx); err != nil && !isReplyError(err) {
		return nil, 0, fmt.Errorf("trim expired leases: %w", err)
	}
	for i, cmd := range cmds {
		cnt, cmdErr := cmd.Result()
		if cmdErr != nil {
			if !isReplyError(cmdErr) {
				return nil, 0, fmt.Errorf("trim expired leases: %w", cmdErr)
			}
			failed++
			c.logger.Warn("skipping key in cleanup", log.String("key", keys[i]), log.Error(cmdErr))
			continue
		}
		if cnt == 0 {
			emptyKeys = append(emptyKeys, keys[i])
		}
	}
	return emptyKeys, failed, nil
}

// deleteEmpty is phase 2: a single pipeline of conditional deletes.
func (c *Cleaner) deleteEmpty(ctx context.Context, keys []string) (deleted, failed int, err error) {
	pipe := c.client.Pipeline()
	cmds := make([]*redis.Cmd, len(keys))
	for i, key := range keys {
		// EVALSHA cannot fall back to EVAL inside a pipeline.
		cmds[i] = deleteIfEmptyScript.Eval(ctx, pipe, []string{key})
	}
	if _, err = pipe.Exec(ctx); err != nil && !isReplyError(err) {
		return 0, 0, fmt.Errorf("delete empty tracking keys: %w", err)
	}
	for i, cmd := range cmds {
		n, cmdErr := cmd.Int64()
		if cmdErr != nil {
			if !isReplyError(cmdErr) {
				return 0, 0, fmt.Errorf("delete empty tracking keys: %w", cmdErr)
			}
			failed++
			c.logger.Warn("failed to delete empty tracking key", log.String("key", keys[i]), log.Error(cmdErr))
			continue
		}
		deleted += int(n)
	}
	return deleted, failed, nil
}

func (c *Cleaner) observeRun(result string, deleted int, elapsed time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.CleanupRuns.WithLabelValues(result).Inc()
	if result == MetricsResultSkipped {
		return
	}
	c.metrics.CleanupDeleted.Add(float64(deleted))
	c.metrics.CleanupDurations.Observe(elapsed.Seconds())
}
