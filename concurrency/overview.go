/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package concurrency

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/acronis/go-concurrencylimit/log"
	"github.com/acronis/go-concurrencylimit/redisscan"
)

// OverviewItem is a live lease count of a single resource key.
type OverviewItem struct {
	ID    string `json:"id"`
	Count int64  `json:"count"`
}

// OverviewPage is a page of the per-resource report.
type OverviewPage struct {
	Mode       Mode           `json:"mode"`
	Items      []OverviewItem `json:"items"`
	NextCursor string         `json:"cursor"`
	HasMore    bool           `json:"hasMore"`
}

// OverviewAggregator builds the paginated per-resource report for the admin surface.
// Every page is exactly one SCAN round over the key prefix shared by both representations.
type OverviewAggregator struct {
	client      redis.Cmdable
	switchState SwitchStateProvider
	keys        KeyLayout
	logger      log.FieldLogger
}

// NewOverviewAggregator creates a new OverviewAggregator.
func NewOverviewAggregator(
	client redis.Cmdable, switchState SwitchStateProvider, keys KeyLayout, logger log.FieldLogger,
) *OverviewAggregator {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	return &OverviewAggregator{client: client, switchState: switchState, keys: keys, logger: logger}
}

// Page returns the report for keys observed in one SCAN round started from the cursor.
//
// In zset mode, the tracking keys of the round are trimmed and counted in a single pipeline.
// In slots mode, lease keys are tallied per resource key without further store calls,
// so a resource key may appear on several pages with partial counts.
func (a *OverviewAggregator) Page(ctx context.Context, count int64, cursor string) (OverviewPage, error) {
	state, err := a.switchState.GetSwitchState(ctx)
	if err != nil {
		return OverviewPage{}, fmt.Errorf("overview: %w", err)
	}
	page, err := redisscan.ScanPage(ctx, a.client, a.keys.TrackingPattern(), count, cursor)
	if err != nil {
		return OverviewPage{}, fmt.Errorf("overview: %w", err)
	}

	var items []OverviewItem
	switch state.Mode {
	case ModeZset:
		if items, err = a.countTrackingKeys(ctx, state, page.Keys); err != nil {
			return OverviewPage{}, fmt.Errorf("overview: %w", err)
		}
	case ModeSlots:
		items = a.tallyLeaseKeys(page.Keys)
	default:
		return OverviewPage{}, fmt.Errorf("overview: %w %q", ErrUnknownMode, state.Mode)
	}

	return OverviewPage{Mode: state.Mode, Items: items, NextCursor: page.NextCursor, HasMore: page.HasMore}, nil
}

func (a *OverviewAggregator) countTrackingKeys(ctx context.Context, state SwitchState, keys []string) ([]OverviewItem, error) {
	trackingKeys := make([]string, 0, len(keys))
	for _, key := range keys {
		if a.keys.IsTrackingKey(key) {
			trackingKeys = append(trackingKeys, key)
		}
	}
	items := make([]OverviewItem, 0, len(trackingKeys))
	if len(trackingKeys) == 0 {
		return items, nil
	}

	pipe := a.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(trackingKeys))
	for i, key := range trackingKeys {
		cmds[i] = QueueTrimAndCount(ctx, pipe, key, state.ServerTime)
	}
	if _, err := pipe.Exec(ctx); err != nil && !isReplyError(err) {
		return nil, err
	}

	for i, cmd := range cmds {
		cnt, err := cmd.Result()
		if err != nil {
			if !isReplyError(err) {
				return nil, err
			}
			a.logger.Warn("skipping key in overview", log.String("key", trackingKeys[i]), log.Error(err))
			continue
		}
		items = append(items, OverviewItem{ID: a.keys.ResourceKeyOf(trackingKeys[i]), Count: cnt})
	}
	return items, nil
}

func (a *OverviewAggregator) tallyLeaseKeys(keys []string) []OverviewItem {
	items := make([]OverviewItem, 0)
	indexes := make(map[string]int)
	for _, key := range keys {
		resourceKey, _, ok := a.keys.ParseLeaseKey(key)
		if !ok {
			continue
		}
		if idx, seen := indexes[resourceKey]; seen {
			items[idx].Count++
			continue
		}
		indexes[resourceKey] = len(items)
		items = append(items, OverviewItem{ID: resourceKey, Count: 1})
	}
	return items
}

// isReplyError reports whether the error is a reply from Redis (e.g. WRONGTYPE) rather than a transport failure.
func isReplyError(err error) bool {
	var rErr redis.Error
	return errors.As(err, &rErr) && !errors.Is(err, redis.Nil)
}
