/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package redisscan

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cast"
)

// StartCursor is the cursor value that starts an enumeration and also marks its end.
const StartCursor = "0"

// DefaultCount is a default COUNT hint passed to a single SCAN round.
const DefaultCount = 100

// ErrInvalidCursor is returned when a cursor cannot be parsed.
var ErrInvalidCursor = errors.New("invalid scan cursor")

// Scanner is a subset of redis.Cmdable that is required for key enumeration.
// *redis.Client, *redis.ClusterClient (per shard) and redis.Pipeliner satisfy it.
type Scanner interface {
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// Page is a result of a single SCAN round.
type Page struct {
	Keys       []string `json:"keys"`
	NextCursor string   `json:"cursor"`
	HasMore    bool     `json:"hasMore"`
}

// ParseCursor converts an opaque cursor string into the numeric form used by Redis.
// An empty string is treated as StartCursor.
func ParseCursor(cursor string) (uint64, error) {
	if cursor == "" {
		return 0, nil
	}
	val, err := cast.ToUint64E(cursor)
	if err != nil {
		return 0, fmt.Errorf("%w %q", ErrInvalidCursor, cursor)
	}
	return val, nil
}

// FormatCursor converts a numeric Redis cursor into its opaque string form.
func FormatCursor(cursor uint64) string {
	return strconv.FormatUint(cursor, 10)
}

// Iterator is a lazy, finite and restartable sequence of SCAN pages.
// It is not safe for concurrent use.
type Iterator struct {
	scanner Scanner
	pattern string
	count   int64
	cursor  uint64
	started bool
	rounds  int
}

// NewIterator creates a new Iterator that will enumerate keys matching the pattern starting from the given cursor.
func NewIterator(scanner Scanner, pattern string, count int64, cursor string) (*Iterator, error) {
	c, err := ParseCursor(cursor)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		count = DefaultCount
	}
	return &Iterator{scanner: scanner, pattern: pattern, count: count, cursor: c}, nil
}

// Next performs exactly one SCAN round and advances the cursor.
// Calling Next after Done returns true restarts the enumeration.
func (it *Iterator) Next(ctx context.Context) (Page, error) {
	if it.Done() {
		it.Reset()
	}
	keys, next, err := it.scanner.Scan(ctx, it.cursor, it.pattern, it.count).Result()
	if err != nil {
		return Page{}, fmt.Errorf("scan %q from cursor %d: %w", it.pattern, it.cursor, err)
	}
	it.started = true
	it.rounds++
	it.cursor = next
	return Page{Keys: keys, NextCursor: FormatCursor(next), HasMore: next != 0}, nil
}

// Done reports whether the store has signaled exhaustion (cursor returned back to "0").
func (it *Iterator) Done() bool {
	return it.started && it.cursor == 0
}

// Cursor returns the cursor to resume from.
func (it *Iterator) Cursor() string {
	return FormatCursor(it.cursor)
}

// Rounds returns the number of SCAN rounds performed since the last Reset.
func (it *Iterator) Rounds() int {
	return it.rounds
}

// Reset rewinds the iterator to the beginning of the keyspace.
func (it *Iterator) Reset() {
	it.cursor = 0
	it.started = false
	it.rounds = 0
}

// ScanPage performs exactly one SCAN round starting from the cursor.
// HasMore is true while the returned cursor differs from StartCursor. No aggregation across rounds is done.
func ScanPage(ctx context.Context, scanner Scanner, pattern string, count int64, cursor string) (Page, error) {
	it, err := NewIterator(scanner, pattern, count, cursor)
	if err != nil {
		return Page{}, err
	}
	return it.Next(ctx)
}

// ScanAll pages from StartCursor and accumulates keys until the store reports exhaustion
// or maxRounds rounds have been consumed (maxRounds <= 0 means no cap).
// Keys are not deduplicated.
func ScanAll(ctx context.Context, scanner Scanner, pattern string, count int64, maxRounds int) ([]string, error) {
	keys, _, err := ScanAllWithCursor(ctx, scanner, pattern, count, maxRounds)
	return keys, err
}

// ScanAllWithCursor is like ScanAll but also returns the cursor where enumeration stopped.
// A cursor different from StartCursor means that the result was truncated by maxRounds.
func ScanAllWithCursor(
	ctx context.Context, scanner Scanner, pattern string, count int64, maxRounds int,
) (keys []string, cursor string, err error) {
	it, err := NewIterator(scanner, pattern, count, StartCursor)
	if err != nil {
		return nil, "", err
	}
	for !it.Done() && (maxRounds <= 0 || it.Rounds() < maxRounds) {
		page, pageErr := it.Next(ctx)
		if pageErr != nil {
			return nil, "", pageErr
		}
		keys = append(keys, page.Keys...)
	}
	return keys, it.Cursor(), nil
}
