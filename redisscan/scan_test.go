/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package redisscan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// fakeScanner serves a fixed key list in batches of its own size, the cursor being an offset into the list.
type fakeScanner struct {
	keys     []string
	batch    int
	calls    int
	failFrom int
}

func (s *fakeScanner) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	s.calls++
	if s.failFrom > 0 && s.calls >= s.failFrom {
		return redis.NewScanCmdResult(nil, 0, errors.New("connection refused"))
	}
	start := int(cursor)
	end := start + s.batch
	if end >= len(s.keys) {
		return redis.NewScanCmdResult(append([]string(nil), s.keys[start:]...), 0, nil)
	}
	return redis.NewScanCmdResult(append([]string(nil), s.keys[start:end]...), uint64(end), nil)
}

func makeKeys(n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("concurrency:k%03d", i)
	}
	return keys
}

func TestScanPage(t *testing.T) {
	t.Run("follow cursor until exhaustion", func(t *testing.T) {
		const total, batch = 25, 10
		scanner := &fakeScanner{keys: makeKeys(total), batch: batch}

		var got []string
		cursor := StartCursor
		pages := 0
		for {
			page, err := ScanPage(context.Background(), scanner, "concurrency:*", batch, cursor)
			require.NoError(t, err)
			got = append(got, page.Keys...)
			pages++
			if !page.HasMore {
				require.Equal(t, StartCursor, page.NextCursor)
				break
			}
			require.NotEqual(t, StartCursor, page.NextCursor)
			cursor = page.NextCursor
		}
		require.Equal(t, 3, pages)
		require.Equal(t, 3, scanner.calls)
		sort.Strings(got)
		require.Equal(t, makeKeys(total), got)
	})

	t.Run("exactly one round per call", func(t *testing.T) {
		scanner := &fakeScanner{keys: makeKeys(50), batch: 10}
		page, err := ScanPage(context.Background(), scanner, "*", 10, "")
		require.NoError(t, err)
		require.Len(t, page.Keys, 10)
		require.True(t, page.HasMore)
		require.Equal(t, "10", page.NextCursor)
		require.Equal(t, 1, scanner.calls)
	})

	t.Run("invalid cursor", func(t *testing.T) {
		scanner := &fakeScanner{keys: makeKeys(5), batch: 10}
		_, err := ScanPage(context.Background(), scanner, "*", 10, "abc")
		require.ErrorIs(t, err, ErrInvalidCursor)
		require.Equal(t, 0, scanner.calls)
	})

	t.Run("store error is propagated", func(t *testing.T) {
		scanner := &fakeScanner{keys: makeKeys(5), batch: 10, failFrom: 1}
		_, err := ScanPage(context.Background(), scanner, "*", 10, StartCursor)
		require.ErrorContains(t, err, "connection refused")
	})
}

func TestScanAll(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		batch     int
		maxRounds int
		wantKeys  int
		wantCalls int
	}{
		{name: "unbounded", total: 95, batch: 10, maxRounds: 0, wantKeys: 95, wantCalls: 10},
		{name: "generous cap", total: 95, batch: 10, maxRounds: 100, wantKeys: 95, wantCalls: 10},
		{name: "truncated by cap", total: 95, batch: 10, maxRounds: 3, wantKeys: 30, wantCalls: 3},
		{name: "empty keyspace", total: 0, batch: 10, maxRounds: 5, wantKeys: 0, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scanner := &fakeScanner{keys: makeKeys(tt.total), batch: tt.batch}
			keys, err := ScanAll(context.Background(), scanner, "concurrency:*", int64(tt.batch), tt.maxRounds)
			require.NoError(t, err)
			require.Len(t, keys, tt.wantKeys)
			require.Equal(t, tt.wantCalls, scanner.calls)
		})
	}

	t.Run("cursor reports truncation", func(t *testing.T) {
		scanner := &fakeScanner{keys: makeKeys(30), batch: 10}
		keys, cursor, err := ScanAllWithCursor(context.Background(), scanner, "*", 10, 2)
		require.NoError(t, err)
		require.Len(t, keys, 20)
		require.Equal(t, "20", cursor)
	})

	t.Run("error in the middle fails the whole call", func(t *testing.T) {
		scanner := &fakeScanner{keys: makeKeys(30), batch: 10, failFrom: 2}
		keys, err := ScanAll(context.Background(), scanner, "*", 10, 0)
		require.Error(t, err)
		require.Nil(t, keys)
	})
}

func TestIterator(t *testing.T) {
	scanner := &fakeScanner{keys: makeKeys(15), batch: 10}
	it, err := NewIterator(scanner, "*", 0, StartCursor)
	require.NoError(t, err)
	require.False(t, it.Done())

	page, err := it.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, page.Keys, 10)
	require.False(t, it.Done())
	require.Equal(t, "10", it.Cursor())

	page, err = it.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, page.Keys, 5)
	require.True(t, it.Done())
	require.Equal(t, StartCursor, it.Cursor())
	require.Equal(t, 2, it.Rounds())

	// Iteration is restartable.
	page, err = it.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, page.Keys, 10)
	require.Equal(t, 1, it.Rounds())

	it.Reset()
	require.False(t, it.Done())
	require.Equal(t, StartCursor, it.Cursor())
}
