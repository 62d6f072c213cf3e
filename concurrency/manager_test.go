/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package concurrency

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testTTL = 30 * time.Second

func TestLeaseManager_BasicSequence(t *testing.T) {
	for _, mode := range []Mode{ModeZset, ModeSlots} {
		t.Run(string(mode), func(t *testing.T) {
			_, client := newTestRedis(t)
			mgr := newTestManager(client, newTestSwitch(mode))
			ctx := context.Background()

			cnt, err := mgr.Admit(ctx, "k1", "r1", testTTL)
			require.NoError(t, err)
			require.Equal(t, int64(1), cnt)

			cnt, err = mgr.Admit(ctx, "k1", "r2", testTTL)
			require.NoError(t, err)
			require.Equal(t, int64(2), cnt)

			cnt, err = mgr.Release(ctx, "k1", "r1")
			require.NoError(t, err)
			require.Equal(t, int64(1), cnt)

			cnt, err = mgr.GetCount(ctx, "k1")
			require.NoError(t, err)
			require.Equal(t, int64(1), cnt)
		})
	}
}

func TestLeaseManager_CountEqualsAdmissions(t *testing.T) {
	const n = 25
	for _, mode := range []Mode{ModeZset, ModeSlots} {
		t.Run(string(mode), func(t *testing.T) {
			_, client := newTestRedis(t)
			mgr := newTestManager(client, newTestSwitch(mode))
			ctx := context.Background()

			var wg sync.WaitGroup
			errs := make(chan error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, admitErr := mgr.Admit(ctx, "k1", fmt.Sprintf("r%d", i), testTTL)
					errs <- admitErr
				}(i)
			}
			wg.Wait()
			close(errs)
			for admitErr := range errs {
				require.NoError(t, admitErr)
			}

			cnt, err := mgr.GetCount(ctx, "k1")
			require.NoError(t, err)
			require.Equal(t, int64(n), cnt)

			// Other resource keys are not affected.
			cnt, err = mgr.GetCount(ctx, "k2")
			require.NoError(t, err)
			require.Equal(t, int64(0), cnt)
		})
	}
}

func TestLeaseManager_ReleaseIsIdempotent(t *testing.T) {
	for _, mode := range []Mode{ModeZset, ModeSlots} {
		t.Run(string(mode), func(t *testing.T) {
			_, client := newTestRedis(t)
			mgr := newTestManager(client, newTestSwitch(mode))
			ctx := context.Background()

			_, err := mgr.Admit(ctx, "k1", "r1", testTTL)
			require.NoError(t, err)
			_, err = mgr.Admit(ctx, "k1", "r2", testTTL)
			require.NoError(t, err)

			first, err := mgr.Release(ctx, "k1", "r1")
			require.NoError(t, err)
			second, err := mgr.Release(ctx, "k1", "r1")
			require.NoError(t, err)
			require.Equal(t, first, second)
			require.Equal(t, int64(1), second)

			cnt, err := mgr.Release(ctx, "unknown", "r1")
			require.NoError(t, err)
			require.Equal(t, int64(0), cnt)

			_, err = mgr.Release(ctx, "k1", "r2")
			require.NoError(t, err)
			cnt, err = mgr.Release(ctx, "k1", "r2")
			require.NoError(t, err)
			require.Equal(t, int64(0), cnt)
		})
	}
}

func TestLeaseManager_ReAdmissionDoesNotDoubleCount(t *testing.T) {
	t.Run("zset overwrites expiry", func(t *testing.T) {
		mr, client := newTestRedis(t)
		mgr := newTestManager(client, newTestSwitch(ModeZset))
		ctx := context.Background()

		_, err := mgr.Admit(ctx, "k1", "r1", testTTL)
		require.NoError(t, err)
		cnt, err := mgr.Admit(ctx, "k1", "r1", 2*testTTL)
		require.NoError(t, err)
		require.Equal(t, int64(1), cnt)

		score, err := mr.ZScore("concurrency:k1", "r1")
		require.NoError(t, err)
		require.Equal(t, float64(testNow.Add(2*testTTL).UnixMilli()), score)
	})

	t.Run("slots refreshes ttl instead of failing", func(t *testing.T) {
		mr, client := newTestRedis(t)
		mgr := newTestManager(client, newTestSwitch(ModeSlots))
		ctx := context.Background()

		_, err := mgr.Admit(ctx, "k1", "r1", testTTL)
		require.NoError(t, err)
		mr.FastForward(20 * time.Second)
		cnt, err := mgr.Admit(ctx, "k1", "r1", testTTL)
		require.NoError(t, err)
		require.Equal(t, int64(1), cnt)
		require.Equal(t, testTTL, mr.TTL("concurrency:k1:req:r1"))
	})
}

func TestLeaseManager_Expiry(t *testing.T) {
	t.Run("zset trims by server time", func(t *testing.T) {
		_, client := newTestRedis(t)
		sw := newTestSwitch(ModeZset)
		mgr := newTestManager(client, sw)
		ctx := context.Background()

		_, err := mgr.Admit(ctx, "k1", "short", 10*time.Second)
		require.NoError(t, err)
		_, err = mgr.Admit(ctx, "k1", "long", testTTL)
		require.NoError(t, err)

		sw.advance(10 * time.Second) // A lease whose expiry equals now is still live.
		cnt, err := mgr.GetCount(ctx, "k1")
		require.NoError(t, err)
		require.Equal(t, int64(2), cnt)

		sw.advance(time.Millisecond)
		cnt, err = mgr.GetCount(ctx, "k1")
		require.NoError(t, err)
		require.Equal(t, int64(1), cnt)

		cnt, err = mgr.Admit(ctx, "k1", "new", testTTL)
		require.NoError(t, err)
		require.Equal(t, int64(2), cnt)
	})

	t.Run("slots relies on native ttl", func(t *testing.T) {
		mr, client := newTestRedis(t)
		mgr := newTestManager(client, newTestSwitch(ModeSlots))
		ctx := context.Background()

		_, err := mgr.Admit(ctx, "k1", "short", 10*time.Second)
		require.NoError(t, err)
		_, err = mgr.Admit(ctx, "k1", "long", testTTL)
		require.NoError(t, err)

		mr.FastForward(11 * time.Second)
		cnt, err := mgr.GetCount(ctx, "k1")
		require.NoError(t, err)
		require.Equal(t, int64(1), cnt)
	})
}

func TestLeaseManager_RefreshLease(t *testing.T) {
	for _, mode := range []Mode{ModeZset, ModeSlots} {
		t.Run(string(mode), func(t *testing.T) {
			mr, client := newTestRedis(t)
			sw := newTestSwitch(mode)
			mgr := newTestManager(client, sw)
			ctx := context.Background()
			passTime := func(d time.Duration) {
				sw.advance(d)
				mr.FastForward(d)
			}

			_, err := mgr.Admit(ctx, "k1", "r1", 10*time.Second)
			require.NoError(t, err)

			passTime(5 * time.Second)
			ok, err := mgr.RefreshLease(ctx, "k1", "r1", 10*time.Second)
			require.NoError(t, err)
			require.True(t, ok)

			passTime(8 * time.Second)
			cnt, err := mgr.GetCount(ctx, "k1")
			require.NoError(t, err)
			require.Equal(t, int64(1), cnt)

			ok, err = mgr.RefreshLease(ctx, "k1", "never-admitted", 10*time.Second)
			require.NoError(t, err)
			require.False(t, ok)

			passTime(3 * time.Second)
			ok, err = mgr.RefreshLease(ctx, "k1", "r1", 10*time.Second)
			require.NoError(t, err)
			require.False(t, ok, "expired lease must not be resurrected")

			cnt, err = mgr.GetCount(ctx, "k1")
			require.NoError(t, err)
			require.Equal(t, int64(0), cnt)
		})
	}
}

func TestLeaseManager_Freeze(t *testing.T) {
	for _, mode := range []Mode{ModeZset, ModeSlots} {
		t.Run(string(mode), func(t *testing.T) {
			mr, client := newTestRedis(t)
			sw := newTestSwitch(mode)
			mgr := newTestManager(client, sw)
			ctx := context.Background()

			_, err := mgr.Admit(ctx, "k1", "r1", testTTL)
			require.NoError(t, err)
			_, err = mgr.Admit(ctx, "k1", "r2", testTTL)
			require.NoError(t, err)
			keysBefore := mr.Keys()
			sort.Strings(keysBefore)

			sw.setFrozen(true)

			cnt, err := mgr.Admit(ctx, "k1", "r3", testTTL)
			require.NoError(t, err)
			require.Equal(t, FrozenCount, cnt)
			cnt, err = mgr.Admit(ctx, "k2", "r1", testTTL)
			require.NoError(t, err)
			require.Equal(t, FrozenCount, cnt)

			keysAfter := mr.Keys()
			sort.Strings(keysAfter)
			require.Equal(t, keysBefore, keysAfter)

			// In-flight leases drain normally.
			cnt, err = mgr.GetCount(ctx, "k1")
			require.NoError(t, err)
			require.Equal(t, int64(2), cnt)
			ok, err := mgr.RefreshLease(ctx, "k1", "r1", testTTL)
			require.NoError(t, err)
			require.True(t, ok)
			cnt, err = mgr.Release(ctx, "k1", "r1")
			require.NoError(t, err)
			require.Equal(t, int64(1), cnt)

			sw.setFrozen(false)
			cnt, err = mgr.Admit(ctx, "k1", "r3", testTTL)
			require.NoError(t, err)
			require.Equal(t, int64(2), cnt)
		})
	}
}

func TestLeaseManager_SwitchRoundTrip(t *testing.T) {
	_, client := newTestRedis(t)
	sw := newTestSwitch(ModeZset)
	mgr := newTestManager(client, sw)
	ctx := context.Background()

	_, err := mgr.Admit(ctx, "k1", "r1", testTTL)
	require.NoError(t, err)
	_, err = mgr.Admit(ctx, "k1", "r2", testTTL)
	require.NoError(t, err)

	sw.setMode(ModeSlots)
	cnt, err := mgr.GetCount(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, int64(0), cnt, "leases are not migrated between representations")
	cnt, err = mgr.Admit(ctx, "k1", "r3", testTTL)
	require.NoError(t, err)
	require.Equal(t, int64(1), cnt)

	sw.setMode(ModeZset)
	cnt, err = mgr.GetCount(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, int64(2), cnt)

	sw.setMode(ModeSlots)
	cnt, err = mgr.GetCount(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, int64(1), cnt)
}

func TestLeaseManager_DelimiterOverlap(t *testing.T) {
	for _, mode := range []Mode{ModeZset, ModeSlots} {
		t.Run(string(mode), func(t *testing.T) {
			_, client := newTestRedis(t)
			mgr := newTestManager(client, newTestSwitch(mode))
			ctx := context.Background()

			_, err := mgr.Admit(ctx, "a:req", "x", testTTL)
			require.ErrorIs(t, err, ErrInvalidKey)
			_, err = mgr.Release(ctx, "a", "req:x")
			require.ErrorIs(t, err, ErrInvalidKey)
			_, err = mgr.GetCount(ctx, "a:req")
			require.ErrorIs(t, err, ErrInvalidKey)

			cnt, err := mgr.Admit(ctx, "a:re", "q:x", testTTL)
			require.NoError(t, err)
			require.Equal(t, int64(1), cnt)
			cnt, err = mgr.Admit(ctx, "a", "eq:x", testTTL)
			require.NoError(t, err)
			require.Equal(t, int64(1), cnt)

			cnt, err = mgr.Release(ctx, "a", "eq:x")
			require.NoError(t, err)
			require.Zero(t, cnt)
			cnt, err = mgr.GetCount(ctx, "a:re")
			require.NoError(t, err)
			require.Equal(t, int64(1), cnt, "release of another resource must not touch this lease")
		})
	}
}

func TestLeaseManager_Errors(t *testing.T) {
	t.Run("invalid keys", func(t *testing.T) {
		_, client := newTestRedis(t)
		sw := newTestSwitch(ModeZset)
		mgr := newTestManager(client, sw)
		ctx := context.Background()

		_, err := mgr.Admit(ctx, "", "r1", testTTL)
		require.ErrorIs(t, err, ErrInvalidKey)
		_, err = mgr.Admit(ctx, "k1:req:x", "r1", testTTL)
		require.ErrorIs(t, err, ErrInvalidKey)
		_, err = mgr.Release(ctx, "k1", "")
		require.ErrorIs(t, err, ErrInvalidKey)
		_, err = mgr.GetCount(ctx, "")
		require.ErrorIs(t, err, ErrInvalidKey)
		_, err = mgr.Admit(ctx, "k1", "r1", 0)
		require.ErrorIs(t, err, ErrInvalidTTL)
		_, err = mgr.RefreshLease(ctx, "k1", "r1", -time.Second)
		require.ErrorIs(t, err, ErrInvalidTTL)
		require.Equal(t, 0, sw.reads, "switch state must not be read for invalid input")
	})

	t.Run("switch state error is propagated", func(t *testing.T) {
		_, client := newTestRedis(t)
		sw := newTestSwitch(ModeZset)
		stateErr := errors.New("switch state unavailable")
		sw.setErr(stateErr)
		mgr := newTestManager(client, sw)

		_, err := mgr.Admit(context.Background(), "k1", "r1", testTTL)
		require.ErrorIs(t, err, stateErr)
	})

	t.Run("unknown mode", func(t *testing.T) {
		_, client := newTestRedis(t)
		mgr := newTestManager(client, newTestSwitch("bogus"))
		_, err := mgr.GetCount(context.Background(), "k1")
		require.ErrorIs(t, err, ErrUnknownMode)
	})

	t.Run("store error is propagated", func(t *testing.T) {
		for _, mode := range []Mode{ModeZset, ModeSlots} {
			mr, client := newTestRedis(t)
			mgr := newTestManager(client, newTestSwitch(mode))
			mr.Close()

			_, err := mgr.Admit(context.Background(), "k1", "r1", testTTL)
			require.Error(t, err, mode)
			_, err = mgr.Release(context.Background(), "k1", "r1")
			require.Error(t, err, mode)
		}
	})

	t.Run("store reads switch state on every call", func(t *testing.T) {
		_, client := newTestRedis(t)
		sw := newTestSwitch(ModeZset)
		mgr := newTestManager(client, sw)
		ctx := context.Background()
		_, _ = mgr.Admit(ctx, "k1", "r1", testTTL)
		_, _ = mgr.GetCount(ctx, "k1")
		_, _ = mgr.RefreshLease(ctx, "k1", "r1", testTTL)
		_, _ = mgr.Release(ctx, "k1", "r1")
		require.Equal(t, 4, sw.reads)
	})
}
