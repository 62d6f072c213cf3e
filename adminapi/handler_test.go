/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-concurrencylimit/concurrency"
	"github.com/acronis/go-concurrencylimit/log/logtest"
	"github.com/acronis/go-concurrencylimit/redisscan"
	"github.com/acronis/go-concurrencylimit/restapi"
	"github.com/acronis/go-concurrencylimit/testutil"
)

const errDomain = "ConcurrencyLimiterAdmin"

type testEnv struct {
	mr      *miniredis.Miniredis
	client  *redis.Client
	board   *concurrency.RedisSwitchBoard
	manager *concurrency.LeaseManager
	router  chi.Router
	logs    *logtest.Recorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr, client := testutil.NewRedis(t)
	keys := concurrency.DefaultKeyLayout()
	board := concurrency.NewRedisSwitchBoard(client, concurrency.DefaultSwitchKey, concurrency.ModeZset)
	manager := concurrency.NewLeaseManager(board,
		concurrency.NewOrderedSetStrategy(client, keys),
		concurrency.NewIndependentKeyStrategy(client, keys, concurrency.IndependentKeyStrategyOpts{}),
		concurrency.LeaseManagerOpts{Keys: keys})
	logs := logtest.NewRecorder()
	h := NewHandler(NewDefaultConfig(), Deps{
		Scanner:     client,
		SwitchBoard: board,
		Overview:    concurrency.NewOverviewAggregator(client, board, keys, logs),
		Cleaner:     concurrency.NewCleaner(client, board, concurrency.CleanerOpts{Keys: keys}),
		Leases:      manager,
	}, errDomain, logs)
	router := chi.NewRouter()
	router.Route("/admin", h.Routes)
	return &testEnv{mr: mr, client: client, board: board, manager: manager, router: router, logs: logs}
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) admit(t *testing.T, resourceKey, requestID string) {
	t.Helper()
	_, err := e.manager.Admit(context.Background(), resourceKey, requestID, time.Minute)
	require.NoError(t, err)
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	envelope := struct {
		Data interface{} `json:"data"`
	}{Data: dest}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
}

// pagedScanner serves two fixed pages regardless of the pattern.
type pagedScanner struct{}

func (pagedScanner) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	cmd := redis.NewScanCmd(ctx, nil)
	if cursor == 0 {
		cmd.SetVal([]string{"concurrency:a", "concurrency:b"}, 1)
	} else {
		cmd.SetVal([]string{"concurrency:c"}, 0)
	}
	return cmd
}

func TestHandler_Scan(t *testing.T) {
	t.Run("pages are chained by cursor", func(t *testing.T) {
		h := NewHandler(NewDefaultConfig(), Deps{Scanner: pagedScanner{}}, errDomain, nil)
		router := chi.NewRouter()
		router.Route("/admin", h.Routes)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/redis/scan?pattern=concurrency:*&count=2", nil))
		testutil.RequireDataInRecorder(t, rec,
			&redisscan.Page{Keys: []string{"concurrency:a", "concurrency:b"}, NextCursor: "1", HasMore: true},
			&redisscan.Page{})

		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/redis/scan?pattern=concurrency:*&count=2&cursor=1", nil))
		testutil.RequireDataInRecorder(t, rec,
			&redisscan.Page{Keys: []string{"concurrency:c"}, NextCursor: "0", HasMore: false},
			&redisscan.Page{})
	})

	t.Run("all matching keys are enumerated", func(t *testing.T) {
		env := newTestEnv(t)
		env.admit(t, "t1", "r1")
		env.admit(t, "t2", "r1")
		require.NoError(t, env.mr.Set("other:key", "1"))

		var keys []string
		cursor := redisscan.StartCursor
		for i := 0; i < 10; i++ {
			rec := env.do(http.MethodGet, "/admin/redis/scan?pattern=concurrency:*&count=1&cursor="+cursor, "")
			var page redisscan.Page
			decodeData(t, rec, &page)
			keys = append(keys, page.Keys...)
			cursor = page.NextCursor
			if !page.HasMore {
				break
			}
		}
		require.Equal(t, redisscan.StartCursor, cursor)
		require.ElementsMatch(t, []string{"concurrency:t1", "concurrency:t2"}, keys)
	})

	t.Run("empty page has empty keys", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(http.MethodGet, "/admin/redis/scan?pattern=concurrency:*", "")
		testutil.RequireDataInRecorder(t, rec,
			&redisscan.Page{Keys: []string{}, NextCursor: "0"}, &redisscan.Page{})
	})

	t.Run("bad requests", func(t *testing.T) {
		env := newTestEnv(t)
		for _, target := range []string{
			"/admin/redis/scan",
			"/admin/redis/scan?pattern=*",
			"/admin/redis/scan?pattern=session:*",
			"/admin/redis/scan?pattern=concurrency:*&count=0",
			"/admin/redis/scan?pattern=concurrency:*&count=abc",
			"/admin/redis/scan?pattern=concurrency:*&count=100000",
			"/admin/redis/scan?pattern=concurrency:*&cursor=-1",
		} {
			rec := env.do(http.MethodGet, target, "")
			testutil.RequireErrorInRecorder(t, rec, http.StatusBadRequest, errDomain, restapi.ErrCodeBadRequest)
		}
	})
}

func TestHandler_Overview(t *testing.T) {
	t.Run("zset mode", func(t *testing.T) {
		env := newTestEnv(t)
		env.admit(t, "t1", "r1")
		env.admit(t, "t1", "r2")
		env.admit(t, "t2", "r1")

		rec := env.do(http.MethodGet, "/admin/concurrency/overview?count=1000", "")
		var page concurrency.OverviewPage
		decodeData(t, rec, &page)
		require.Equal(t, concurrency.ModeZset, page.Mode)
		require.False(t, page.HasMore)
		require.ElementsMatch(t, []concurrency.OverviewItem{{ID: "t1", Count: 2}, {ID: "t2", Count: 1}}, page.Items)
	})

	t.Run("slots mode", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.board.BeginSwitch(context.Background(), concurrency.ModeSlots, 0)
		require.NoError(t, err)
		env.admit(t, "t1", "r1")
		env.admit(t, "t1", "r2")

		rec := env.do(http.MethodGet, "/admin/concurrency/overview?count=1000", "")
		var page concurrency.OverviewPage
		decodeData(t, rec, &page)
		require.Equal(t, concurrency.ModeSlots, page.Mode)
		require.Equal(t, []concurrency.OverviewItem{{ID: "t1", Count: 2}}, page.Items)
	})

	t.Run("store failure", func(t *testing.T) {
		env := newTestEnv(t)
		env.mr.SetError("ERR store is unavailable")
		rec := env.do(http.MethodGet, "/admin/concurrency/overview", "")
		testutil.RequireErrorInRecorder(t, rec, http.StatusInternalServerError, errDomain, restapi.ErrCodeInternal)
		_, found := env.logs.FindEntry("admin operation failed")
		require.True(t, found)
	})
}

func TestHandler_Switch(t *testing.T) {
	env := newTestEnv(t)

	var state concurrency.SwitchState
	decodeData(t, env.do(http.MethodGet, "/admin/concurrency/switch", ""), &state)
	require.Equal(t, concurrency.ModeZset, state.Mode)
	require.False(t, state.FreezeActive)

	state = concurrency.SwitchState{}
	decodeData(t, env.do(http.MethodPost, "/admin/concurrency/switch", `{"mode":"slots","freezeSeconds":0}`), &state)
	require.Equal(t, concurrency.ModeSlots, state.Mode)
	require.False(t, state.FreezeActive)

	state = concurrency.SwitchState{}
	decodeData(t, env.do(http.MethodPost, "/admin/concurrency/switch", `{"mode":"zset","freezeSeconds":30}`), &state)
	require.Equal(t, concurrency.ModeSlots, state.Mode, "old mode stays active during freeze")
	require.Equal(t, concurrency.ModeZset, state.PendingMode)
	require.True(t, state.FreezeActive)
	_, found := env.logs.FindEntry("concurrency mode switch started")
	require.True(t, found)

	cnt, err := env.manager.Admit(context.Background(), "t1", "r1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, concurrency.FrozenCount, cnt)

	for _, body := range []string{
		`{"mode":"lists","freezeSeconds":0}`,
		`{"mode":"zset","freezeSeconds":-1}`,
		`{"mode":"zset","freezeSeconds":86400}`,
		`{"mode":"zset","freezeSeconds":18446744074}`,
		`{"mode":"zset","unknown":1}`,
		`{"mode":`,
	} {
		rec := env.do(http.MethodPost, "/admin/concurrency/switch", body)
		testutil.RequireErrorInRecorder(t, rec, http.StatusBadRequest, errDomain, restapi.ErrCodeBadRequest)
	}
}

func TestHandler_Freeze(t *testing.T) {
	env := newTestEnv(t)

	var state concurrency.SwitchState
	decodeData(t, env.do(http.MethodPost, "/admin/concurrency/freeze", `{"freezeSeconds":60}`), &state)
	require.True(t, state.FreezeActive)
	require.Equal(t, concurrency.ModeZset, state.Mode)

	cnt, err := env.manager.Admit(context.Background(), "t1", "r1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, concurrency.FrozenCount, cnt)

	state = concurrency.SwitchState{}
	decodeData(t, env.do(http.MethodPost, "/admin/concurrency/freeze", `{"freezeSeconds":0}`), &state)
	require.False(t, state.FreezeActive)

	cnt, err = env.manager.Admit(context.Background(), "t1", "r1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), cnt)

	// 18446744074s and 9223372037s overflow time.Duration into a small positive and a negative value.
	for _, body := range []string{`{"freezeSeconds":7200}`, `{"freezeSeconds":18446744074}`, `{"freezeSeconds":9223372037}`} {
		rec := env.do(http.MethodPost, "/admin/concurrency/freeze", body)
		testutil.RequireErrorInRecorder(t, rec, http.StatusBadRequest, errDomain, restapi.ErrCodeBadRequest)
	}
	state = concurrency.SwitchState{}
	decodeData(t, env.do(http.MethodGet, "/admin/concurrency/switch", ""), &state)
	require.False(t, state.FreezeActive)
}

func TestHandler_Cleanup(t *testing.T) {
	env := newTestEnv(t)
	env.admit(t, "live", "r1")
	_, err := env.mr.ZAdd("concurrency:stale", 1, "r1")
	require.NoError(t, err)

	rec := env.do(http.MethodPost, "/admin/concurrency/cleanup", "")
	testutil.RequireDataInRecorder(t, rec,
		&concurrency.CleanupResult{Scanned: 2, Trimmed: 2, Deleted: 1}, &concurrency.CleanupResult{})
	require.False(t, env.mr.Exists("concurrency:stale"))
	require.True(t, env.mr.Exists("concurrency:live"))
}

func TestHandler_GetCount(t *testing.T) {
	env := newTestEnv(t)
	env.admit(t, "t1", "r1")
	env.admit(t, "t1", "r2")

	testutil.RequireDataInRecorder(t, env.do(http.MethodGet, "/admin/concurrency/keys/t1", ""),
		&ResourceCount{ID: "t1", Count: 2}, &ResourceCount{})
	testutil.RequireDataInRecorder(t, env.do(http.MethodGet, "/admin/concurrency/keys/unknown", ""),
		&ResourceCount{ID: "unknown", Count: 0}, &ResourceCount{})

	rec := env.do(http.MethodGet, "/admin/concurrency/keys/t1:req:r1", "")
	testutil.RequireErrorInRecorder(t, rec, http.StatusBadRequest, errDomain, restapi.ErrCodeBadRequest)
}

func TestHandler_RoutesWithoutDeps(t *testing.T) {
	h := NewHandler(NewDefaultConfig(), Deps{}, errDomain, nil)
	router := chi.NewRouter()
	router.Route("/admin", h.Routes)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/concurrency/switch", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
