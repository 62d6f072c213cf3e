/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-concurrencylimit/adminapi"
	"github.com/acronis/go-concurrencylimit/concurrency"
	"github.com/acronis/go-concurrencylimit/httpserver"
	"github.com/acronis/go-concurrencylimit/httpserver/middleware"
	"github.com/acronis/go-concurrencylimit/redisstore"
	"github.com/acronis/go-concurrencylimit/restapi"
	"github.com/acronis/go-concurrencylimit/testutil"
)

func TestLoadAppConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := loadAppConfig("", "CLIMITERAPPTEST")
		require.NoError(t, err)
		require.Equal(t, redisstore.NewDefaultConfig(), cfg.Redis)
		require.Equal(t, httpserver.NewDefaultConfig(), cfg.Server)
		require.Equal(t, concurrency.NewDefaultConfig(), cfg.Concurrency)
		require.Equal(t, adminapi.NewDefaultConfig(), cfg.Admin)
	})

	t.Run("file and env", func(t *testing.T) {
		t.Setenv("CLIMITERAPPTEST_REDIS_ADDRESS", "redis.internal:6380")
		cfgPath := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(cfgPath, []byte(`
server:
  concurrency:
    limit: 5
concurrency:
  switch:
    defaultMode: slots
admin:
  scan:
    maxCount: 200
`), 0o600))

		cfg, err := loadAppConfig(cfgPath, "CLIMITERAPPTEST")
		require.NoError(t, err)
		require.Equal(t, "redis.internal:6380", cfg.Redis.Address)
		require.Equal(t, int64(5), cfg.Server.Concurrency.Limit)
		require.Equal(t, concurrency.ModeSlots, cfg.Concurrency.Switch.DefaultMode)
		require.Equal(t, 200, cfg.Admin.Scan.MaxCount)
	})

	t.Run("invalid file", func(t *testing.T) {
		cfgPath := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(cfgPath, []byte("server:\n  concurrency:\n    limit: 0\n"), 0o600))
		_, err := loadAppConfig(cfgPath, "CLIMITERAPPTEST")
		require.Error(t, err)
	})
}

func TestHandleWork(t *testing.T) {
	t.Run("lease is reported", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/work?durationMs=10", nil)
		req = req.WithContext(middleware.NewContextWithLease(req.Context(),
			middleware.Lease{ResourceKey: "t1", RequestID: "r1", Count: 2}))
		rec := httptest.NewRecorder()
		started := time.Now()
		handleWork(rec, req)
		require.GreaterOrEqual(t, time.Since(started), time.Millisecond*10)
		testutil.RequireDataInRecorder(t, rec,
			&workResponse{ResourceKey: "t1", LeaseCount: 2, DurationMs: 10}, &workResponse{})
	})

	t.Run("invalid duration", func(t *testing.T) {
		for _, target := range []string{"/work?durationMs=abc", "/work?durationMs=-1", "/work?durationMs=3600000"} {
			rec := httptest.NewRecorder()
			handleWork(rec, httptest.NewRequest(http.MethodGet, target, nil))
			testutil.RequireErrorInRecorder(t, rec, http.StatusBadRequest, errorDomain, restapi.ErrCodeBadRequest)
		}
	})
}
