/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-concurrencylimit/httpserver/middleware"
	"github.com/acronis/go-concurrencylimit/log/logtest"
	"github.com/acronis/go-concurrencylimit/restapi"
)

func TestHealthCheckHandler_ServeHTTP(t *testing.T) {
	makeRequest := func(ctx context.Context, logger *logtest.Recorder) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		return req.WithContext(middleware.NewContextWithLogger(ctx, logger))
	}

	tests := []struct {
		name       string
		check      HealthCheck
		wantCode   int
		wantResult map[string]bool
	}{
		{
			name: "health-check returns error",
			check: func(context.Context) (HealthCheckResult, error) {
				return nil, errors.New("internal error")
			},
			wantCode: http.StatusInternalServerError,
		},
		{
			name:       "no components",
			check:      nil,
			wantCode:   http.StatusOK,
			wantResult: map[string]bool{},
		},
		{
			name: "unhealthy component",
			check: func(context.Context) (HealthCheckResult, error) {
				return HealthCheckResult{"redis": HealthCheckStatusFail, "switch": HealthCheckStatusOK}, nil
			},
			wantCode:   http.StatusServiceUnavailable,
			wantResult: map[string]bool{"redis": false, "switch": true},
		},
		{
			name: "healthy components",
			check: NewComponentsHealthCheck(map[string]ComponentCheck{
				"redis": func(context.Context) error { return nil },
			}),
			wantCode:   http.StatusOK,
			wantResult: map[string]bool{"redis": true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := httptest.NewRecorder()
			NewHealthCheckHandler(tt.check).ServeHTTP(resp, makeRequest(context.Background(), logtest.NewRecorder()))

			require.Equal(t, tt.wantCode, resp.Code)
			if tt.wantResult == nil {
				return
			}
			require.Equal(t, restapi.ContentTypeAppJSON, resp.Header().Get("Content-Type"))
			var got healthCheckResponseData
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
			require.Equal(t, tt.wantResult, got.Components)
		})
	}

	t.Run("failed component is logged", func(t *testing.T) {
		logger := logtest.NewRecorder()
		check := NewComponentsHealthCheck(map[string]ComponentCheck{
			"redis": func(context.Context) error { return errors.New("connection refused") },
		})
		resp := httptest.NewRecorder()
		NewHealthCheckHandler(check).ServeHTTP(resp, makeRequest(context.Background(), logger))

		require.Equal(t, http.StatusServiceUnavailable, resp.Code)
		entry, found := logger.FindEntry("component is unhealthy")
		require.True(t, found)
		require.Equal(t, "redis", entry.FieldString("component"))
		require.Equal(t, "connection refused", entry.FieldString("error"))
	})

	t.Run("client closed request", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		resp := httptest.NewRecorder()
		NewHealthCheckHandler(nil).ServeHTTP(resp, makeRequest(ctx, logtest.NewRecorder()))
		require.Equal(t, StatusClientClosedRequest, resp.Code)
	})
}
