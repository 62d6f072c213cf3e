/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-concurrencylimit/log/logtest"
	"github.com/acronis/go-concurrencylimit/testutil"
)

const errDomain = "ConcurrencyLimiter"

func TestRecoveryHandler_ServeHTTP(t *testing.T) {
	t.Run("panic is recovered and logged", func(t *testing.T) {
		logger := logtest.NewRecorder()
		handler := Recovery(errDomain)(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			panic("boom")
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(NewContextWithLogger(req.Context(), logger))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)

		testutil.RequireErrorInRecorder(t, resp, http.StatusInternalServerError, errDomain, "internalError")
		entry, found := logger.FindEntry("Panic: boom")
		require.True(t, found)
		_, hasStack := entry.FindField("stack")
		require.True(t, hasStack)
	})

	t.Run("ErrAbortHandler is re-panicked", func(t *testing.T) {
		handler := Recovery(errDomain)(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			panic(http.ErrAbortHandler)
		}))
		require.PanicsWithValue(t, http.ErrAbortHandler, func() {
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		})
	})

	t.Run("no panic", func(t *testing.T) {
		next := &mockNextHandler{}
		resp := httptest.NewRecorder()
		Recovery(errDomain)(next).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, 1, next.called)
		require.Equal(t, http.StatusOK, resp.Code)
	})
}
