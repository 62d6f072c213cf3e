/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-concurrencylimit/log/logtest"
)

const testDomain = "ConcurrencyLimiter"

func TestRespondData(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondData(rec, map[string]interface{}{"keys": []string{"concurrency:<a&b>"}, "hasMore": false}, logtest.NewRecorder())
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, ContentTypeAppJSON, rec.Header().Get("Content-Type"))
	require.Equal(t, `{"data":{"hasMore":false,"keys":["concurrency:<a&b>"]}}`, rec.Body.String())
}

func TestRespondCodeAndJSON_NilData(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondCodeAndJSON(rec, http.StatusNoContent, nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, rec.Body.String())
}

func TestRespondError(t *testing.T) {
	MustInitAndRegisterMetrics("test")
	defer UnregisterMetrics()

	logRecorder := logtest.NewRecorder()
	rec := httptest.NewRecorder()
	RespondError(rec, http.StatusBadRequest,
		NewError(testDomain, "invalidPattern", "Pattern is not allowed.").AddContext("pattern", "*"), logRecorder)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"error":{"domain":"ConcurrencyLimiter","code":"invalidPattern",
		"message":"Pattern is not allowed.","context":{"pattern":"*"}}}`, rec.Body.String())
	entry, found := logRecorder.FindEntry("error in response")
	require.True(t, found)
	require.Equal(t, "invalidPattern", entry.FieldString("error_code"))
	require.Equal(t, 1, int(testutil.ToFloat64(metricsResponseErrors.WithLabelValues(testDomain, "invalidPattern"))))
}

func TestRespondMalformedRequestOrInternalError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondMalformedRequestOrInternalError(rec, testDomain, NewBadRequestError("bad %s", "cursor"), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"error":{"domain":"ConcurrencyLimiter","code":"badRequest","message":"bad cursor"}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	RespondMalformedRequestOrInternalError(rec, testDomain, errors.New("redis: connection pool timeout"), nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":{"domain":"ConcurrencyLimiter","code":"internalError","message":"Internal error."}}`, rec.Body.String())
}

func TestErrorCodeFromHTTPStatus(t *testing.T) {
	require.Equal(t, "badRequest", ErrorCodeFromHTTPStatus(http.StatusBadRequest))
	require.Equal(t, "requestEntityTooLarge", ErrorCodeFromHTTPStatus(http.StatusRequestEntityTooLarge))
	require.Equal(t, "serviceUnavailable", ErrorCodeFromHTTPStatus(http.StatusServiceUnavailable))
	require.Equal(t, ErrCodeInternal, ErrorCodeFromHTTPStatus(http.StatusInternalServerError))
}

func TestDecodeRequestJSON(t *testing.T) {
	type switchRequest struct {
		Mode          string `json:"mode"`
		FreezeSeconds int64  `json:"freezeSeconds"`
	}

	tests := []struct {
		name           string
		contentType    string
		body           string
		maxBodySize    uint64
		wantReq        switchRequest
		wantStatusCode int
		wantMsg        string
	}{
		{name: "ok", contentType: "application/json; charset=utf-8", body: `{"mode":"slots","freezeSeconds":5}`,
			wantReq: switchRequest{Mode: "slots", FreezeSeconds: 5}},
		{name: "no content type", body: `{"mode":"zset"}`, wantReq: switchRequest{Mode: "zset"}},
		{name: "unsupported content type", contentType: "text/plain", body: `{}`,
			wantStatusCode: http.StatusUnsupportedMediaType, wantMsg: `Content-Type "text/plain" is not supported.`},
		{name: "empty body", wantStatusCode: http.StatusBadRequest, wantMsg: "Request body must not be empty."},
		{name: "bad json", body: `{"mode":`, wantStatusCode: http.StatusBadRequest,
			wantMsg: "Request body contains badly-formed JSON."},
		{name: "syntax error", body: `{"mode" "zset"}`, wantStatusCode: http.StatusBadRequest,
			wantMsg: "Request body contains badly-formed JSON (at position"},
		{name: "wrong type", body: `{"freezeSeconds":"5"}`, wantStatusCode: http.StatusBadRequest,
			wantMsg: `Request body contains an invalid value for the "freezeSeconds" field`},
		{name: "unknown field", body: `{"mod":"zset"}`, wantStatusCode: http.StatusBadRequest,
			wantMsg: `Request body contains unknown field "mod".`},
		{name: "two objects", body: `{} {}`, wantStatusCode: http.StatusBadRequest,
			wantMsg: "Request body must only contain a single JSON object."},
		{name: "too large", body: `{"mode":"` + strings.Repeat("z", 2048) + `"}`, maxBodySize: 1024,
			wantStatusCode: http.StatusRequestEntityTooLarge, wantMsg: "Request body must not be larger than 1K."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/admin/concurrency/switch", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			if tt.maxBodySize != 0 {
				SetRequestMaxBodySize(httptest.NewRecorder(), req, tt.maxBodySize)
			}
			var got switchRequest
			err := DecodeRequestJSON(req, &got, true)
			if tt.wantStatusCode == 0 {
				require.NoError(t, err)
				require.Equal(t, tt.wantReq, got)
				return
			}
			var reqErr *MalformedRequestError
			require.ErrorAs(t, err, &reqErr)
			require.Equal(t, tt.wantStatusCode, reqErr.HTTPStatusCode)
			require.Contains(t, reqErr.Message, tt.wantMsg)
		})
	}
}
