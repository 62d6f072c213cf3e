/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/acronis/go-concurrencylimit/log"
)

// ContentTypeAppJSON represents MIME media type for JSON.
const ContentTypeAppJSON = "application/json"

// DataResponseData is an envelope for successful responses ({"data": ...}).
type DataResponseData struct {
	Data interface{} `json:"data"`
}

// ErrorResponseData is an envelope for failed responses ({"error": {...}}).
type ErrorResponseData struct {
	Err *Error `json:"error"`
}

func (e *ErrorResponseData) Error() string {
	return fmt.Sprintf("HTTP error occurs: %v", e.Err)
}

// encodeJSON marshals v without HTML escaping, so resource keys and glob patterns stay readable.
func encodeJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// RespondData sends response with 200 HTTP status code and the passed data wrapped into the "data" field.
func RespondData(rw http.ResponseWriter, data interface{}, logger log.FieldLogger) {
	RespondCodeAndJSON(rw, http.StatusOK, DataResponseData{Data: data}, logger)
}

// RespondJSON sends response with 200 HTTP status code and JSON-encoded respData in the body.
func RespondJSON(rw http.ResponseWriter, respData interface{}, logger log.FieldLogger) {
	RespondCodeAndJSON(rw, http.StatusOK, respData, logger)
}

// RespondCodeAndJSON sends a response with the passed status code and "application/json" content type.
// Nil respData produces an empty body.
func RespondCodeAndJSON(rw http.ResponseWriter, statusCode int, respData interface{}, logger log.FieldLogger) {
	if respData == nil {
		rw.WriteHeader(statusCode)
		return
	}
	body, err := encodeJSON(respData)
	if err != nil {
		logIfPossible(logger, "error while marshaling json for response body", err)
		rw.WriteHeader(http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", ContentTypeAppJSON)
	rw.WriteHeader(statusCode)
	if _, err = rw.Write(body); err != nil {
		logIfPossible(logger, "error while writing response body", err)
	}
}

// RespondError writes the error envelope with the passed status code, logs it and counts it in metrics.
func RespondError(rw http.ResponseWriter, httpStatusCode int, err *Error, logger log.FieldLogger) {
	if logger != nil {
		logger.Warn("error in response", errorLogFields(err)...)
	}
	incResponseErrors(err.Domain, err.Code)
	RespondCodeAndJSON(rw, httpStatusCode, ErrorResponseData{Err: err}, logger)
}

// RespondInternalError sends response with 500 HTTP status code and internal error in body in JSON format.
func RespondInternalError(rw http.ResponseWriter, domain string, logger log.FieldLogger) {
	RespondError(rw, http.StatusInternalServerError, NewInternalError(domain), logger)
}

// RespondMalformedRequestError converts reqErr into Error with the code derived from its HTTP status.
func RespondMalformedRequestError(rw http.ResponseWriter, domain string, reqErr *MalformedRequestError, logger log.FieldLogger) {
	apiErr := NewError(domain, ErrorCodeFromHTTPStatus(reqErr.HTTPStatusCode), reqErr.Message)
	RespondError(rw, reqErr.HTTPStatusCode, apiErr, logger)
}

// RespondMalformedRequestOrInternalError responds with the client error if err is (or wraps) *MalformedRequestError,
// and with 500 otherwise.
func RespondMalformedRequestOrInternalError(rw http.ResponseWriter, domain string, err error, logger log.FieldLogger) {
	var reqErr *MalformedRequestError
	if errors.As(err, &reqErr) {
		RespondMalformedRequestError(rw, domain, reqErr, logger)
		return
	}
	logIfPossible(logger, "internal error while handling request", err)
	RespondInternalError(rw, domain, logger)
}

func errorLogFields(err *Error) []log.Field {
	fields := []log.Field{log.String("error_code", err.Code), log.String("error_message", err.Message)}
	if len(err.Context) == 0 {
		return fields
	}
	keys := make([]string, 0, len(err.Context))
	for k := range err.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ctxLines := make([]string, 0, len(keys))
	for _, k := range keys {
		ctxLines = append(ctxLines, fmt.Sprintf("%s: %v", k, err.Context[k]))
	}
	return append(fields, log.Strings("error_context", ctxLines))
}

func logIfPossible(logger log.FieldLogger, msg string, err error) {
	if logger != nil {
		logger.Error(msg, log.Error(err))
	}
}
