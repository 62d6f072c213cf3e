/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"code.cloudfoundry.org/bytefmt"
)

// MalformedRequestError is an error that occurs in case of incorrect request.
type MalformedRequestError struct {
	HTTPStatusCode int
	Message        string
}

// Error returns a string representation of MalformedRequestError.
func (e *MalformedRequestError) Error() string {
	return e.Message
}

// NewBadRequestError creates a new MalformedRequestError with 400 HTTP status code.
func NewBadRequestError(format string, args ...interface{}) *MalformedRequestError {
	return &MalformedRequestError{http.StatusBadRequest, fmt.Sprintf(format, args...)}
}

// SetRequestMaxBodySize limits the number of bytes that may be read from the request body.
func SetRequestMaxBodySize(w http.ResponseWriter, r *http.Request, maxSizeBytes uint64) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxSizeBytes))
}

// DecodeRequestJSON reads exactly one JSON value from the request body into dst.
// Unknown fields are rejected when disallowUnknownFields is true.
func DecodeRequestJSON(r *http.Request, dst interface{}, disallowUnknownFields bool) error {
	if err := checkJSONContentType(r.Header.Get("Content-Type")); err != nil {
		return err
	}
	decoder := json.NewDecoder(r.Body)
	if disallowUnknownFields {
		decoder.DisallowUnknownFields()
	}
	if err := decoder.Decode(dst); err != nil {
		return convertDecodeError(err)
	}
	if decoder.More() {
		return NewBadRequestError("Request body must only contain a single JSON object.")
	}
	return nil
}

// checkJSONContentType accepts a missing header, since admin tools often post JSON without one.
func checkJSONContentType(headerValue string) error {
	if headerValue == "" {
		return nil
	}
	contentType, _, err := mime.ParseMediaType(headerValue)
	if err != nil {
		return newUnsupportedMediaTypeError("failed to parse Content-Type header for request: %s", err)
	}
	if contentType != ContentTypeAppJSON {
		return newUnsupportedMediaTypeError("Content-Type %q is not supported.", contentType)
	}
	return nil
}

func newUnsupportedMediaTypeError(format string, args ...interface{}) *MalformedRequestError {
	return &MalformedRequestError{http.StatusUnsupportedMediaType, fmt.Sprintf(format, args...)}
}

func convertDecodeError(err error) error {
	var syntaxErr *json.SyntaxError
	var unmarshalTypeErr *json.UnmarshalTypeError
	var maxBytesErr *http.MaxBytesError

	switch {
	case errors.Is(err, io.EOF):
		return NewBadRequestError("Request body must not be empty.")
	case errors.Is(err, io.ErrUnexpectedEOF):
		return NewBadRequestError("Request body contains badly-formed JSON.")
	case errors.As(err, &syntaxErr):
		return NewBadRequestError("Request body contains badly-formed JSON (at position %d).", syntaxErr.Offset)
	case errors.As(err, &unmarshalTypeErr):
		if unmarshalTypeErr.Field != "" {
			return NewBadRequestError("Request body contains an invalid value for the %q field (at position %d).",
				unmarshalTypeErr.Field, unmarshalTypeErr.Offset)
		}
		return NewBadRequestError("Request body contains an invalid value of type %q for the field of type %s.",
			unmarshalTypeErr.Value, unmarshalTypeErr.Type.String())
	case errors.As(err, &maxBytesErr):
		return &MalformedRequestError{
			http.StatusRequestEntityTooLarge,
			fmt.Sprintf("Request body must not be larger than %s.", bytefmt.ByteSize(uint64(maxBytesErr.Limit))),
		}
	}
	if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		return NewBadRequestError("Request body contains unknown field %s.", field)
	}
	return err
}
