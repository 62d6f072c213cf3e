/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/vasayxtx/go-glob"
)

// RoutePatternGetterFunc is a function for getting route pattern from the request.
type RoutePatternGetterFunc func(r *http.Request) string

// WrapResponseWriter is a response writer that remembers status code and number of written bytes.
type WrapResponseWriter = chimw.WrapResponseWriter

// WrapResponseWriterIfNeeded wraps an http.ResponseWriter (if it is not already wrapped).
func WrapResponseWriterIfNeeded(rw http.ResponseWriter, protoMajor int) WrapResponseWriter {
	if wrw, ok := rw.(WrapResponseWriter); ok {
		return wrw
	}
	return chimw.NewWrapResponseWriter(rw, protoMajor)
}

func responseStatus(wrw WrapResponseWriter) int {
	if status := wrw.Status(); status != 0 {
		return status
	}
	return http.StatusOK
}

// globMatcher matches strings against a list of glob patterns ("/admin/*", "tenant-?").
// Patterns without wildcards match exactly.
type globMatcher []func(s string) bool

func newGlobMatcher(patterns []string) globMatcher {
	m := make(globMatcher, 0, len(patterns))
	for _, p := range patterns {
		m = append(m, glob.Compile(p))
	}
	return m
}

func (m globMatcher) Match(s string) bool {
	for i := range m {
		if m[i](s) {
			return true
		}
	}
	return false
}
