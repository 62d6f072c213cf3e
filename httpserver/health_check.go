/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/acronis/go-concurrencylimit/httpserver/middleware"
	"github.com/acronis/go-concurrencylimit/log"
	"github.com/acronis/go-concurrencylimit/restapi"
)

// StatusClientClosedRequest is a special HTTP status code used by Nginx to show that the client
// closed the request before the server could send a response
const StatusClientClosedRequest = 499

// HealthCheckStatus is a resulting status of the health-check.
type HealthCheckStatus int

// Health-check statuses.
const (
	HealthCheckStatusOK HealthCheckStatus = iota
	HealthCheckStatusFail
)

// HealthCheckResult maps component names ("redis") to their statuses.
type HealthCheckResult = map[string]HealthCheckStatus

// HealthCheck is a health-check operation.
type HealthCheck = func(ctx context.Context) (HealthCheckResult, error)

// ComponentCheck checks a single component, nil error means healthy.
type ComponentCheck = func(ctx context.Context) error

// NewComponentsHealthCheck makes HealthCheck that runs all checks and marks failed components.
// Failures are logged with the logger from the context.
func NewComponentsHealthCheck(checks map[string]ComponentCheck) HealthCheck {
	return func(ctx context.Context) (HealthCheckResult, error) {
		res := make(HealthCheckResult, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				if logger := middleware.GetLoggerFromContext(ctx); logger != nil {
					logger.Warn("component is unhealthy", log.String("component", name), log.Error(err))
				}
				res[name] = HealthCheckStatusFail
				continue
			}
			res[name] = HealthCheckStatusOK
		}
		return res, nil
	}
}

type healthCheckResponseData struct {
	Components map[string]bool `json:"components"`
}

// HealthCheckHandler implements http.Handler and does health-check of a service.
type HealthCheckHandler struct {
	healthCheckFn HealthCheck
}

// NewHealthCheckHandler creates a new http.Handler for doing health-check.
// Passing function will be called inside handler and should return statuses of service's components.
func NewHealthCheckHandler(fn HealthCheck) *HealthCheckHandler {
	if fn == nil {
		fn = func(ctx context.Context) (HealthCheckResult, error) {
			return HealthCheckResult{}, ctx.Err()
		}
	}
	return &HealthCheckHandler{fn}
}

// ServeHTTP serves heath-check HTTP request.
func (h *HealthCheckHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLoggerFromContext(r.Context())
	hcResult, err := h.healthCheckFn(r.Context())
	if err != nil {
		if logger != nil {
			logger.Error("error while checking health", log.Error(err))
		}
		if errors.Is(err, context.Canceled) {
			rw.WriteHeader(StatusClientClosedRequest)
			return
		}
		rw.WriteHeader(http.StatusInternalServerError)
		return
	}

	respStatus := http.StatusOK
	respData := healthCheckResponseData{Components: make(map[string]bool, len(hcResult))}
	for name, status := range hcResult {
		respData.Components[name] = status == HealthCheckStatusOK
		if status == HealthCheckStatusFail {
			respStatus = http.StatusServiceUnavailable
		}
	}
	restapi.RespondCodeAndJSON(rw, respStatus, respData, logger)
}
