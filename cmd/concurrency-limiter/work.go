/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cast"

	"github.com/acronis/go-concurrencylimit/httpserver/middleware"
	"github.com/acronis/go-concurrencylimit/restapi"
)

const maxWorkDuration = time.Minute

type workResponse struct {
	ResourceKey string `json:"resourceKey,omitempty"`
	LeaseCount  int64  `json:"leaseCount,omitempty"`
	DurationMs  int64  `json:"durationMs"`
}

// workRoutes registers a demo endpoint that holds the lease for the requested time.
// It makes the limit observable: parallel requests of one tenant above the limit get 503.
func workRoutes(router chi.Router) {
	router.Get("/work", handleWork)
}

func handleWork(rw http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLoggerFromContext(r.Context())

	var d time.Duration
	if raw := r.URL.Query().Get("durationMs"); raw != "" {
		ms, err := cast.ToInt64E(raw)
		if err != nil || ms < 0 || time.Duration(ms)*time.Millisecond > maxWorkDuration {
			restapi.RespondMalformedRequestError(rw, errorDomain, restapi.NewBadRequestError(
				"Query parameter \"durationMs\" must be an integer in range [0, %d].", maxWorkDuration.Milliseconds()), logger)
			return
		}
		d = time.Duration(ms) * time.Millisecond
	}

	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-r.Context().Done():
			return
		}
	}

	resp := workResponse{DurationMs: d.Milliseconds()}
	if lease, ok := middleware.GetLeaseFromContext(r.Context()); ok {
		resp.ResourceKey = lease.ResourceKey
		resp.LeaseCount = lease.Count
	}
	restapi.RespondData(rw, resp, logger)
}
