/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package adminapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cast"
	"github.com/vasayxtx/go-glob"

	"github.com/acronis/go-concurrencylimit/concurrency"
	"github.com/acronis/go-concurrencylimit/httpserver/middleware"
	"github.com/acronis/go-concurrencylimit/log"
	"github.com/acronis/go-concurrencylimit/redisscan"
	"github.com/acronis/go-concurrencylimit/restapi"
)

// SwitchBoard reads and changes the switch state.
type SwitchBoard interface {
	concurrency.SwitchStateProvider
	BeginSwitch(ctx context.Context, target concurrency.Mode, freeze time.Duration) (concurrency.SwitchState, error)
	Freeze(ctx context.Context, freeze time.Duration) (concurrency.SwitchState, error)
}

// OverviewPager builds pages of the per-resource report.
type OverviewPager interface {
	Page(ctx context.Context, count int64, cursor string) (concurrency.OverviewPage, error)
}

// CleanupRunner performs a single cleanup run.
type CleanupRunner interface {
	RunOnce(ctx context.Context) (concurrency.CleanupResult, error)
}

// LeaseCounter returns the number of live leases of a resource key.
type LeaseCounter interface {
	GetCount(ctx context.Context, resourceKey string) (int64, error)
}

// Deps contains the components served by the admin API.
type Deps struct {
	Scanner     redisscan.Scanner
	SwitchBoard SwitchBoard
	Overview    OverviewPager
	Cleaner     CleanupRunner
	Leases      LeaseCounter
}

// ResourceCount is a live lease count of a single resource key.
type ResourceCount struct {
	ID    string `json:"id"`
	Count int64  `json:"count"`
}

// SwitchRequest is a body of the mode switching request.
type SwitchRequest struct {
	Mode          string `json:"mode"`
	FreezeSeconds int64  `json:"freezeSeconds"`
}

// FreezeRequest is a body of the freeze request.
type FreezeRequest struct {
	FreezeSeconds int64 `json:"freezeSeconds"`
}

// Handler serves the admin endpoints.
type Handler struct {
	deps            Deps
	allowedPatterns []func(string) bool
	defaultCount    int64
	maxCount        int64
	maxFreeze       time.Duration
	errDomain       string
	logger          log.FieldLogger
}

// NewHandler creates a new Handler.
func NewHandler(cfg *Config, deps Deps, errDomain string, logger log.FieldLogger) *Handler {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	matchers := make([]func(string) bool, 0, len(cfg.Scan.AllowedPatterns))
	for _, p := range cfg.Scan.AllowedPatterns {
		matchers = append(matchers, glob.Compile(p))
	}
	return &Handler{
		deps:            deps,
		allowedPatterns: matchers,
		defaultCount:    int64(cfg.Scan.DefaultCount),
		maxCount:        int64(cfg.Scan.MaxCount),
		maxFreeze:       time.Duration(cfg.Switch.MaxFreeze),
		errDomain:       errDomain,
		logger:          logger,
	}
}

// Routes registers the admin endpoints in the router.
// Endpoints whose dependency is not set are not registered.
func (h *Handler) Routes(router chi.Router) {
	if h.deps.Scanner != nil {
		router.Get("/redis/scan", h.scan)
	}
	router.Route("/concurrency", func(router chi.Router) {
		if h.deps.Overview != nil {
			router.Get("/overview", h.overview)
		}
		if h.deps.SwitchBoard != nil {
			router.Get("/switch", h.getSwitchState)
			router.Post("/switch", h.beginSwitch)
			router.Post("/freeze", h.freeze)
		}
		if h.deps.Cleaner != nil {
			router.Post("/cleanup", h.cleanup)
		}
		if h.deps.Leases != nil {
			router.Get("/keys/{resourceKey}", h.getCount)
		}
	})
}

func (h *Handler) scan(rw http.ResponseWriter, r *http.Request) {
	logger := h.loggerFor(r)
	query := r.URL.Query()
	pattern := query.Get("pattern")
	if pattern == "" {
		h.respondBadRequest(rw, restapi.NewBadRequestError("Query parameter \"pattern\" is required."), logger)
		return
	}
	if !h.isPatternAllowed(pattern) {
		h.respondBadRequest(rw, restapi.NewBadRequestError("Pattern %q is not allowed.", pattern), logger)
		return
	}
	count, reqErr := h.parseCount(query.Get("count"))
	if reqErr != nil {
		h.respondBadRequest(rw, reqErr, logger)
		return
	}
	page, err := redisscan.ScanPage(r.Context(), h.deps.Scanner, pattern, count, query.Get("cursor"))
	if err != nil {
		h.respondStoreError(rw, err, logger)
		return
	}
	if page.Keys == nil {
		page.Keys = []string{}
	}
	restapi.RespondData(rw, page, logger)
}

func (h *Handler) overview(rw http.ResponseWriter, r *http.Request) {
	logger := h.loggerFor(r)
	query := r.URL.Query()
	count, reqErr := h.parseCount(query.Get("count"))
	if reqErr != nil {
		h.respondBadRequest(rw, reqErr, logger)
		return
	}
	page, err := h.deps.Overview.Page(r.Context(), count, query.Get("cursor"))
	if err != nil {
		h.respondStoreError(rw, err, logger)
		return
	}
	if page.Items == nil {
		page.Items = []concurrency.OverviewItem{}
	}
	restapi.RespondData(rw, page, logger)
}

func (h *Handler) getSwitchState(rw http.ResponseWriter, r *http.Request) {
	logger := h.loggerFor(r)
	state, err := h.deps.SwitchBoard.GetSwitchState(r.Context())
	if err != nil {
		h.respondStoreError(rw, err, logger)
		return
	}
	restapi.RespondData(rw, state, logger)
}

func (h *Handler) beginSwitch(rw http.ResponseWriter, r *http.Request) {
	logger := h.loggerFor(r)
	var req SwitchRequest
	if err := restapi.DecodeRequestJSON(r, &req, true); err != nil {
		restapi.RespondMalformedRequestOrInternalError(rw, h.errDomain, err, logger)
		return
	}
	mode, err := concurrency.ParseMode(req.Mode)
	if err != nil {
		h.respondBadRequest(rw, restapi.NewBadRequestError("Unknown mode %q.", req.Mode), logger)
		return
	}
	freeze, reqErr := h.parseFreeze(req.FreezeSeconds)
	if reqErr != nil {
		h.respondBadRequest(rw, reqErr, logger)
		return
	}
	state, err := h.deps.SwitchBoard.BeginSwitch(r.Context(), mode, freeze)
	if err != nil {
		h.respondStoreError(rw, err, logger)
		return
	}
	logger.Info("concurrency mode switch started",
		log.String("target_mode", string(mode)), log.Duration("freeze", freeze),
		log.Mode(string(state.Mode)))
	restapi.RespondData(rw, state, logger)
}

func (h *Handler) freeze(rw http.ResponseWriter, r *http.Request) {
	logger := h.loggerFor(r)
	var req FreezeRequest
	if err := restapi.DecodeRequestJSON(r, &req, true); err != nil {
		restapi.RespondMalformedRequestOrInternalError(rw, h.errDomain, err, logger)
		return
	}
	freeze, reqErr := h.parseFreeze(req.FreezeSeconds)
	if reqErr != nil {
		h.respondBadRequest(rw, reqErr, logger)
		return
	}
	state, err := h.deps.SwitchBoard.Freeze(r.Context(), freeze)
	if err != nil {
		h.respondStoreError(rw, err, logger)
		return
	}
	logger.Info("concurrency freeze changed", log.Duration("freeze", freeze), log.Bool("freeze_active", state.FreezeActive))
	restapi.RespondData(rw, state, logger)
}

func (h *Handler) cleanup(rw http.ResponseWriter, r *http.Request) {
	logger := h.loggerFor(r)
	result, err := h.deps.Cleaner.RunOnce(r.Context())
	if err != nil {
		h.respondStoreError(rw, err, logger)
		return
	}
	restapi.RespondData(rw, result, logger)
}

func (h *Handler) getCount(rw http.ResponseWriter, r *http.Request) {
	logger := h.loggerFor(r)
	resourceKey := chi.URLParam(r, "resourceKey")
	count, err := h.deps.Leases.GetCount(r.Context(), resourceKey)
	if err != nil {
		h.respondStoreError(rw, err, logger)
		return
	}
	restapi.RespondData(rw, ResourceCount{ID: resourceKey, Count: count}, logger)
}

func (h *Handler) isPatternAllowed(pattern string) bool {
	for _, match := range h.allowedPatterns {
		if match(pattern) {
			return true
		}
	}
	return false
}

func (h *Handler) parseCount(raw string) (int64, *restapi.MalformedRequestError) {
	if raw == "" {
		return h.defaultCount, nil
	}
	count, err := cast.ToInt64E(raw)
	if err != nil || count <= 0 || count > h.maxCount {
		return 0, restapi.NewBadRequestError("Query parameter \"count\" must be an integer in range [1, %d].", h.maxCount)
	}
	return count, nil
}

func (h *Handler) parseFreeze(seconds int64) (time.Duration, *restapi.MalformedRequestError) {
	// Compared in seconds, since large values overflow time.Duration.
	maxSeconds := int64(h.maxFreeze / time.Second)
	if seconds < 0 || seconds > maxSeconds {
		return 0, restapi.NewBadRequestError("Field \"freezeSeconds\" must be in range [0, %d].", maxSeconds)
	}
	return time.Duration(seconds) * time.Second, nil
}

func (h *Handler) respondBadRequest(rw http.ResponseWriter, reqErr *restapi.MalformedRequestError, logger log.FieldLogger) {
	restapi.RespondMalformedRequestError(rw, h.errDomain, reqErr, logger)
}

// respondStoreError maps errors caused by request values to 400, everything else is an internal error.
func (h *Handler) respondStoreError(rw http.ResponseWriter, err error, logger log.FieldLogger) {
	switch {
	case errors.Is(err, redisscan.ErrInvalidCursor):
		h.respondBadRequest(rw, restapi.NewBadRequestError("Invalid cursor."), logger)
	case errors.Is(err, concurrency.ErrInvalidKey):
		h.respondBadRequest(rw, restapi.NewBadRequestError("Invalid resource key."), logger)
	default:
		logger.Error("admin operation failed", log.Error(err))
		restapi.RespondInternalError(rw, h.errDomain, logger)
	}
}

func (h *Handler) loggerFor(r *http.Request) log.FieldLogger {
	if logger := middleware.GetLoggerFromContext(r.Context()); logger != nil {
		return logger
	}
	return h.logger
}
