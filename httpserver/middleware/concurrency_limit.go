/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/acronis/go-concurrencylimit/concurrency"
	"github.com/acronis/go-concurrencylimit/log"
	"github.com/acronis/go-concurrencylimit/restapi"
)

// ConcurrencyLimitErrCode is the error code that is used in a response body
// if the request is rejected because the resource key has too many concurrent requests.
const ConcurrencyLimitErrCode = "tooManyConcurrentRequests"

// DefaultConcurrencyLimitLeaseTTL is the default lifetime of a lease.
// A lease of a crashed instance disappears after it, a long request must outlive it with RefreshLease.
const DefaultConcurrencyLimitLeaseTTL = time.Minute

// LeaseManager is the subset of concurrency.LeaseManager used by the ConcurrencyLimit middleware.
type LeaseManager interface {
	Admit(ctx context.Context, resourceKey, requestID string, ttl time.Duration) (int64, error)
	Release(ctx context.Context, resourceKey, requestID string) (int64, error)
}

// ConcurrencyLimitParams contains data that relates to the concurrency limiting procedure
// and could be used for rejecting or handling an occurred error.
type ConcurrencyLimitParams struct {
	ErrDomain   string
	ResourceKey string
	RequestID   string
	Count       int64
	Limit       int64
	Frozen      bool
}

// ConcurrencyLimitGetKeyFunc returns the resource key of the request.
// If bypass is true, the request is served without a lease.
type ConcurrencyLimitGetKeyFunc func(r *http.Request) (key string, bypass bool, err error)

// ConcurrencyLimitOnRejectFunc is called when the request is rejected.
type ConcurrencyLimitOnRejectFunc func(rw http.ResponseWriter, r *http.Request, params ConcurrencyLimitParams, logger log.FieldLogger)

// ConcurrencyLimitOnErrorFunc is called when a lease cannot be admitted because of an error.
type ConcurrencyLimitOnErrorFunc func(
	rw http.ResponseWriter, r *http.Request, params ConcurrencyLimitParams, err error, next http.Handler, logger log.FieldLogger)

// ConcurrencyLimitOpts represents an options for the ConcurrencyLimit middleware.
type ConcurrencyLimitOpts struct {
	// GetKey is required, there is no global key.
	GetKey ConcurrencyLimitGetKeyFunc
	TTL    time.Duration
	// ExcludedEndpoints are exact paths or glob patterns served without a lease.
	ExcludedEndpoints []string

	OnReject ConcurrencyLimitOnRejectFunc
	OnError  ConcurrencyLimitOnErrorFunc
}

type concurrencyLimitHandler struct {
	next      http.Handler
	manager   LeaseManager
	limit     int64
	errDomain string
	ttl       time.Duration
	getKey    ConcurrencyLimitGetKeyFunc
	excluded  globMatcher
	onReject  ConcurrencyLimitOnRejectFunc
	onError   ConcurrencyLimitOnErrorFunc
}

// ConcurrencyLimit is a middleware that admits a distributed lease per request and releases it after serving.
// The internal request id is used as the lease id, so RequestID middleware must be applied before.
// Requests are rejected with 503 when the count of the resource key exceeds the limit or admission is frozen.
func ConcurrencyLimit(
	manager LeaseManager, limit int64, errDomain string, opts ConcurrencyLimitOpts,
) (func(next http.Handler) http.Handler, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit should be positive, got %d", limit)
	}
	if opts.GetKey == nil {
		return nil, errors.New("function for getting resource key cannot be nil")
	}
	ttl := opts.TTL
	if ttl == 0 {
		ttl = DefaultConcurrencyLimitLeaseTTL
	}
	if ttl < time.Millisecond {
		return nil, fmt.Errorf("lease ttl should be at least 1ms, got %s", ttl)
	}
	onReject := opts.OnReject
	if onReject == nil {
		onReject = DefaultConcurrencyLimitOnReject
	}
	onError := opts.OnError
	if onError == nil {
		onError = DefaultConcurrencyLimitOnError
	}
	excluded := newGlobMatcher(opts.ExcludedEndpoints)
	return func(next http.Handler) http.Handler {
		return &concurrencyLimitHandler{
			next:      next,
			manager:   manager,
			limit:     limit,
			errDomain: errDomain,
			ttl:       ttl,
			getKey:    opts.GetKey,
			excluded:  excluded,
			onReject:  onReject,
			onError:   onError,
		}
	}, nil
}

// MustConcurrencyLimit is a version of ConcurrencyLimit that panics on error.
func MustConcurrencyLimit(
	manager LeaseManager, limit int64, errDomain string, opts ConcurrencyLimitOpts,
) func(next http.Handler) http.Handler {
	mw, err := ConcurrencyLimit(manager, limit, errDomain, opts)
	if err != nil {
		panic(err)
	}
	return mw
}

func (h *concurrencyLimitHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if h.excluded.Match(r.URL.Path) {
		h.next.ServeHTTP(rw, r)
		return
	}

	logger := GetLoggerFromContext(r.Context())
	params := ConcurrencyLimitParams{ErrDomain: h.errDomain, Limit: h.limit}

	key, bypass, err := h.getKey(r)
	if err != nil {
		h.onError(rw, r, params, fmt.Errorf("get resource key: %w", err), h.next, logger)
		return
	}
	if bypass {
		h.next.ServeHTTP(rw, r)
		return
	}
	params.ResourceKey = key
	params.RequestID = GetInternalRequestIDFromContext(r.Context())
	if params.RequestID == "" {
		h.onError(rw, r, params, errors.New("internal request id is missing in the request context"), h.next, logger)
		return
	}

	cnt, err := h.manager.Admit(r.Context(), key, params.RequestID, h.ttl)
	if err != nil {
		h.onError(rw, r, params, err, h.next, logger)
		return
	}
	params.Count = cnt

	// Release must happen even if the client has gone away.
	releaseCtx := context.WithoutCancel(r.Context())

	if cnt == concurrency.FrozenCount {
		params.Frozen = true
		h.onReject(rw, r, params, logger)
		return
	}
	if cnt > h.limit {
		h.release(releaseCtx, params, logger)
		h.onReject(rw, r, params, logger)
		return
	}

	defer h.release(releaseCtx, params, logger)
	lease := Lease{ResourceKey: key, RequestID: params.RequestID, Count: cnt}
	ctx := NewContextWithLease(r.Context(), lease)
	if logger != nil {
		ctx = NewContextWithLogger(ctx, logger.With(log.ResourceKey(key)))
	}
	h.next.ServeHTTP(rw, r.WithContext(ctx))
}

func (h *concurrencyLimitHandler) release(ctx context.Context, params ConcurrencyLimitParams, logger log.FieldLogger) {
	if _, err := h.manager.Release(ctx, params.ResourceKey, params.RequestID); err != nil && logger != nil {
		logger.Error("failed to release concurrency lease, it will expire by ttl",
			log.ResourceKey(params.ResourceKey), log.Error(err))
	}
}

// DefaultConcurrencyLimitOnReject responds with 503 and tooManyConcurrentRequests error.
func DefaultConcurrencyLimitOnReject(
	rw http.ResponseWriter, r *http.Request, params ConcurrencyLimitParams, logger log.FieldLogger,
) {
	if logger != nil {
		fields := []log.Field{log.ResourceKey(params.ResourceKey), log.Int64("limit", params.Limit)}
		if params.Frozen {
			fields = append(fields, log.Bool("frozen", true))
		} else {
			fields = append(fields, log.LeaseCount(params.Count))
		}
		logger = logger.With(fields...)
	}
	apiErr := restapi.NewError(params.ErrDomain, ConcurrencyLimitErrCode, "Too many concurrent requests.")
	restapi.RespondError(rw, http.StatusServiceUnavailable, apiErr, logger)
}

// DefaultConcurrencyLimitOnError responds with 500 internal error.
// The store being unavailable is not a reason to let requests through.
func DefaultConcurrencyLimitOnError(
	rw http.ResponseWriter, r *http.Request, params ConcurrencyLimitParams, err error, next http.Handler, logger log.FieldLogger,
) {
	if logger != nil {
		logger.Error(err.Error(), log.ResourceKey(params.ResourceKey))
	}
	restapi.RespondInternalError(rw, params.ErrDomain, logger)
}
