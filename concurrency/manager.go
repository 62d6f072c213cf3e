/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package concurrency

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/acronis/go-concurrencylimit/log"
)

// FrozenCount is returned by Admit while the freeze is active.
// It's larger than any realistic limit, so comparing it with a limit always denies the admission.
const FrozenCount int64 = math.MaxInt64

// ErrInvalidTTL is returned when a lease TTL is less than one millisecond.
var ErrInvalidTTL = errors.New("invalid lease ttl")

// Lease operation names used in logs and metrics.
const (
	OperationAdmit   = "admit"
	OperationRelease = "release"
	OperationCount   = "count"
	OperationRefresh = "refresh"
)

// LeaseManagerOpts represents options for LeaseManager.
type LeaseManagerOpts struct {
	Keys    KeyLayout
	Logger  log.FieldLogger
	Metrics *MetricsCollector
}

// LeaseManager issues and releases concurrency leases.
// On every call it reads SwitchState and dispatches to the strategy of the active mode.
// It's safe for concurrent use and holds no mutable state, Redis is the only synchronization point.
type LeaseManager struct {
	switchState SwitchStateProvider
	strategies  map[Mode]Strategy
	keys        KeyLayout
	logger      log.FieldLogger
	metrics     *MetricsCollector
}

// NewLeaseManager creates a new LeaseManager.
func NewLeaseManager(switchState SwitchStateProvider, zset, slots Strategy, opts LeaseManagerOpts) *LeaseManager {
	if opts.Keys == (KeyLayout{}) {
		opts.Keys = DefaultKeyLayout()
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	return &LeaseManager{
		switchState: switchState,
		strategies:  map[Mode]Strategy{ModeZset: zset, ModeSlots: slots},
		keys:        opts.Keys,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
}

// Admit creates (or refreshes) the lease and returns the live count of the resource key including it.
// While the freeze is active, nothing is written and FrozenCount is returned.
func (m *LeaseManager) Admit(ctx context.Context, resourceKey, requestID string, ttl time.Duration) (int64, error) {
	if err := m.validate(resourceKey, requestID); err != nil {
		return 0, err
	}
	if ttl < time.Millisecond {
		return 0, fmt.Errorf("%w: %s", ErrInvalidTTL, ttl)
	}
	state, strategy, err := m.resolve(ctx)
	if err != nil {
		return 0, m.fail(OperationAdmit, "", resourceKey, err)
	}
	if state.FreezeActive {
		m.metrics.incLeaseOperation(OperationAdmit, state.Mode, MetricsResultFrozen)
		m.logger.Debug("lease admission denied, freeze is active",
			log.ResourceKey(resourceKey), log.RequestID(requestID))
		return FrozenCount, nil
	}
	cnt, err := strategy.Admit(ctx, state.ServerTime, resourceKey, requestID, ttl)
	if err != nil {
		return 0, m.fail(OperationAdmit, state.Mode, resourceKey, err)
	}
	m.metrics.incLeaseOperation(OperationAdmit, state.Mode, MetricsResultOK)
	return cnt, nil
}

// Release removes the lease and returns the resulting live count.
// Releasing a lease that does not exist is not an error.
func (m *LeaseManager) Release(ctx context.Context, resourceKey, requestID string) (int64, error) {
	if err := m.validate(resourceKey, requestID); err != nil {
		return 0, err
	}
	state, strategy, err := m.resolve(ctx)
	if err != nil {
		return 0, m.fail(OperationRelease, "", resourceKey, err)
	}
	cnt, err := strategy.Release(ctx, state.ServerTime, resourceKey, requestID)
	if err != nil {
		return 0, m.fail(OperationRelease, state.Mode, resourceKey, err)
	}
	m.metrics.incLeaseOperation(OperationRelease, state.Mode, MetricsResultOK)
	return cnt, nil
}

// GetCount returns the number of live leases of the resource key.
func (m *LeaseManager) GetCount(ctx context.Context, resourceKey string) (int64, error) {
	if err := m.keys.ValidateResourceKey(resourceKey); err != nil {
		return 0, err
	}
	state, strategy, err := m.resolve(ctx)
	if err != nil {
		return 0, m.fail(OperationCount, "", resourceKey, err)
	}
	cnt, err := strategy.Count(ctx, state.ServerTime, resourceKey)
	if err != nil {
		return 0, m.fail(OperationCount, state.Mode, resourceKey, err)
	}
	m.metrics.incLeaseOperation(OperationCount, state.Mode, MetricsResultOK)
	return cnt, nil
}

// RefreshLease extends the expiry of the live lease without changing the count.
// It returns false if the lease does not exist or has already expired.
func (m *LeaseManager) RefreshLease(ctx context.Context, resourceKey, requestID string, ttl time.Duration) (bool, error) {
	if err := m.validate(resourceKey, requestID); err != nil {
		return false, err
	}
	if ttl < time.Millisecond {
		return false, fmt.Errorf("%w: %s", ErrInvalidTTL, ttl)
	}
	state, strategy, err := m.resolve(ctx)
	if err != nil {
		return false, m.fail(OperationRefresh, "", resourceKey, err)
	}
	ok, err := strategy.Refresh(ctx, state.ServerTime, resourceKey, requestID, ttl)
	if err != nil {
		return false, m.fail(OperationRefresh, state.Mode, resourceKey, err)
	}
	m.metrics.incLeaseOperation(OperationRefresh, state.Mode, MetricsResultOK)
	return ok, nil
}

// SwitchState returns the current switch state.
func (m *LeaseManager) SwitchState(ctx context.Context) (SwitchState, error) {
	return m.switchState.GetSwitchState(ctx)
}

func (m *LeaseManager) resolve(ctx context.Context) (SwitchState, Strategy, error) {
	state, err := m.switchState.GetSwitchState(ctx)
	if err != nil {
		return SwitchState{}, nil, err
	}
	strategy, ok := m.strategies[state.Mode]
	if !ok || strategy == nil {
		return SwitchState{}, nil, fmt.Errorf("%w %q", ErrUnknownMode, state.Mode)
	}
	return state, strategy, nil
}

func (m *LeaseManager) validate(resourceKey, requestID string) error {
	if err := m.keys.ValidateResourceKey(resourceKey); err != nil {
		return fmt.Errorf("resource key: %w", err)
	}
	if err := m.keys.ValidateRequestID(requestID); err != nil {
		return fmt.Errorf("request id: %w", err)
	}
	return nil
}

func (m *LeaseManager) fail(op string, mode Mode, resourceKey string, err error) error {
	m.metrics.incLeaseOperation(op, mode, MetricsResultError)
	m.logger.Error("lease operation failed",
		log.String("operation", op), log.Mode(string(mode)),
		log.ResourceKey(resourceKey), log.Error(err))
	return fmt.Errorf("%s lease for %q: %w", op, resourceKey, err)
}
