/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"strings"
	"sync"
)

// CompositeUnit runs several units as one, e.g. the HTTP server together with the cleanup worker.
type CompositeUnit struct {
	Units []Unit
}

// NewCompositeUnit creates a new composite unit.
func NewCompositeUnit(units ...Unit) *CompositeUnit {
	return &CompositeUnit{units}
}

type unitStartResult struct {
	unit Unit
	err  error
}

// Start launches all units concurrently and blocks until all their Start calls return.
//
// The first fatal error reported by a unit stops all units non-gracefully.
// A CompositeUnitError with fatal errors reported so far and errors of the stop is then sent to fatalError.
func (cu *CompositeUnit) Start(fatalError chan<- error) {
	results := make(chan unitStartResult, len(cu.Units))
	for _, u := range cu.Units {
		go func(u Unit) {
			unitFatalErr := make(chan error, 1)
			u.Start(unitFatalErr)
			res := unitStartResult{unit: u}
			select {
			case res.err = <-unitFatalErr:
			default:
			}
			results <- res
		}(u)
	}

	var firstErr error
	for range cu.Units {
		if res := <-results; res.err != nil {
			firstErr = res.err
			break
		}
	}
	if firstErr == nil {
		return
	}

	stopErr := cu.Stop(false)

	errs := []error{firstErr}
	for drained := false; !drained; {
		select {
		case res := <-results:
			if res.err != nil {
				errs = append(errs, res.err)
			}
		default:
			drained = true
		}
	}
	if stopErr != nil {
		errs = append(errs, stopErr.(*CompositeUnitError).UnitErrors...)
	}
	fatalError <- &CompositeUnitError{errs}
}

// Stop stops all units concurrently and waits for all of them.
// Errors of the units are collected into a single CompositeUnitError.
func (cu *CompositeUnit) Stop(gracefully bool) error {
	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for _, u := range cu.Units {
		wg.Add(1)
		go func(u Unit) {
			defer wg.Done()
			if err := u.Stop(gracefully); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(u)
	}
	wg.Wait()

	if len(errs) != 0 {
		return &CompositeUnitError{errs}
	}
	return nil
}

// MustRegisterMetrics registers metrics of the units that own any.
func (cu *CompositeUnit) MustRegisterMetrics() {
	cu.forEachMetricsRegisterer(MetricsRegisterer.MustRegisterMetrics)
}

// UnregisterMetrics unregisters metrics of the units that own any.
func (cu *CompositeUnit) UnregisterMetrics() {
	cu.forEachMetricsRegisterer(MetricsRegisterer.UnregisterMetrics)
}

func (cu *CompositeUnit) forEachMetricsRegisterer(fn func(MetricsRegisterer)) {
	for _, u := range cu.Units {
		if mr, ok := u.(MetricsRegisterer); ok {
			fn(mr)
		}
	}
}

// CompositeUnitError combines errors of several units.
type CompositeUnitError struct {
	UnitErrors []error
}

// Error joins messages of the unit errors with "; ".
func (cue *CompositeUnitError) Error() string {
	msgs := make([]string, 0, len(cue.UnitErrors))
	for _, err := range cue.UnitErrors {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Unwrap returns errors of the units, so errors.Is and errors.As can look into them.
func (cue *CompositeUnitError) Unwrap() []error {
	return cue.UnitErrors
}
