/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package service

// Unit is a component of the service with its own lifecycle,
// e.g. the HTTP server or the worker that periodically cleans up expired leases.
type Unit interface {
	// Start runs the unit. It may return right after initialization or block while the unit is running.
	// A failure is reported by writing to fatalErr, a successful unit never writes there.
	// The channel is not used after Start returns.
	Start(fatalErr chan<- error)

	// Stop halts the unit, waiting for in-flight work if gracefully is true.
	// It may be called even if Start failed, is still running or was never called.
	Stop(gracefully bool) error
}

// MetricsRegisterer is implemented by units (and their parts) that own Prometheus collectors.
type MetricsRegisterer interface {
	MustRegisterMetrics()
	UnregisterMetrics()
}
