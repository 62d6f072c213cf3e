/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsResponseErrors   *prometheus.CounterVec
	metricsResponseErrorsMu sync.RWMutex
)

const (
	metricsSubsystem = "restapi"

	metricsLabelResponseErrorDomain = "domain"
	metricsLabelResponseErrorCode   = "code"
)

// MustInitAndRegisterMetrics initializes and registers the counter of responded REST API errors.
// Panic will be raised in case of error.
func MustInitAndRegisterMetrics(namespace string) {
	errorsCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: metricsSubsystem,
		Name:      "response_errors_total",
		Help:      "The total number of REST API errors that were respond.",
	}, []string{metricsLabelResponseErrorDomain, metricsLabelResponseErrorCode})
	prometheus.MustRegister(errorsCounter)

	metricsResponseErrorsMu.Lock()
	metricsResponseErrors = errorsCounter
	metricsResponseErrorsMu.Unlock()
}

// UnregisterMetrics unregisters the counter of responded REST API errors.
func UnregisterMetrics() {
	metricsResponseErrorsMu.Lock()
	defer metricsResponseErrorsMu.Unlock()
	if metricsResponseErrors != nil {
		prometheus.Unregister(metricsResponseErrors)
		metricsResponseErrors = nil
	}
}

func incResponseErrors(domain, code string) {
	metricsResponseErrorsMu.RLock()
	defer metricsResponseErrorsMu.RUnlock()
	if metricsResponseErrors != nil {
		metricsResponseErrors.WithLabelValues(domain, code).Inc()
	}
}
