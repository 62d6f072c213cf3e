/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package middleware contains HTTP middlewares used by the limiter's HTTP server:
// request IDs, logging, panic recovery, Prometheus metrics, request body limiting
// and the distributed concurrency limit backed by concurrency.LeaseManager.
package middleware
