/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package testutil contains helpers shared by the package tests: in-process Redis,
// assertions for Prometheus metrics and for JSON responses of the REST API.
package testutil

type tHelper interface {
	Helper()
}
