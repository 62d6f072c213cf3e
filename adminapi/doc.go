/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package adminapi provides operator endpoints of the concurrency limiter:
// keyspace inspection, the per-resource overview, mode switching, freezing and manual cleanup.
// Authentication is expected to be done by a middleware in front of these routes.
package adminapi
