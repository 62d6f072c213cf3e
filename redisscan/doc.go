/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package redisscan wraps the Redis SCAN command into bounded, restartable key enumeration.
//
// Two contracts are provided on top of the Iterator type:
//   - ScanPage performs exactly one SCAN round and returns the keys with the cursor to resume from.
//     It is intended for paginated listings where the caller (e.g., an admin UI) decides whether to continue.
//   - ScanAll aggregates keys across rounds until the keyspace is exhausted or the number of rounds is capped.
//     A capped result is partial; callers that need completeness must pick the cap generously.
//
// Cursors are opaque strings. "0" denotes both the beginning and the end of an enumeration.
package redisscan
