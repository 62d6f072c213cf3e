/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package redisstore creates the Redis client shared by all concurrency limiter components.
// The connection is verified with PING on start, retrying with exponential backoff,
// so the service may be started before Redis becomes reachable.
package redisstore
