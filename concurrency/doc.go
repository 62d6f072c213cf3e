/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package concurrency provides a distributed concurrency-admission limiter backed by Redis.
//
// For every resource key, LeaseManager tracks how many requests are in flight by issuing leases.
// Leases are counted by one of two interchangeable strategies:
//   - OrderedSetStrategy ("zset" mode) keeps all leases of a resource key in one sorted set
//     scored by expiry and mutates it by Lua scripts, so admit/release/count are single atomic steps.
//   - IndependentKeyStrategy ("slots" mode) keeps every lease as its own key with a native TTL
//     and counts leases by SCAN.
//
// The active mode is read from SwitchStateProvider on every call and is never cached.
// Switching is done without downtime: RedisSwitchBoard.BeginSwitch freezes admissions (Admit returns FrozenCount)
// while leases of the old representation drain, then the target mode becomes active.
// Leases are never converted between representations.
//
// OverviewAggregator builds a paginated per-resource report, and Cleaner periodically removes
// expired leases and empty tracking keys using two pipelines per run.
package concurrency
