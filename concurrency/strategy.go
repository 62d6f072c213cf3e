/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package concurrency

import (
	"context"
	"time"
)

// Strategy is a lease counting representation.
// The now argument is the authoritative server time taken from SwitchState.
// Every method returning a count performs the mutation and the count as a single atomic step where the
// representation allows it.
type Strategy interface {
	// Admit inserts or refreshes the lease and returns the live count including it.
	Admit(ctx context.Context, now time.Time, resourceKey, requestID string, ttl time.Duration) (int64, error)

	// Release removes the lease (no-op if it does not exist) and returns the resulting live count.
	Release(ctx context.Context, now time.Time, resourceKey, requestID string) (int64, error)

	// Count returns the number of live leases.
	Count(ctx context.Context, now time.Time, resourceKey string) (int64, error)

	// Refresh extends the expiry of an existing live lease. It returns false if there is no such lease.
	Refresh(ctx context.Context, now time.Time, resourceKey, requestID string, ttl time.Duration) (bool, error)
}
