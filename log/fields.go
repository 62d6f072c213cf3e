/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package log

import (
	"time"

	"github.com/ssgreg/logf"
)

// Field hold data of a specific field.
type Field = logf.Field

// Field constructors.
var (
	String   = logf.String
	Strings  = logf.Strings
	Bytes    = logf.Bytes
	Int      = logf.Int
	Int64    = logf.Int64
	Bool     = logf.Bool
	Duration = logf.Duration
	Error    = logf.Error
)

// ResourceKey returns a new Field for the resource key the lease belongs to.
func ResourceKey(key string) Field {
	return String("resource_key", key)
}

// RequestID returns a new Field for the lease (request) identifier.
func RequestID(id string) Field {
	return String("request_id", id)
}

// Mode returns a new Field for the lease counting mode.
func Mode(mode string) Field {
	return String("mode", mode)
}

// LeaseCount returns a new Field for the number of live leases observed by an operation.
func LeaseCount(n int64) Field {
	return Int64("lease_count", n)
}

// DurationIn returns a new Field with the "duration" as key and received duration in unit as value (int64).
func DurationIn(val, unit time.Duration) Field {
	return Int64("duration", val.Nanoseconds()/unit.Nanoseconds())
}
