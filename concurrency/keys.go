/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package concurrency

import (
	"errors"
	"fmt"
	"strings"
)

// Default values of the persisted key layout.
const (
	DefaultKeyPrefix      = "concurrency:"
	DefaultLeaseDelimiter = ":req:"
)

// ErrInvalidKey is returned when a resource key or a request ID cannot be encoded into the persisted key layout.
var ErrInvalidKey = errors.New("invalid key")

// KeyLayout describes how resource keys and leases are named in Redis.
//
// Tracking key (zset mode): <Prefix><ResourceKey>.
// Lease key (slots mode): <Prefix><ResourceKey><Delimiter><RequestID>.
type KeyLayout struct {
	Prefix    string
	Delimiter string
}

// DefaultKeyLayout returns the key layout with default prefix and delimiter.
func DefaultKeyLayout() KeyLayout {
	return KeyLayout{Prefix: DefaultKeyPrefix, Delimiter: DefaultLeaseDelimiter}
}

// ValidateResourceKey checks that the resource key may be embedded into key names.
// The delimiter must first occur right after the resource key in <ResourceKey><Delimiter>,
// so a lease key always parses back into the same resource key.
func (l KeyLayout) ValidateResourceKey(resourceKey string) error {
	if resourceKey == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.Index(resourceKey+l.Delimiter, l.Delimiter) != len(resourceKey) {
		return fmt.Errorf("%w: %q overlaps delimiter %q", ErrInvalidKey, resourceKey, l.Delimiter)
	}
	return nil
}

// ValidateRequestID checks that the request ID may be embedded into a lease key.
// The delimiter must occur in <Delimiter><RequestID> only at its start.
func (l KeyLayout) ValidateRequestID(requestID string) error {
	if requestID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.LastIndex(l.Delimiter+requestID, l.Delimiter) != 0 {
		return fmt.Errorf("%w: %q overlaps delimiter %q", ErrInvalidKey, requestID, l.Delimiter)
	}
	return nil
}

// TrackingKey returns the name of the ordered set that tracks leases of the resource key.
func (l KeyLayout) TrackingKey(resourceKey string) string {
	return l.Prefix + resourceKey
}

// LeaseKey returns the name of the independent key that represents a single lease.
func (l KeyLayout) LeaseKey(resourceKey, requestID string) string {
	return l.Prefix + resourceKey + l.Delimiter + requestID
}

// LeasePattern returns the SCAN pattern that matches all lease keys of the resource key.
func (l KeyLayout) LeasePattern(resourceKey string) string {
	return EscapeGlob(l.Prefix+resourceKey+l.Delimiter) + "*"
}

// TrackingPattern returns the SCAN pattern that matches every key of the layout (both representations).
func (l KeyLayout) TrackingPattern() string {
	return EscapeGlob(l.Prefix) + "*"
}

// IsTrackingKey reports whether the key has the shape of a resource tracking key (not a lease key).
func (l KeyLayout) IsTrackingKey(key string) bool {
	return strings.HasPrefix(key, l.Prefix) && len(key) > len(l.Prefix) && !strings.Contains(key[len(l.Prefix):], l.Delimiter)
}

// ResourceKeyOf extracts the resource key from the tracking key.
func (l KeyLayout) ResourceKeyOf(trackingKey string) string {
	return strings.TrimPrefix(trackingKey, l.Prefix)
}

// ParseLeaseKey splits the lease key into the resource key and the request ID.
// The ok result is false if the key does not have the lease key shape.
func (l KeyLayout) ParseLeaseKey(key string) (resourceKey, requestID string, ok bool) {
	if !strings.HasPrefix(key, l.Prefix) {
		return "", "", false
	}
	rest := key[len(l.Prefix):]
	idx := strings.Index(rest, l.Delimiter)
	if idx <= 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+len(l.Delimiter):], true
}

// EscapeGlob escapes characters that have a special meaning in Redis MATCH patterns.
func EscapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
