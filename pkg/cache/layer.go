package cache

import (
	"context"
	"time"
)

// Layer is one tier of the read cache in front of the account store.
// Values are opaque encoded payloads; encoding is the caller's concern.
type Layer interface {
	// Get returns the stored payload, or ErrKeyNotFound on a miss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key for ttl. A zero ttl means the layer default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Name identifies the layer in logs and metrics (e.g. "L1", "L2").
	Name() string

	Close() error
}

// Entry is a stored payload with its expiry.
type Entry struct {
	Value     []byte
	ExpiresAt time.Time
}

// IsExpired reports whether the entry has passed its expiry.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.ExpiresAt)
}

// TimeToLive returns the remaining lifetime, or 0 once expired.
func (e *Entry) TimeToLive() time.Duration {
	if e.IsExpired() {
		return 0
	}
	return time.Until(e.ExpiresAt)
}
