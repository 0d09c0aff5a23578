// Package kv provides the client-local key-value media backing the customer
// session slot.
package kv

import (
	"context"
	"time"
)

// Store is a string key-value store with per-key expiry. A ttl <= 0 means
// the key does not expire. Delete of a missing key is not an error.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
