// Package kv is the TTL-backed key/value persistence the broker keeps its
// pairing and token records in.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for absent or expired keys.
var ErrNotFound = errors.New("kv: key not found")

// Store is a key/value store that enforces per-key TTLs itself.
// A ttl <= 0 stores the value without expiry. Delete of an absent key is not an error.
type Store interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Sweeper is implemented by stores whose expired entries occupy space until purged.
type Sweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}
