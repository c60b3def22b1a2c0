// Package store defines the key-value primitives the cache layer needs from
// its shared backing store.
//
// Implementations MUST be byte-for-byte transparent: Get and MGet return
// exactly the bytes previously written for a key. Every call is a discrete
// round-trip; connectivity errors are returned as-is and never turned into
// misses.
package store

import (
	"context"
	"time"
)

// Store is the primitive set: batched get, set with TTL, set-if-absent,
// set-keep-TTL, delete, atomic increment, set add/members and cursor scan.
// Must be safe for concurrent use.
//
// A ttl <= 0 means "no expiry".
type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// MGet returns one slot per key, in order; a nil slot is a miss.
	MGet(ctx context.Context, keys []string) ([][]byte, error)

	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX writes only when the key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// SetKeepTTL overwrites an existing key and keeps its remaining TTL.
	// It reports false, without writing, when the key is absent.
	SetKeepTTL(ctx context.Context, key string, value []byte) (bool, error)

	// Del removes keys and returns how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)

	// IncrBy atomically adds n to the integer at key (absent counts as 0),
	// keeps any TTL, and returns the new value.
	IncrBy(ctx context.Context, key string, n int64) (int64, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	// Scan walks the keyspace matching a glob pattern. Start with cursor 0;
	// iteration is complete when the returned cursor is 0 again. Keys may be
	// returned more than once.
	Scan(ctx context.Context, cursor uint64, match string, count int64) (keys []string, next uint64, err error)

	// Close releases resources the store owns.
	Close(ctx context.Context) error
}

// Dialer opens a Store for one endpoint address. The caller closes it.
type Dialer func(ctx context.Context, endpoint string) (Store, error)
