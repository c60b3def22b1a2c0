package cacheaside

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/cacheaside/codec"
	"github.com/unkn0wn-root/cacheaside/internal/util"
	"github.com/unkn0wn-root/cacheaside/store"
)

// ID is the set of identifier types the batch caches and counters accept.
type ID = util.ID

const (
	DefaultTTL          = 30 * time.Second // the "extra-small" entity TTL
	DefaultDebounceTime = 10 * time.Second
	DefaultCounterTTL   = time.Hour
	DefaultLockTTL      = 10 * time.Second
	DefaultRetryCount   = 3

	defaultGetChunk    = 200
	defaultLookupChunk = 10_000
)

// LookupFunc loads a batch of ids from the authoritative store and returns
// only the ones it found. fromWrite asks the adapter to bypass read-replicas.
// It must tolerate being called with up to LookupChunk ids.
type LookupFunc[K ID, V any] func(ctx context.Context, ids []K, fromWrite bool) (map[K]V, error)

// AppendFunc post-processes every Fetch result, e.g. to attach derived
// fields that are not worth caching. It runs once per Fetch.
type AppendFunc[V any] func(ctx context.Context, results []V) ([]V, error)

// ArrayOptions configure an ArrayCache (and the ObjectCache built on it).
// Namespace, Store, Codec, ID and Lookup are required.
type ArrayOptions[K ID, V any] struct {
	Namespace string // key prefix, e.g. "user"
	Store     store.Store
	Codec     c.Codec[V]
	ID        func(V) K // identity of an entity; used to key ObjectCache results
	Lookup    LookupFunc[K, V]

	Append    AppendFunc[V] // optional
	DontCache func(V) bool  // optional veto on writing a fetched value back
	TTL       time.Duration // 0 => DefaultTTL
	Debounce  time.Duration // 0 => DefaultDebounceTime
	// CacheNotFound writes a not-found marker for ids lookup did not return.
	// nil => true.
	CacheNotFound *bool
	GetChunk      int // ids per MGet round-trip; 0 => 200
	LookupChunk   int // ids per Lookup call; 0 => 10000
	WriteParallel int // concurrent write-back round-trips; 0 => 8

	Logger Logger           // nil => NopLogger
	Hooks  Hooks            // nil => NopHooks
	Now    func() time.Time // nil => time.Now
}

// CounterOptions configure a Counter. Namespace and Store are required.
type CounterOptions[K ID] struct {
	Namespace string
	Store     store.Store
	// Fetch computes the authoritative value on a miss; nil => 0.
	Fetch func(ctx context.Context, id K) (int64, error)
	TTL   time.Duration // 0 => DefaultCounterTTL

	Logger Logger
}

// ThroughOptions configure a ThroughCache. Store and Codec are required.
type ThroughOptions[V any] struct {
	Store store.Store
	Codec c.Codec[V]

	TTL        time.Duration // soft TTL; entries live 2*TTL in the store. 0 => DefaultTTL
	LockTTL    time.Duration // 0 => DefaultLockTTL
	RetryCount int           // 0 => DefaultRetryCount; use WithRetryCount(0) per call to disable
	LockPrefix string        // "" => "lock:"

	Logger Logger
	Hooks  Hooks
	Now    func() time.Time
}

// TagOptions configure a TagIndex. Store is required.
type TagOptions struct {
	Store  store.Store
	Prefix string // "" => "tagset:"
	Logger Logger
}

// PurgeOptions configure a Purger. Dial is required when Endpoints is non-empty.
type PurgeOptions struct {
	Endpoints   []string
	Dial        store.Dialer
	ScanCount   int64 // COUNT hint per SCAN call; 0 => 1000
	DeleteBatch int   // keys per DEL; 0 => 10000

	Logger Logger
	Hooks  Hooks
}
