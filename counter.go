package cacheaside

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/unkn0wn-root/cacheaside/internal/util"
	"github.com/unkn0wn-root/cacheaside/store"
)

// Counter keeps lazily populated integer counters at "<namespace>:<id>".
//
// A stored 0 reads the same as no entry and sends Get back to Fetch, so a
// counter whose true value is 0 is refetched on every read. IncrementBy
// returns the value Get saw plus amount, not the store's post-increment
// value; under concurrent increments the two can differ.
type Counter[K ID] struct {
	ns    string
	store store.Store
	fetch func(ctx context.Context, id K) (int64, error)
	ttl   time.Duration
	log   Logger
}

// NewCounter requires Namespace and Store; Fetch is optional.
func NewCounter[K ID](opts CounterOptions[K]) (*Counter[K], error) {
	if opts.Store == nil {
		return nil, errNoStore
	}
	if opts.Namespace == "" {
		return nil, errNoNamespace
	}
	return &Counter[K]{
		ns:    opts.Namespace,
		store: opts.Store,
		fetch: opts.Fetch,
		ttl:   coalesce(opts.TTL, DefaultCounterTTL),
		log:   coalesce[Logger](opts.Logger, NopLogger{}),
	}, nil
}

func (c *Counter[K]) key(id K) string {
	return util.Key(c.ns, util.FormatID(id))
}

// Get returns the counter, populating it from Fetch when absent or zero.
func (c *Counter[K]) Get(ctx context.Context, id K) (int64, error) {
	key := c.key(id)
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("cacheaside: counter %s: get: %w", key, err)
	}
	if ok {
		n, perr := strconv.ParseInt(string(raw), 10, 64)
		if perr != nil {
			c.log.Warn("unreadable counter treated as absent", Fields{"key": key, "err": perr})
		} else if n != 0 {
			return n, nil
		}
	}

	var n int64
	if c.fetch != nil {
		n, err = c.fetch(ctx, id)
		if err != nil {
			return 0, err
		}
	}
	if err := c.store.Set(ctx, key, []byte(strconv.FormatInt(n, 10)), c.ttl); err != nil {
		return 0, fmt.Errorf("cacheaside: counter %s: set: %w", key, err)
	}
	return n, nil
}

// IncrementBy populates the counter if needed, then adds amount atomically
// in the store. The result is the pre-increment read plus amount.
func (c *Counter[K]) IncrementBy(ctx context.Context, id K, amount int64) (int64, error) {
	cur, err := c.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	key := c.key(id)
	if _, err := c.store.IncrBy(ctx, key, amount); err != nil {
		return 0, fmt.Errorf("cacheaside: counter %s: incrby: %w", key, err)
	}
	return cur + amount, nil
}

// Increment is IncrementBy(ctx, id, 1).
func (c *Counter[K]) Increment(ctx context.Context, id K) (int64, error) {
	return c.IncrementBy(ctx, id, 1)
}

// Clear deletes the counter; the next Get repopulates it.
func (c *Counter[K]) Clear(ctx context.Context, id K) error {
	key := c.key(id)
	if _, err := c.store.Del(ctx, key); err != nil {
		return fmt.Errorf("cacheaside: counter %s: del: %w", key, err)
	}
	return nil
}
