package cacheaside

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/cacheaside/internal/wire"
	"github.com/unkn0wn-root/cacheaside/store"
)

// ThroughCache guards one expensive computation per key with a lock held in
// the store. An entry is fresh for TTL and kept for 2*TTL, so a caller that
// loses the lock race can serve the previous value while the winner
// recomputes.
type ThroughCache[V any] struct {
	store      store.Store
	entries    entries[V]
	ttl        time.Duration
	lockTTL    time.Duration
	retries    int
	lockPrefix string
	log        Logger
	hooks      Hooks
	now        func() time.Time
}

// NewThrough requires Store and Codec.
func NewThrough[V any](opts ThroughOptions[V]) (*ThroughCache[V], error) {
	if opts.Store == nil {
		return nil, errNoStore
	}
	if opts.Codec == nil {
		return nil, errNoCodec
	}
	tc := &ThroughCache[V]{
		store:      opts.Store,
		ttl:        coalesce(opts.TTL, DefaultTTL),
		lockTTL:    coalesce(opts.LockTTL, DefaultLockTTL),
		retries:    coalesce(opts.RetryCount, DefaultRetryCount),
		lockPrefix: coalesce(opts.LockPrefix, "lock:"),
		log:        coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:      coalesce[Hooks](opts.Hooks, NopHooks{}),
		now:        opts.Now,
	}
	if tc.retries < 0 {
		tc.retries = 0
	}
	if tc.now == nil {
		tc.now = time.Now
	}
	tc.entries = entries[V]{codec: opts.Codec, log: tc.log, hooks: tc.hooks}
	return tc, nil
}

// FetchOption overrides ThroughCache settings for one Fetch call.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	ttl     time.Duration
	lockTTL time.Duration
	retries int
}

func WithTTL(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		if d > 0 {
			c.ttl = d
		}
	}
}

func WithLockTTL(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		if d > 0 {
			c.lockTTL = d
		}
	}
}

// WithRetryCount sets how many times a caller that finds neither a fresh
// value, a stale value nor a free lock sleeps LockTTL/2 and tries again.
// 0 fails on the first contended attempt.
func WithRetryCount(n int) FetchOption {
	return func(c *fetchConfig) {
		if n >= 0 {
			c.retries = n
		}
	}
}

// FetchFunc computes the value on a miss. It may run concurrently in other
// processes racing for the same lock.
type FetchFunc[V any] func(ctx context.Context) (V, error)

func (tc *ThroughCache[V]) lockKey(key string) string { return tc.lockPrefix + key }

// Fetch returns the value at key, recomputing it with fn when it is missing
// or older than TTL. Only the caller holding the lock runs fn. Others return
// the stale value when there is one, or wait and retry. When retries run
// out with nothing to serve the error matches ErrPopulate. Errors from fn
// are returned as-is.
func (tc *ThroughCache[V]) Fetch(ctx context.Context, key string, fn FetchFunc[V], opts ...FetchOption) (V, error) {
	var zero V
	cfg := fetchConfig{ttl: tc.ttl, lockTTL: tc.lockTTL, retries: tc.retries}
	for _, o := range opts {
		o(&cfg)
	}

	for attempt := 1; ; attempt++ {
		v, present, expired, err := tc.read(ctx, key, cfg.ttl)
		if err != nil {
			return zero, err
		}
		if !expired {
			return v, nil
		}

		token := uuid.NewString()
		locked, err := tc.store.SetNX(ctx, tc.lockKey(key), []byte(token), cfg.lockTTL)
		if err != nil {
			return zero, fmt.Errorf("cacheaside: lock %s: %w", key, err)
		}
		if locked {
			return tc.populate(ctx, key, token, fn, cfg.ttl)
		}

		if present {
			tc.hooks.LockContended(key, true)
			tc.log.Debug("lock held elsewhere; serving stale value", Fields{"key": key})
			return v, nil
		}
		tc.hooks.LockContended(key, false)
		if cfg.retries == 0 {
			tc.hooks.PopulateFailed(key)
			tc.log.Warn("could not populate cache", Fields{"key": key, "attempts": attempt})
			return zero, &PopulateError{Key: key, Attempts: attempt}
		}
		cfg.retries--
		tc.log.Debug("lock held elsewhere; waiting", Fields{"key": key, "retries_left": cfg.retries})
		if err := sleep(ctx, cfg.lockTTL/2); err != nil {
			return zero, err
		}
	}
}

// read loads the entry at key. present is false for absent or malformed
// entries; expired is true for those and for values older than ttl.
func (tc *ThroughCache[V]) read(ctx context.Context, key string, ttl time.Duration) (v V, present, expired bool, err error) {
	raw, ok, err := tc.store.Get(ctx, key)
	if err != nil {
		return v, false, false, fmt.Errorf("cacheaside: get %s: %w", key, err)
	}
	if !ok {
		return v, false, true, nil
	}
	ent, v, ok := tc.entries.decode(key, raw)
	if !ok || ent.Kind != wire.KindValue {
		return v, false, true, nil
	}
	if ent.CachedAt.IsZero() || tc.now().Sub(ent.CachedAt) > ttl {
		return v, true, true, nil
	}
	return v, true, false, nil
}

func (tc *ThroughCache[V]) populate(ctx context.Context, key, token string, fn FetchFunc[V], ttl time.Duration) (V, error) {
	defer tc.unlock(context.WithoutCancel(ctx), key, token)

	var zero V
	// the previous holder may have stored a value between our read and SetNX
	cur, _, expired, err := tc.read(ctx, key, ttl)
	if err != nil {
		return zero, err
	}
	if !expired {
		tc.log.Debug("value refreshed before lock was acquired", Fields{"key": key})
		return cur, nil
	}

	v, err := fn(ctx)
	if err != nil {
		return zero, err
	}
	b, err := tc.entries.encode(v, tc.now())
	if err != nil {
		return zero, fmt.Errorf("cacheaside: encode %s: %w", key, err)
	}
	if err := tc.store.Set(ctx, key, b, 2*ttl); err != nil {
		return zero, fmt.Errorf("cacheaside: set %s: %w", key, err)
	}
	return v, nil
}

// unlock deletes the lock if it still carries our token. A lock that
// expired while fn ran and was taken by another caller is left alone.
func (tc *ThroughCache[V]) unlock(ctx context.Context, key, token string) {
	lk := tc.lockKey(key)
	held, ok, err := tc.store.Get(ctx, lk)
	if err != nil {
		tc.log.Error("lock release failed", Fields{"key": lk, "err": err})
		return
	}
	if !ok || !bytes.Equal(held, []byte(token)) {
		tc.log.Debug("lock expired before release", Fields{"key": lk})
		return
	}
	if _, err := tc.store.Del(ctx, lk); err != nil {
		tc.log.Error("lock release failed", Fields{"key": lk, "err": err})
	}
}

// Bust marks the entry at key as expired without evicting it: the payload
// stays, cachedAt is cleared and the store TTL is kept. The next Fetch
// recomputes while losers of the lock race keep getting the old value.
// A missing key is a no-op; an unreadable entry is deleted.
func (tc *ThroughCache[V]) Bust(ctx context.Context, key string) error {
	raw, ok, err := tc.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("cacheaside: get %s: %w", key, err)
	}
	if !ok {
		return nil
	}
	ent, err := wire.Decode(raw)
	if err != nil || ent.Kind != wire.KindValue {
		tc.log.Warn("malformed entry deleted on bust", Fields{"key": key})
		if _, err := tc.store.Del(ctx, key); err != nil {
			return fmt.Errorf("cacheaside: del %s: %w", key, err)
		}
		return nil
	}
	if _, err := tc.store.SetKeepTTL(ctx, key, wire.EncodeValue(time.Time{}, ent.Payload)); err != nil {
		return fmt.Errorf("cacheaside: bust %s: %w", key, err)
	}
	return nil
}
