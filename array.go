package cacheaside

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/cacheaside/internal/util"
	"github.com/unkn0wn-root/cacheaside/internal/wire"
	"github.com/unkn0wn-root/cacheaside/store"
)

// ArrayCache loads entities by id through the cache. One instance per entity
// type; safe for concurrent use.
type ArrayCache[K ID, V any] struct {
	ns            string
	store         store.Store
	entries       entries[V]
	id            func(V) K
	lookup        LookupFunc[K, V]
	appendFn      AppendFunc[V]
	dontCache     func(V) bool
	ttl           time.Duration
	debounce      time.Duration
	cacheNotFound bool
	getChunk      int
	lookupChunk   int
	writeParallel int
	log           Logger
	hooks         Hooks
	now           func() time.Time
}

// NewArray validates opts and applies defaults.
func NewArray[K ID, V any](opts ArrayOptions[K, V]) (*ArrayCache[K, V], error) {
	if opts.Store == nil {
		return nil, errNoStore
	}
	if opts.Codec == nil {
		return nil, errNoCodec
	}
	if opts.Namespace == "" {
		return nil, errNoNamespace
	}
	if opts.ID == nil {
		return nil, fmt.Errorf("cacheaside: %s: id func is required", opts.Namespace)
	}
	if opts.Lookup == nil {
		return nil, fmt.Errorf("cacheaside: %s: lookup func is required", opts.Namespace)
	}

	ac := &ArrayCache[K, V]{
		ns:        opts.Namespace,
		store:     opts.Store,
		id:        opts.ID,
		lookup:    opts.Lookup,
		appendFn:  opts.Append,
		dontCache: opts.DontCache,
	}

	// defaults
	ac.log = coalesce[Logger](opts.Logger, NopLogger{})
	ac.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	ac.entries = entries[V]{codec: opts.Codec, log: ac.log, hooks: ac.hooks}
	ac.ttl = coalesce(opts.TTL, DefaultTTL)
	ac.debounce = coalesce(opts.Debounce, DefaultDebounceTime)
	ac.cacheNotFound = deref(opts.CacheNotFound, true)
	ac.getChunk = coalesce(opts.GetChunk, defaultGetChunk)
	ac.lookupChunk = coalesce(opts.LookupChunk, defaultLookupChunk)
	ac.writeParallel = coalesce(opts.WriteParallel, 8)
	if opts.Now != nil {
		ac.now = opts.Now
	} else {
		ac.now = time.Now
	}
	return ac, nil
}

// Namespace returns the key prefix of this cache.
func (ac *ArrayCache[K, V]) Namespace() string { return ac.ns }

func (ac *ArrayCache[K, V]) key(id K) string {
	return util.Key(ac.ns, util.FormatID(id))
}

// peeked is the classification of ids against what the store holds.
type peeked[K ID, V any] struct {
	hits      []V
	hitIDs    []K
	notFound  []K
	debounced []K // live debounce marker: look up, never write back
	missing   []K // absent, malformed, or a debounce marker past its window
	malformed []string
}

func (ac *ArrayCache[K, V]) classify(ctx context.Context, ids []K) (peeked[K, V], error) {
	var p peeked[K, V]
	now := ac.now()
	for _, chunk := range util.Chunk(ids, ac.getChunk) {
		keys := make([]string, len(chunk))
		for i, id := range chunk {
			keys[i] = ac.key(id)
		}
		raws, err := ac.store.MGet(ctx, keys)
		if err != nil {
			return p, fmt.Errorf("cacheaside: %s: mget: %w", ac.ns, err)
		}
		for i, id := range chunk {
			var raw []byte
			if i < len(raws) {
				raw = raws[i]
			}
			if raw == nil {
				p.missing = append(p.missing, id)
				continue
			}
			ent, v, ok := ac.entries.decode(keys[i], raw)
			switch {
			case !ok:
				p.missing = append(p.missing, id)
				p.malformed = append(p.malformed, keys[i])
			case ent.NotFound():
				p.notFound = append(p.notFound, id)
			case ent.Debounce():
				if now.Sub(ent.CachedAt) < ac.debounce {
					p.debounced = append(p.debounced, id)
				} else {
					p.missing = append(p.missing, id)
				}
			default:
				p.hits = append(p.hits, v)
				p.hitIDs = append(p.hitIDs, id)
			}
		}
	}
	return p, nil
}

// Fetch returns the entities for ids, in no particular order. Ids with a
// cached not-found marker, or that lookup does not return, are absent from
// the result. Lookup and store errors are returned unchanged in the chain.
func (ac *ArrayCache[K, V]) Fetch(ctx context.Context, ids ...K) ([]V, error) {
	ids = util.Dedup(ids)
	if len(ids) == 0 {
		return []V{}, nil
	}

	p, err := ac.classify(ctx, ids)
	if err != nil {
		return nil, err
	}
	results := make([]V, 0, len(ids))
	results = append(results, p.hits...)

	misses := make([]K, 0, len(p.debounced)+len(p.missing))
	misses = append(misses, p.debounced...)
	misses = append(misses, p.missing...)
	ac.hooks.BatchFetched(ac.ns, len(p.hits)+len(p.notFound), len(misses))

	// unreadable entries would block the SETNX of a not-found marker
	if len(p.malformed) > 0 {
		if _, err := ac.store.Del(ctx, p.malformed...); err != nil {
			return nil, fmt.Errorf("cacheaside: %s: del malformed: %w", ac.ns, err)
		}
		ac.log.Warn("malformed entries deleted", Fields{"ns": ac.ns, "count": len(p.malformed)})
	}

	if len(misses) > 0 {
		found, err := ac.lookupAll(ctx, misses, false)
		if err != nil {
			return nil, err
		}
		dontCache := make(map[K]struct{}, len(p.debounced))
		for _, id := range p.debounced {
			dontCache[id] = struct{}{}
		}
		if len(p.debounced) > 0 {
			ac.hooks.DebounceMiss(ac.ns, len(p.debounced))
			ac.log.Debug("debounced ids looked up without write-back", Fields{"ns": ac.ns, "count": len(p.debounced)})
		}
		for _, id := range misses {
			if v, ok := found[id]; ok {
				results = append(results, v)
			}
		}
		if err := ac.writeBack(ctx, misses, found, dontCache); err != nil {
			return nil, err
		}
	}

	if ac.appendFn != nil {
		results, err = ac.appendFn(ctx, results)
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// Peek reports what the store holds for ids without calling lookup.
// Debounced and malformed entries are reported as missing.
func (ac *ArrayCache[K, V]) Peek(ctx context.Context, ids ...K) (hits map[K]V, notFound []K, missing []K, err error) {
	p, err := ac.classify(ctx, util.Dedup(ids))
	if err != nil {
		return nil, nil, nil, err
	}
	hits = make(map[K]V, len(p.hits))
	for i, v := range p.hits {
		hits[p.hitIDs[i]] = v
	}
	missing = append(p.debounced, p.missing...)
	return hits, p.notFound, missing, nil
}

func (ac *ArrayCache[K, V]) lookupAll(ctx context.Context, ids []K, fromWrite bool) (map[K]V, error) {
	found := make(map[K]V, len(ids))
	for _, chunk := range util.Chunk(ids, ac.lookupChunk) {
		m, err := ac.lookup(ctx, chunk, fromWrite)
		if err != nil {
			return nil, err
		}
		for k, v := range m {
			found[k] = v
		}
	}
	return found, nil
}

// writeBack persists lookup results for missed ids. Values are overwritten;
// not-found markers are created only where nothing exists, so they never
// clobber a concurrent write or a debounce marker.
func (ac *ArrayCache[K, V]) writeBack(ctx context.Context, misses []K, found map[K]V, dontCache map[K]struct{}) error {
	type write struct {
		key    string
		b      []byte
		marker bool
	}

	// encode everything before the first store write so a codec error
	// leaves the batch untouched
	now := ac.now()
	var writes []write
	var notFound int
	var skipped int
	for _, id := range misses {
		if _, skip := dontCache[id]; skip {
			continue
		}
		key := ac.key(id)
		v, ok := found[id]
		switch {
		case ok && ac.dontCache != nil && ac.dontCache(v):
			skipped++
		case ok:
			b, err := ac.entries.encode(v, now)
			if err != nil {
				return fmt.Errorf("cacheaside: %s: encode %s: %w", ac.ns, key, err)
			}
			writes = append(writes, write{key: key, b: b})
		case ac.cacheNotFound:
			notFound++
			writes = append(writes, write{key: key, b: wire.EncodeNotFound(now), marker: true})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ac.writeParallel)
	for _, w := range writes {
		w := w
		g.Go(func() error {
			if w.marker {
				if _, err := ac.store.SetNX(gctx, w.key, w.b, ac.ttl); err != nil {
					return fmt.Errorf("cacheaside: %s: setnx %s: %w", ac.ns, w.key, err)
				}
				return nil
			}
			if err := ac.store.Set(gctx, w.key, w.b, ac.ttl); err != nil {
				return fmt.Errorf("cacheaside: %s: set %s: %w", ac.ns, w.key, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if notFound > 0 {
		ac.hooks.NotFoundCached(ac.ns, notFound)
		ac.log.Debug("not-found markers written", Fields{"ns": ac.ns, "count": notFound})
	}
	if skipped > 0 {
		ac.log.Debug("write-back vetoed by DontCache", Fields{"ns": ac.ns, "count": skipped})
	}
	return nil
}

// Bust replaces the entries for ids with debounce markers that live for the
// configured debounce time. Until a marker expires, Fetch looks the id up
// on every call and never writes the result back.
func (ac *ArrayCache[K, V]) Bust(ctx context.Context, ids ...K) error {
	return ac.BustWithin(ctx, ac.debounce, ids...)
}

// BustWithin is Bust with a per-call marker lifetime. d <= 0 uses the
// configured debounce time.
func (ac *ArrayCache[K, V]) BustWithin(ctx context.Context, d time.Duration, ids ...K) error {
	if d <= 0 {
		d = ac.debounce
	}
	marker := wire.EncodeDebounce(ac.now())
	for _, id := range util.Dedup(ids) {
		if err := ac.store.Set(ctx, ac.key(id), marker, d); err != nil {
			return fmt.Errorf("cacheaside: %s: bust %v: %w", ac.ns, id, err)
		}
	}
	return nil
}

// Refresh reloads ids from the primary (lookup with fromWrite=true) and
// overwrites their entries without any veto. Ids lookup no longer returns
// are deleted from the cache.
func (ac *ArrayCache[K, V]) Refresh(ctx context.Context, ids ...K) error {
	ids = util.Dedup(ids)
	if len(ids) == 0 {
		return nil
	}
	found, err := ac.lookupAll(ctx, ids, true)
	if err != nil {
		return err
	}
	now := ac.now()
	var gone []string
	for _, id := range ids {
		key := ac.key(id)
		v, ok := found[id]
		if !ok {
			gone = append(gone, key)
			continue
		}
		b, err := ac.entries.encode(v, now)
		if err != nil {
			return fmt.Errorf("cacheaside: %s: encode %s: %w", ac.ns, key, err)
		}
		if err := ac.store.Set(ctx, key, b, ac.ttl); err != nil {
			return fmt.Errorf("cacheaside: %s: set %s: %w", ac.ns, key, err)
		}
	}
	if len(gone) > 0 {
		if _, err := ac.store.Del(ctx, gone...); err != nil {
			return fmt.Errorf("cacheaside: %s: del: %w", ac.ns, err)
		}
		ac.log.Debug("refresh removed ids missing upstream", Fields{"ns": ac.ns, "count": len(gone)})
	}
	return nil
}
