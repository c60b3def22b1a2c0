// Package cacheaside is a cache-aside consistency layer in front of a slow
// authoritative store, backed by a shared key-value cache (see package store).
//
// Components:
//   - ArrayCache[K, V]: batch loader for ids, with not-found caching and
//     debounce markers that keep a lagging read-replica from re-poisoning
//     the cache right after an invalidation.
//   - ObjectCache[K, V]: ArrayCache results keyed by entity id.
//   - Counter[K]: lazily populated integer counters.
//   - ThroughCache[V]: one expensive value behind a store-held lock, with
//     stale-while-revalidate and invalidate-without-eviction.
//   - TagIndex: grouped invalidation of arbitrary keys by tag.
//   - Purger: glob-pattern deletion across every configured store endpoint.
//
// Keys:
//
//	<ns>:<id>      - ArrayCache/ObjectCache entries and Counter values
//	lock:<key>     - ThroughCache recompute lock
//	tagset:<tag>   - TagIndex member sets
//
// The layer holds no in-process locks; all coordination goes through the
// store. Store errors are never masked as misses.
//
// Invalidate-then-read pattern:
//
//	_ = users.Bust(ctx, 42)           // after writing user 42 to the primary
//	us, _ := users.Fetch(ctx, 42)     // served from lookup, not written back
package cacheaside
