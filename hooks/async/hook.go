// Package asynchook moves Hooks calls off the cache's hot path onto a small
// worker pool. Events that do not fit in the queue are dropped.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{MalformedEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	users, _ := cacheaside.NewArray(cacheaside.ArrayOptions[int64, User]{
//	    Namespace: "app:prod:user",
//	    Store:     st,
//	    Codec:     codec.JSON[User]{},
//	    ID:        func(u User) int64 { return u.ID },
//	    Lookup:    loadUsers,
//	    Hooks:     hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/cacheaside"
)

type Hooks struct {
	inner   cacheaside.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Uint64
}

var _ cacheaside.Hooks = (*Hooks)(nil)

func New(inner cacheaside.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events fired after
// Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.closed.Store(true)
		close(h.q)
		h.wg.Wait()
	})
}

// Dropped reports how many events were discarded because the queue was
// full or the hooks were closed.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	if h.closed.Load() {
		h.dropped.Add(1)
		return
	}
	defer func() {
		// lost a race with Close
		if recover() != nil {
			h.dropped.Add(1)
		}
	}()
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) MalformedEntry(k string) { h.try(func() { h.inner.MalformedEntry(k) }) }
func (h *Hooks) BatchFetched(ns string, hits, misses int) {
	h.try(func() { h.inner.BatchFetched(ns, hits, misses) })
}
func (h *Hooks) DebounceMiss(ns string, n int)   { h.try(func() { h.inner.DebounceMiss(ns, n) }) }
func (h *Hooks) NotFoundCached(ns string, n int) { h.try(func() { h.inner.NotFoundCached(ns, n) }) }
func (h *Hooks) LockContended(k string, stale bool) {
	h.try(func() { h.inner.LockContended(k, stale) })
}
func (h *Hooks) PopulateFailed(k string)         { h.try(func() { h.inner.PopulateFailed(k) }) }
func (h *Hooks) PurgeCompleted(ep string, n int) { h.try(func() { h.inner.PurgeCompleted(ep, n) }) }
