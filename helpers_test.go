package cacheaside

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	rs "github.com/unkn0wn-root/cacheaside/store/redis"
)

type user struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// testEnv couples miniredis TTLs with the clock the caches read, so one
// advance moves both.
type testEnv struct {
	mr    *miniredis.Miniredis
	store *rs.Redis

	mu  sync.Mutex
	now time.Time
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	st, err := rs.New(rs.Config{Client: client, CloseClient: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close(context.Background()) })
	return &testEnv{mr: mr, store: st, now: time.Unix(1_700_000_000, 0)}
}

func (e *testEnv) Now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *testEnv) advance(d time.Duration) {
	e.mu.Lock()
	e.now = e.now.Add(d)
	e.mu.Unlock()
	e.mr.FastForward(d)
}

// backend is a fake authoritative store recording every lookup.
type backend struct {
	mu    sync.Mutex
	rows  map[int]user
	calls [][]int
	write []bool
	err   error
	// onLookup runs inside the lookup, before results are returned.
	onLookup func(ids []int)
}

func newBackend(rows ...user) *backend {
	b := &backend{rows: map[int]user{}}
	for _, r := range rows {
		b.rows[r.ID] = r
	}
	return b
}

func (b *backend) lookup(_ context.Context, ids []int, fromWrite bool) (map[int]user, error) {
	b.mu.Lock()
	sorted := append([]int(nil), ids...)
	sort.Ints(sorted)
	b.calls = append(b.calls, sorted)
	b.write = append(b.write, fromWrite)
	hook := b.onLookup
	err := b.err
	out := make(map[int]user)
	for _, id := range ids {
		if r, ok := b.rows[id]; ok {
			out[id] = r
		}
	}
	b.mu.Unlock()
	if hook != nil {
		hook(ids)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *backend) set(r user) {
	b.mu.Lock()
	b.rows[r.ID] = r
	b.mu.Unlock()
}

func (b *backend) remove(id int) {
	b.mu.Lock()
	delete(b.rows, id)
	b.mu.Unlock()
}

func (b *backend) numCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func (b *backend) lastCall() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.calls) == 0 {
		return nil
	}
	return b.calls[len(b.calls)-1]
}

// recHooks counts hook events.
type recHooks struct {
	NopHooks
	mu        sync.Mutex
	malformed []string
	batches   [][2]int
	debounced int
	notFound  int
	contended []bool
	failed    []string
	purged    map[string]int
}

func (h *recHooks) MalformedEntry(k string) {
	h.mu.Lock()
	h.malformed = append(h.malformed, k)
	h.mu.Unlock()
}

func (h *recHooks) BatchFetched(_ string, hits, misses int) {
	h.mu.Lock()
	h.batches = append(h.batches, [2]int{hits, misses})
	h.mu.Unlock()
}

func (h *recHooks) DebounceMiss(_ string, n int) {
	h.mu.Lock()
	h.debounced += n
	h.mu.Unlock()
}

func (h *recHooks) NotFoundCached(_ string, n int) {
	h.mu.Lock()
	h.notFound += n
	h.mu.Unlock()
}

func (h *recHooks) LockContended(_ string, stale bool) {
	h.mu.Lock()
	h.contended = append(h.contended, stale)
	h.mu.Unlock()
}

func (h *recHooks) PopulateFailed(k string) {
	h.mu.Lock()
	h.failed = append(h.failed, k)
	h.mu.Unlock()
}

func (h *recHooks) PurgeCompleted(ep string, n int) {
	h.mu.Lock()
	if h.purged == nil {
		h.purged = map[string]int{}
	}
	h.purged[ep] += n
	h.mu.Unlock()
}

func ids(us []user) []int {
	out := make([]int, len(us))
	for i, u := range us {
		out[i] = u.ID
	}
	sort.Ints(out)
	return out
}
