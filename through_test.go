package cacheaside

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	c "github.com/unkn0wn-root/cacheaside/codec"
	"github.com/unkn0wn-root/cacheaside/internal/wire"
	"github.com/unkn0wn-root/cacheaside/store"
)

func newThrough(t *testing.T, env *testEnv, mod func(*ThroughOptions[string])) *ThroughCache[string] {
	t.Helper()
	opts := ThroughOptions[string]{
		Store:   env.store,
		Codec:   c.String{},
		TTL:     30 * time.Second,
		LockTTL: 400 * time.Millisecond,
		Now:     env.Now,
	}
	if mod != nil {
		mod(&opts)
	}
	tc, err := NewThrough(opts)
	require.NoError(t, err)
	return tc
}

func constFn(v string, calls *atomic.Int32) FetchFunc[string] {
	return func(context.Context) (string, error) {
		calls.Add(1)
		return v, nil
	}
}

func TestThroughFetchCachesWithDoubleTTL(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	tc := newThrough(t, env, nil)
	var calls atomic.Int32

	v, err := tc.Fetch(ctx, "report", constFn("v1", &calls))
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
	assert.Equal(t, 60*time.Second, env.mr.TTL("report"))
	assert.False(t, env.mr.Exists("lock:report"), "lock released")

	v, err = tc.Fetch(ctx, "report", constFn("v2", &calls))
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
	assert.Equal(t, int32(1), calls.Load())
}

func TestThroughRecomputesAfterSoftExpiry(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	tc := newThrough(t, env, nil)
	var calls atomic.Int32

	_, err := tc.Fetch(ctx, "k", constFn("v1", &calls))
	require.NoError(t, err)

	env.advance(31 * time.Second)
	require.True(t, env.mr.Exists("k"), "still inside the 2*ttl store window")
	v, err := tc.Fetch(ctx, "k", constFn("v2", &calls))
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestThroughSingleFlight(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	tc := newThrough(t, env, nil)

	var calls atomic.Int32
	slow := func(context.Context) (string, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return "fresh", nil
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = tc.Fetch(ctx, "agg", slow)
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "fresh", results[i])
	}
}

func TestThroughServesStaleWhileLocked(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	hooks := &recHooks{}
	tc := newThrough(t, env, func(o *ThroughOptions[string]) { o.Hooks = hooks })
	var calls atomic.Int32

	_, err := tc.Fetch(ctx, "k", constFn("old", &calls))
	require.NoError(t, err)
	env.advance(31 * time.Second)

	require.NoError(t, env.mr.Set("lock:k", "someone-else"))
	v, err := tc.Fetch(ctx, "k", constFn("new", &calls))
	require.NoError(t, err)
	assert.Equal(t, "old", v)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []bool{true}, hooks.contended)

	got, _ := env.mr.Get("lock:k")
	assert.Equal(t, "someone-else", got, "foreign lock untouched")
}

func TestThroughBustKeepsValueAndTTL(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	tc := newThrough(t, env, nil)
	var calls atomic.Int32

	_, err := tc.Fetch(ctx, "k", constFn("before", &calls))
	require.NoError(t, err)
	env.advance(10 * time.Second)
	ttlBefore := env.mr.TTL("k")

	require.NoError(t, tc.Bust(ctx, "k"))
	assert.Equal(t, ttlBefore, env.mr.TTL("k"))

	raw, _ := env.mr.Get("k")
	ent, err := wire.Decode([]byte(raw))
	require.NoError(t, err)
	assert.True(t, ent.CachedAt.IsZero())
	assert.Equal(t, "before", string(ent.Payload))

	// a reader that loses the lock race gets the pre-bust value
	require.NoError(t, env.mr.Set("lock:k", "winner"))
	v, err := tc.Fetch(ctx, "k", constFn("after", &calls))
	require.NoError(t, err)
	assert.Equal(t, "before", v)

	env.mr.Del("lock:k")
	v, err = tc.Fetch(ctx, "k", constFn("after", &calls))
	require.NoError(t, err)
	assert.Equal(t, "after", v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestThroughBustMissingAndMalformed(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	tc := newThrough(t, env, nil)

	require.NoError(t, tc.Bust(ctx, "absent"))
	assert.False(t, env.mr.Exists("absent"))

	require.NoError(t, env.mr.Set("junk", "xx"))
	require.NoError(t, tc.Bust(ctx, "junk"))
	assert.False(t, env.mr.Exists("junk"))
}

func TestThroughPopulateError(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	hooks := &recHooks{}
	tc := newThrough(t, env, func(o *ThroughOptions[string]) {
		o.LockTTL = 20 * time.Millisecond
		o.Hooks = hooks
	})
	require.NoError(t, env.mr.Set("lock:k", "held"))
	var calls atomic.Int32

	_, err := tc.Fetch(ctx, "k", constFn("x", &calls), WithRetryCount(0))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPopulate)
	var pe *PopulateError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "k", pe.Key)
	assert.Equal(t, 1, pe.Attempts)

	_, err = tc.Fetch(ctx, "k", constFn("x", &calls), WithRetryCount(2))
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 3, pe.Attempts)
	assert.Zero(t, calls.Load())
	assert.Equal(t, []string{"k", "k"}, hooks.failed)
}

func TestThroughFetchErrorReleasesLock(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	tc := newThrough(t, env, nil)
	boom := errors.New("upstream")

	_, err := tc.Fetch(ctx, "k", func(context.Context) (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrPopulate)
	assert.False(t, env.mr.Exists("lock:k"))
	assert.False(t, env.mr.Exists("k"))
}

func TestThroughWaitHonoursContext(t *testing.T) {
	env := newEnv(t)
	tc := newThrough(t, env, func(o *ThroughOptions[string]) { o.LockTTL = time.Minute })
	require.NoError(t, env.mr.Set("lock:k", "held"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	var calls atomic.Int32
	_, err := tc.Fetch(ctx, "k", constFn("x", &calls))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestThroughPerCallTTL(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	tc := newThrough(t, env, nil)
	var calls atomic.Int32

	_, err := tc.Fetch(ctx, "k", constFn("v", &calls), WithTTL(time.Minute), WithLockTTL(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, env.mr.TTL("k"))
}

func TestNewThroughValidates(t *testing.T) {
	_, err := NewThrough(ThroughOptions[string]{Codec: c.String{}})
	assert.Error(t, err)
	env := newEnv(t)
	_, err = NewThrough(ThroughOptions[string]{Store: env.store})
	assert.Error(t, err)
}

// gatedStore lines two callers up so both read an empty key before either
// takes the lock, and holds the second lock attempt until the first holder
// releases.
type gatedStore struct {
	store.Store
	key      string
	reads    atomic.Int32
	locks    atomic.Int32
	bothRead sync.WaitGroup
	released chan struct{}
	once     sync.Once
}

func newGatedStore(inner store.Store, key string) *gatedStore {
	g := &gatedStore{Store: inner, key: key, released: make(chan struct{})}
	g.bothRead.Add(2)
	return g
}

func (g *gatedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, ok, err := g.Store.Get(ctx, key)
	if key == g.key && g.reads.Add(1) <= 2 {
		g.bothRead.Done()
	}
	return b, ok, err
}

func (g *gatedStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if key == "lock:"+g.key {
		if g.locks.Add(1) == 1 {
			g.bothRead.Wait()
		} else {
			<-g.released
		}
	}
	return g.Store.SetNX(ctx, key, value, ttl)
}

func (g *gatedStore) Del(ctx context.Context, keys ...string) (int64, error) {
	n, err := g.Store.Del(ctx, keys...)
	for _, k := range keys {
		if k == "lock:"+g.key {
			g.once.Do(func() { close(g.released) })
		}
	}
	return n, err
}

func TestThroughLockWinnerRechecksEntry(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	gs := newGatedStore(env.store, "agg")
	tc := newThrough(t, env, func(o *ThroughOptions[string]) { o.Store = gs })

	var calls atomic.Int32
	var wg sync.WaitGroup
	results := make([]string, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = tc.Fetch(ctx, "agg", constFn("fresh", &calls))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(2), gs.locks.Load(), "both callers took the lock")
	for i := 0; i < 2; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "fresh", results[i])
	}
	assert.False(t, env.mr.Exists("lock:agg"))
}
