package bigcache

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*Store, *clock) {
	t.Helper()
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	s, err := New(Config{LifeWindow: time.Hour, MaxEntriesInWindow: 1024, MaxEntrySize: 256, Now: clk.Now})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, clk
}

func TestGetSetExpiry(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestStore(t)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 2*time.Second))
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	clk.Advance(3 * time.Second)
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMGet(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, s.SAdd(ctx, "set", "m"))

	vals, err := s.MGet(ctx, []string{"a", "missing", "set"})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("1"), nil, nil}, vals)
}

func TestSetNXRespectsExpiry(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestStore(t)

	ok, err := s.SetNX(ctx, "lock", []byte("1"), time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, "lock", []byte("2"), time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	clk.Advance(2 * time.Second)
	ok, err = s.SetNX(ctx, "lock", []byte("3"), time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSetKeepTTL(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestStore(t)

	ok, err := s.SetKeepTTL(ctx, "absent", []byte("x"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", []byte("old"), 10*time.Second))
	clk.Advance(6 * time.Second)
	ok, err = s.SetKeepTTL(ctx, "k", []byte("new"))
	require.NoError(t, err)
	assert.True(t, ok)

	v, _, _ := s.Get(ctx, "k")
	assert.Equal(t, []byte("new"), v)

	clk.Advance(5 * time.Second)
	_, ok, _ = s.Get(ctx, "k")
	assert.False(t, ok, "keep-ttl write must not extend the original deadline")
}

func TestIncrBy(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	n, err := s.IncrBy(ctx, "c", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.IncrBy(ctx, "c", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	require.NoError(t, s.Set(ctx, "text", []byte("abc"), 0))
	_, err = s.IncrBy(ctx, "text", 1)
	assert.Error(t, err)

	require.NoError(t, s.SAdd(ctx, "set", "x"))
	_, err = s.IncrBy(ctx, "set", 1)
	assert.ErrorIs(t, err, ErrWrongType)
}

func TestSetsAndDel(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.SAdd(ctx, "tags", "k1", "k2"))
	require.NoError(t, s.SAdd(ctx, "tags", "k2", "k3"))
	members, err := s.SMembers(ctx, "tags")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"k1", "k2", "k3"}, members)

	_, _, err = s.Get(ctx, "tags")
	assert.ErrorIs(t, err, ErrWrongType)

	n, err := s.Del(ctx, "tags", "nope")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	members, err = s.SMembers(ctx, "tags")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestScan(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestStore(t)

	require.NoError(t, s.Set(ctx, "user:1", []byte("x"), 0))
	require.NoError(t, s.Set(ctx, "user:2", []byte("x"), time.Second))
	require.NoError(t, s.Set(ctx, "order:1", []byte("x"), 0))

	keys, next, err := s.Scan(ctx, 0, "user:*", 100)
	require.NoError(t, err)
	assert.Zero(t, next)
	sort.Strings(keys)
	assert.Equal(t, []string{"user:1", "user:2"}, keys)

	clk.Advance(2 * time.Second)
	keys, _, err = s.Scan(ctx, 0, "user:*", 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"user:1"}, keys)

	_, _, err = s.Scan(ctx, 0, "[", 100)
	assert.Error(t, err)
}
