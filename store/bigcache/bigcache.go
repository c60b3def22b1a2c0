// Package bigcache is an in-process store.Store on allegro/bigcache, for
// single-instance deployments and local development. It gives no sharing
// across processes; the distributed lock and debounce markers only protect
// callers inside the same process.
//
// Entries are framed as expiry(i64 be, unix ns; 0 = none) | type(1) | data.
// BigCache itself only knows a global LifeWindow, which acts as an upper
// bound on every TTL; per-entry TTLs are enforced on read.
package bigcache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path"
	"strconv"
	"sync"
	"time"

	bc "github.com/allegro/bigcache/v3"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/cacheaside/store"
)

var ErrWrongType = errors.New("bigcache store: operation against a key holding the wrong kind of value")

const (
	typeString byte = 1
	typeSet    byte = 2
	frameHdr        = 8 + 1
)

type Store struct {
	c   *bc.BigCache
	now func() time.Time
	// read-modify-write primitives (SetNX, SetKeepTTL, IncrBy, SAdd) must be atomic
	mu sync.RWMutex
}

var _ store.Store = (*Store)(nil)

type Config struct {
	LifeWindow         time.Duration // upper bound for any TTL; 0 => 24h
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int              // ~ memory limit; 0 = unlimited
	Now                func() time.Time // nil => time.Now
}

func New(cfg Config) (*Store, error) {
	life := cfg.LifeWindow
	if life <= 0 {
		life = 24 * time.Hour
	}
	conf := bc.DefaultConfig(life)
	conf.Verbose = false
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	// bigcache preallocates MaxEntriesInWindow*MaxEntrySize up front; its own
	// default (600k entries) reserves ~300MB
	conf.MaxEntriesInWindow = 10_000
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.New(context.Background(), conf)
	if err != nil {
		return nil, err
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{c: c, now: now}, nil
}

type entry struct {
	expiry int64
	typ    byte
	data   []byte
}

func (s *Store) frame(e entry) []byte {
	b := make([]byte, frameHdr+len(e.data))
	binary.BigEndian.PutUint64(b[:8], uint64(e.expiry))
	b[8] = e.typ
	copy(b[frameHdr:], e.data)
	return b
}

func (s *Store) deadline(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return s.now().Add(ttl).UnixNano()
}

// load returns the live entry at key; expired entries read as absent.
// Caller holds mu.
func (s *Store) load(key string) (entry, bool, error) {
	b, err := s.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return entry{}, false, nil
	}
	if err != nil {
		return entry{}, false, err
	}
	if len(b) < frameHdr {
		return entry{}, false, nil
	}
	e := entry{
		expiry: int64(binary.BigEndian.Uint64(b[:8])),
		typ:    b[8],
		data:   b[frameHdr:],
	}
	if e.expiry != 0 && s.now().UnixNano() >= e.expiry {
		return entry{}, false, nil
	}
	return e, true, nil
}

func (s *Store) loadString(key string) ([]byte, bool, error) {
	e, ok, err := s.load(key)
	if err != nil || !ok {
		return nil, false, err
	}
	if e.typ != typeString {
		return nil, false, ErrWrongType
	}
	return e.data, true, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadString(key)
}

func (s *Store) MGet(_ context.Context, keys []string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([][]byte, len(keys))
	for i, k := range keys {
		e, ok, err := s.load(k)
		if err != nil {
			return nil, err
		}
		// like MGET, non-string values read as misses
		if ok && e.typ == typeString {
			out[i] = e.data
		}
	}
	return out, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.Set(key, s.frame(entry{expiry: s.deadline(ttl), typ: typeString, data: value}))
}

func (s *Store) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok, err := s.load(key)
	if err != nil || ok {
		return false, err
	}
	if err := s.c.Set(key, s.frame(entry{expiry: s.deadline(ttl), typ: typeString, data: value})); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) SetKeepTTL(_ context.Context, key string, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok, err := s.load(key)
	if err != nil || !ok {
		return false, err
	}
	if err := s.c.Set(key, s.frame(entry{expiry: e.expiry, typ: typeString, data: value})); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Del(_ context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, k := range keys {
		_, ok, err := s.load(k)
		if err != nil {
			return n, err
		}
		if err := s.c.Delete(k); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (s *Store) IncrBy(_ context.Context, key string, n int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok, err := s.load(key)
	if err != nil {
		return 0, err
	}
	var cur int64
	if ok {
		if e.typ != typeString {
			return 0, ErrWrongType
		}
		cur, err = strconv.ParseInt(string(e.data), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bigcache store: value at %q is not an integer", key)
		}
	}
	cur += n
	next := entry{expiry: e.expiry, typ: typeString, data: []byte(strconv.FormatInt(cur, 10))}
	if err := s.c.Set(key, s.frame(next)); err != nil {
		return 0, err
	}
	return cur, nil
}

func (s *Store) members(key string) ([]string, entry, error) {
	e, ok, err := s.load(key)
	if err != nil || !ok {
		return nil, entry{}, err
	}
	if e.typ != typeSet {
		return nil, entry{}, ErrWrongType
	}
	var out []string
	if err := msgpack.Unmarshal(e.data, &out); err != nil {
		return nil, entry{}, fmt.Errorf("bigcache store: decode set %q: %w", key, err)
	}
	return out, e, nil
}

func (s *Store) SAdd(_ context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, e, err := s.members(key)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(cur)+len(members))
	for _, m := range cur {
		seen[m] = struct{}{}
	}
	for _, m := range members {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		cur = append(cur, m)
	}
	data, err := msgpack.Marshal(cur)
	if err != nil {
		return err
	}
	return s.c.Set(key, s.frame(entry{expiry: e.expiry, typ: typeSet, data: data}))
}

func (s *Store) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, _, err := s.members(key)
	return out, err
}

// Scan walks the whole cache in one call and always returns cursor 0.
// Patterns use path.Match syntax, which agrees with redis globs except that
// '*' does not cross '/'.
func (s *Store) Scan(_ context.Context, _ uint64, match string, _ int64) ([]string, uint64, error) {
	if _, err := path.Match(match, ""); err != nil {
		return nil, 0, fmt.Errorf("bigcache store: bad pattern %q: %w", match, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now().UnixNano()
	var keys []string
	it := s.c.Iterator()
	for it.SetNext() {
		info, err := it.Value()
		if err != nil {
			// entry evicted mid-iteration
			continue
		}
		b := info.Value()
		if len(b) < frameHdr {
			continue
		}
		if exp := int64(binary.BigEndian.Uint64(b[:8])); exp != 0 && now >= exp {
			continue
		}
		if ok, _ := path.Match(match, info.Key()); ok {
			keys = append(keys, info.Key())
		}
	}
	return keys, 0, nil
}

func (s *Store) Close(_ context.Context) error {
	return s.c.Close()
}
