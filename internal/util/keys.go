package util

import (
	"fmt"
	"strconv"
)

// ID is the set of identifier types a batch cache can be keyed by.
type ID interface {
	~int | ~int32 | ~int64 | ~uint | ~uint32 | ~uint64 | ~string
}

// FormatID renders an id the way it appears in a storage key.
func FormatID[K ID](id K) string {
	switch v := any(id).(type) {
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case string:
		return v
	}
	// named types (type UserID int64) land here
	return fmt.Sprint(id)
}

// Key joins a namespace and a member with ':'.
func Key(ns, member string) string {
	if ns == "" {
		return member
	}
	return ns + ":" + member
}

// Dedup returns ids in first-seen order without repeats.
func Dedup[K comparable](ids []K) []K {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[K]struct{}, len(ids))
	out := make([]K, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Chunk splits s into consecutive slices of at most size elements.
// The chunks alias s.
func Chunk[T any](s []T, size int) [][]T {
	if len(s) == 0 {
		return nil
	}
	if size <= 0 || size >= len(s) {
		return [][]T{s}
	}
	out := make([][]T, 0, (len(s)+size-1)/size)
	for size < len(s) {
		out = append(out, s[:size:size])
		s = s[size:]
	}
	return append(out, s)
}
