package cacheaside

import (
	"context"
	"time"
)

// ObjectCache is an ArrayCache whose results are keyed by entity id.
type ObjectCache[K ID, V any] struct {
	arr *ArrayCache[K, V]
}

// NewObject builds the underlying ArrayCache from opts.
func NewObject[K ID, V any](opts ArrayOptions[K, V]) (*ObjectCache[K, V], error) {
	arr, err := NewArray(opts)
	if err != nil {
		return nil, err
	}
	return &ObjectCache[K, V]{arr: arr}, nil
}

// Array exposes the underlying batch cache.
func (oc *ObjectCache[K, V]) Array() *ArrayCache[K, V] { return oc.arr }

// Fetch returns the found entities keyed by the ID option. Missing and
// not-found ids have no entry in the map.
func (oc *ObjectCache[K, V]) Fetch(ctx context.Context, ids ...K) (map[K]V, error) {
	vals, err := oc.arr.Fetch(ctx, ids...)
	if err != nil {
		return nil, err
	}
	out := make(map[K]V, len(vals))
	for _, v := range vals {
		out[oc.arr.id(v)] = v
	}
	return out, nil
}

// Get fetches a single entity.
func (oc *ObjectCache[K, V]) Get(ctx context.Context, id K) (V, bool, error) {
	m, err := oc.Fetch(ctx, id)
	if err != nil {
		var zero V
		return zero, false, err
	}
	v, ok := m[id]
	return v, ok, nil
}

func (oc *ObjectCache[K, V]) Bust(ctx context.Context, ids ...K) error {
	return oc.arr.Bust(ctx, ids...)
}

func (oc *ObjectCache[K, V]) BustWithin(ctx context.Context, d time.Duration, ids ...K) error {
	return oc.arr.BustWithin(ctx, d, ids...)
}

func (oc *ObjectCache[K, V]) Refresh(ctx context.Context, ids ...K) error {
	return oc.arr.Refresh(ctx, ids...)
}
