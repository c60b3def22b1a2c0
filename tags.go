package cacheaside

import (
	"context"
	"fmt"

	"github.com/unkn0wn-root/cacheaside/store"
)

// TagIndex groups arbitrary cache keys under tags so they can be dropped
// together. Member sets live at "<prefix><tag>" without a TTL.
type TagIndex struct {
	store  store.Store
	prefix string
	log    Logger
}

// NewTagIndex requires a Store.
func NewTagIndex(opts TagOptions) (*TagIndex, error) {
	if opts.Store == nil {
		return nil, errNoStore
	}
	return &TagIndex{
		store:  opts.Store,
		prefix: coalesce(opts.Prefix, "tagset:"),
		log:    coalesce[Logger](opts.Logger, NopLogger{}),
	}, nil
}

func (t *TagIndex) setKey(tag string) string { return t.prefix + tag }

// TagKey adds key to the set of every tag given.
func (t *TagIndex) TagKey(ctx context.Context, key string, tags ...string) error {
	for _, tag := range tags {
		if err := t.store.SAdd(ctx, t.setKey(tag), key); err != nil {
			return fmt.Errorf("cacheaside: tag %s: sadd: %w", tag, err)
		}
	}
	return nil
}

// BustTags deletes every key tagged with any of tags, one by one, then the
// tag sets themselves. It returns how many member keys existed. Members are
// not removed atomically; a key repopulated mid-bust survives until its TTL.
func (t *TagIndex) BustTags(ctx context.Context, tags ...string) (int, error) {
	var deleted int
	for _, tag := range tags {
		sk := t.setKey(tag)
		members, err := t.store.SMembers(ctx, sk)
		if err != nil {
			return deleted, fmt.Errorf("cacheaside: tag %s: smembers: %w", tag, err)
		}
		for _, m := range members {
			n, err := t.store.Del(ctx, m)
			if err != nil {
				return deleted, fmt.Errorf("cacheaside: tag %s: del %s: %w", tag, m, err)
			}
			deleted += int(n)
		}
		if _, err := t.store.Del(ctx, sk); err != nil {
			return deleted, fmt.Errorf("cacheaside: tag %s: del set: %w", tag, err)
		}
		t.log.Debug("tag busted", Fields{"tag": tag, "members": len(members)})
	}
	return deleted, nil
}
