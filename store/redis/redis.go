package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/cacheaside/store"
)

var ErrNilClient = errors.New("redis store: nil client")

type Redis struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

var _ store.Store = (*Redis)(nil)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this store exclusively owns the client
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

// Dialer returns a store.Dialer that connects a dedicated client to each
// endpoint, using base for everything but the address. The returned store
// owns its client and pings it before handing it out.
func Dialer(base goredis.Options) store.Dialer {
	return func(ctx context.Context, endpoint string) (store.Store, error) {
		opts := base
		opts.Addr = endpoint
		client := goredis.NewClient(&opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis store: ping %s: %w", endpoint, err)
		}
		return &Redis{rdb: client, closeClient: true}, nil
	}
}

func (p *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := p.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, err // transport/server error
	}
	return b, true, nil
}

func (p *Redis) MGet(ctx context.Context, keys []string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := p.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(keys))
	for i, v := range vals {
		switch vv := v.(type) {
		case nil:
		case string:
			out[i] = []byte(vv)
		case []byte:
			out[i] = vv
		default:
			// MGET only ever yields bulk strings; anything else reads as a miss
		}
	}
	return out, nil
}

func (p *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return p.rdb.Set(ctx, key, value, ttl).Err()
}

func (p *Redis) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	return p.rdb.SetNX(ctx, key, value, ttl).Result()
}

// SetKeepTTL issues SET key value XX KEEPTTL.
func (p *Redis) SetKeepTTL(ctx context.Context, key string, value []byte) (bool, error) {
	err := p.rdb.SetArgs(ctx, key, value, goredis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Redis) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return p.rdb.Del(ctx, keys...).Result()
}

func (p *Redis) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	return p.rdb.IncrBy(ctx, key, n).Result()
}

func (p *Redis) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return p.rdb.SAdd(ctx, key, args...).Err()
}

func (p *Redis) SMembers(ctx context.Context, key string) ([]string, error) {
	return p.rdb.SMembers(ctx, key).Result()
}

func (p *Redis) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	return p.rdb.Scan(ctx, cursor, match, count).Result()
}

// Close releases the underlying redis client only when this store owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (p *Redis) Close(context.Context) error {
	if p.closeClient {
		if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
