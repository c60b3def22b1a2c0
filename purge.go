package cacheaside

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/cacheaside/internal/util"
	"github.com/unkn0wn-root/cacheaside/store"
)

// Purger deletes keys by glob pattern on every configured endpoint.
type Purger struct {
	endpoints   []string
	dial        store.Dialer
	scanCount   int64
	deleteBatch int
	log         Logger
	hooks       Hooks
}

// NewPurger dedups Endpoints; an empty list makes every purge a no-op.
func NewPurger(opts PurgeOptions) (*Purger, error) {
	if len(opts.Endpoints) > 0 && opts.Dial == nil {
		return nil, errors.New("cacheaside: purge: dialer is required")
	}
	return &Purger{
		endpoints:   util.Dedup(opts.Endpoints),
		dial:        opts.Dial,
		scanCount:   coalesce(opts.ScanCount, 1000),
		deleteBatch: coalesce(opts.DeleteBatch, 10_000),
		log:         coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:       coalesce[Hooks](opts.Hooks, NopHooks{}),
	}, nil
}

// ClearByPattern deletes every key matching pattern on all endpoints
// concurrently and returns the deleted key names. With no endpoints it is a
// no-op. The first endpoint failure cancels the others; keys already
// deleted stay deleted.
func (p *Purger) ClearByPattern(ctx context.Context, pattern string) ([]string, error) {
	if len(p.endpoints) == 0 {
		return []string{}, nil
	}

	var (
		mu  sync.Mutex
		all []string
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, ep := range p.endpoints {
		ep := ep
		g.Go(func() error {
			keys, err := p.purgeEndpoint(gctx, ep, pattern)
			if err != nil {
				return err
			}
			mu.Lock()
			all = append(all, keys...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if all == nil {
		all = []string{}
	}
	return all, nil
}

func (p *Purger) purgeEndpoint(ctx context.Context, endpoint, pattern string) (deleted []string, err error) {
	st, err := p.dial(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("cacheaside: purge %s: dial: %w", endpoint, err)
	}
	defer func() {
		if cerr := st.Close(context.WithoutCancel(ctx)); cerr != nil {
			p.log.Warn("purge: close failed", Fields{"endpoint": endpoint, "err": cerr})
		}
	}()

	seen := make(map[string]struct{})
	var pending []string
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if _, err := st.Del(ctx, pending...); err != nil {
			return fmt.Errorf("cacheaside: purge %s: del: %w", endpoint, err)
		}
		p.log.Debug("purge batch deleted", Fields{"endpoint": endpoint, "count": len(pending)})
		deleted = append(deleted, pending...)
		pending = pending[:0]
		return nil
	}

	var cursor uint64
	for {
		keys, next, err := st.Scan(ctx, cursor, pattern, p.scanCount)
		if err != nil {
			return deleted, fmt.Errorf("cacheaside: purge %s: scan: %w", endpoint, err)
		}
		for _, k := range keys {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			pending = append(pending, k)
			if len(pending) >= p.deleteBatch {
				if err := flush(); err != nil {
					return deleted, err
				}
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	if err := flush(); err != nil {
		return deleted, err
	}

	p.hooks.PurgeCompleted(endpoint, len(deleted))
	p.log.Info("purge completed", Fields{"endpoint": endpoint, "pattern": pattern, "deleted": len(deleted)})
	return deleted, nil
}
