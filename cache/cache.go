package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/karlseguin/ccache/v3"
	"golang.org/x/sync/singleflight"
)

// Cache holds catalog lookups keyed by normalized query and downloaded cover
// images keyed by URL. Values are stored as-is, so callers must not mutate
// what they get back.
type Cache[M any] struct {
	Matches FetchCache[M]
	Covers  FetchCache[[]byte]
}

func New[M any]() *Cache[M] {
	matches := ccache.New(
		ccache.Configure[M]().
			MaxSize(1000).
			GetsPerPromote(3).
			ItemsToPrune(1),
	)

	covers := ccache.New(
		ccache.Configure[[]byte]().
			MaxSize(100).
			GetsPerPromote(3).
			ItemsToPrune(1),
	)

	return &Cache[M]{
		Matches: FetchCache[M]{c: matches, group: singleflight.Group{}},
		Covers:  FetchCache[[]byte]{c: covers, group: singleflight.Group{}},
	}
}

// FetchCache collapses concurrent misses for the same key into a single
// upstream fetch. Failed fetches are not cached.
type FetchCache[T any] struct {
	c     *ccache.Cache[T]
	group singleflight.Group
}

// Fetch returns the cached value of k, or calls fetch to fill it. The shared
// fetch is detached from the cancellation of whichever caller started it, and
// each caller stops waiting as soon as its own ctx is done. fetch must bound
// its own run time.
func (c *FetchCache[T]) Fetch(ctx context.Context, k string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	if v, ok := c.Get(k); ok {
		return v, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(k, func() (any, error) {
		item, err := c.c.Fetch(k, ttl, func() (T, error) { return fetch(detached) })
		if nil != err {
			return nil, err
		}

		return item.Value(), nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, fmt.Errorf("fetch %s: %w", k, ctx.Err())
	case res := <-ch:
		if nil != res.Err {
			return zero, fmt.Errorf("fetch %s: %w", k, res.Err)
		}

		return res.Val.(T), nil //nolint:forcetypeassert
	}
}

func (c *FetchCache[T]) Get(k string) (T, bool) {
	item := c.c.Get(k)
	if nil == item || item.Expired() {
		var zero T
		return zero, false
	}

	return item.Value(), true
}
