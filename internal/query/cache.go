package query

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/duckqa/duckqa/internal/observability"
)

// CachedEngine memoizes results keyed by statement and arguments. Purge must
// be called whenever the underlying dataset changes.
type CachedEngine struct {
	next  Engine
	cache *lru.Cache[string, Result]
}

// NewCachedEngine returns next unchanged when size is not positive.
func NewCachedEngine(next Engine, size int) (Engine, error) {
	if size <= 0 {
		return next, nil
	}
	cache, err := lru.New[string, Result](size)
	if err != nil {
		return nil, fmt.Errorf("create result cache: %w", err)
	}
	return &CachedEngine{next: next, cache: cache}, nil
}

func (c *CachedEngine) Execute(ctx context.Context, request Request) (Result, error) {
	key := cacheKey(request)
	if result, ok := c.cache.Get(key); ok {
		observability.ObserveResultCacheLookup(true)
		return result, nil
	}
	observability.ObserveResultCacheLookup(false)
	result, err := c.next.Execute(ctx, request)
	if err != nil {
		return Result{}, err
	}
	c.cache.Add(key, result)
	return result, nil
}

func (c *CachedEngine) Purge() {
	c.cache.Purge()
}

func (c *CachedEngine) Len() int {
	return c.cache.Len()
}

func cacheKey(request Request) string {
	var b strings.Builder
	b.WriteString(request.SQL)
	for _, arg := range request.Args {
		fmt.Fprintf(&b, "\x00%T:%v", arg, arg)
	}
	return b.String()
}
