package fuse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// resultCache memoizes Get results per catalogue path. Within ttl a
// `.data` lookup and a `.json` read of the same node share one request;
// concurrent misses for the same path are collapsed.
type resultCache struct {
	api Getter
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]resultEntry
	sf      singleflight.Group
}

type resultEntry struct {
	data    json.RawMessage
	fetched time.Time
}

func newResultCache(api Getter, ttl time.Duration) *resultCache {
	return &resultCache{
		api:     api,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]resultEntry),
	}
}

func (c *resultCache) get(ctx context.Context, path string) (json.RawMessage, error) {
	c.mu.RLock()
	e, ok := c.entries[path]
	c.mu.RUnlock()
	if ok && c.now().Sub(e.fetched) < c.ttl {
		return e.data, nil
	}

	v, err, _ := c.sf.Do(path, func() (interface{}, error) {
		data, err := c.api.Get(ctx, path, nil)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[path] = resultEntry{data: data, fetched: c.now()}
		c.mu.Unlock()
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}

// invalidate drops every memoized result.
func (c *resultCache) invalidate() {
	c.mu.Lock()
	c.entries = make(map[string]resultEntry)
	c.mu.Unlock()
}
