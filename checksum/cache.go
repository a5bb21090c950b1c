// Package checksum memoizes remote collections behind a cheap version token.
//
// Every access asks the server for the collection's current checksum first.
// The full collection is fetched and parsed again only when that checksum
// differs from the one stored with the cached records.
package checksum

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ChecksumFunc returns the current opaque version token of the collection at path.
type ChecksumFunc func(ctx context.Context, path string) (string, error)

// RecordsFunc fetches and parses the full collection at path.
type RecordsFunc[T any] func(ctx context.Context, path string) ([]T, error)

// Stats counts cache outcomes since creation.
type Stats struct {
	Hits   uint64
	Misses uint64
	Errors uint64
}

type entry[T any] struct {
	checksum string
	records  []T
}

// Cache holds one entry per remote path for the lifetime of the process.
//
// The compare-and-refetch sequence for a path runs under singleflight, so
// concurrent callers asking for the same path share one checksum call (and
// at most one records fetch) instead of racing on the stored entry.
type Cache[T any] struct {
	mu      sync.RWMutex
	entries map[string]*entry[T]
	gen     uint64 // bumped by Invalidate and Reset; guarded by mu
	sf      singleflight.Group
	logger  *zap.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
	errors atomic.Uint64
}

// New creates an empty cache. A nil logger disables logging.
func New[T any](logger *zap.Logger) *Cache[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache[T]{
		entries: make(map[string]*entry[T]),
		logger:  logger,
	}
}

// Get returns the collection at path. It always calls checksum first; records
// is only called when there is no entry yet or the checksum changed.
//
// On any fetch error the stored entry is left as it was and the error is
// returned unchanged. The returned slice is shared with the cache and must
// not be modified.
func (c *Cache[T]) Get(ctx context.Context, path string, checksum ChecksumFunc, records RecordsFunc[T]) ([]T, error) {
	v, err, _ := c.sf.Do(path, func() (interface{}, error) {
		sum, err := checksum(ctx, path)
		if err != nil {
			c.errors.Add(1)
			return nil, err
		}

		c.mu.RLock()
		e := c.entries[path]
		gen := c.gen
		c.mu.RUnlock()

		if e != nil && e.checksum == sum {
			c.hits.Add(1)
			c.logger.Debug("checksum cache hit", zap.String("path", path), zap.String("checksum", sum))
			return e.records, nil
		}

		c.misses.Add(1)
		prev := ""
		if e != nil {
			prev = e.checksum
		}
		c.logger.Debug("checksum cache miss",
			zap.String("path", path),
			zap.String("checksum", sum),
			zap.String("cached", prev))

		recs, err := records(ctx, path)
		if err != nil {
			c.errors.Add(1)
			return nil, err
		}

		// A fetch that raced with Invalidate or Reset is returned to its
		// callers but not stored.
		c.mu.Lock()
		if c.gen == gen {
			c.entries[path] = &entry[T]{checksum: sum, records: recs}
		}
		c.mu.Unlock()
		return recs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]T), nil
}

// Lookup returns the stored checksum and records for path without any
// remote call.
func (c *Cache[T]) Lookup(path string) (string, []T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[path]
	if !ok {
		return "", nil, false
	}
	return e.checksum, e.records, true
}

// Invalidate drops the entry for path.
func (c *Cache[T]) Invalidate(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.gen++
	c.mu.Unlock()
}

// Reset drops every entry.
func (c *Cache[T]) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]*entry[T])
	c.gen++
	c.mu.Unlock()
}

// Len returns the number of cached paths.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a snapshot of the hit/miss/error counters.
func (c *Cache[T]) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.errors.Load(),
	}
}
