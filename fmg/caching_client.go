package fmg

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"fmgshell/checksum"
)

// CachingClient wraps an API and memoizes the collections the shell shows
// most: the ADOM list, gated on the table checksum, and the system status,
// kept until a refresh is asked for.
type CachingClient struct {
	api   API
	adoms *checksum.Cache[string]

	mu     sync.RWMutex
	sf     singleflight.Group
	status []Field
}

// NewCachingClient wraps api. A nil logger discards cache logging.
func NewCachingClient(api API, logger *zap.Logger) *CachingClient {
	return &CachingClient{
		api:   api,
		adoms: checksum.New[string](logger),
	}
}

// ADOMs returns the ADOM names, refetching the table only when its
// checksum has changed since the last fetch.
func (c *CachingClient) ADOMs(ctx context.Context) ([]string, error) {
	return c.adoms.Get(ctx, ADOMURL, c.api.Checksum, func(ctx context.Context, url string) ([]string, error) {
		recs, err := c.api.Records(ctx, url, ADOMAttributes())
		if err != nil {
			return nil, err
		}
		return ADOMNames(recs)
	})
}

// SystemStatus returns the system status fields in the order the appliance
// sent them. The first result is kept until refresh is true.
func (c *CachingClient) SystemStatus(ctx context.Context, refresh bool) ([]Field, error) {
	if !refresh {
		c.mu.RLock()
		status := c.status
		c.mu.RUnlock()
		if status != nil {
			return status, nil
		}
	}

	v, err, _ := c.sf.Do(SystemStatusURL, func() (interface{}, error) {
		data, err := c.api.Get(ctx, SystemStatusURL, nil)
		if err != nil {
			return nil, err
		}
		fields, err := ParseFields(data)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.status = fields
		c.mu.Unlock()
		return fields, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Field), nil
}

// CacheStats reports the ADOM cache counters.
func (c *CachingClient) CacheStats() checksum.Stats {
	return c.adoms.Stats()
}

// Invalidate drops everything cached.
func (c *CachingClient) Invalidate() {
	c.adoms.Reset()
	c.mu.Lock()
	c.status = nil
	c.mu.Unlock()
}

// Login logs in and drops anything cached under a previous session.
func (c *CachingClient) Login(ctx context.Context, user, password string) error {
	if err := c.api.Login(ctx, user, password); err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

// Logout logs out and drops the caches.
func (c *CachingClient) Logout(ctx context.Context) error {
	defer c.Invalidate()
	return c.api.Logout(ctx)
}

// LoggedIn reports whether the wrapped client holds a session.
func (c *CachingClient) LoggedIn() bool { return c.api.LoggedIn() }

// Get forwards to the wrapped client without caching.
func (c *CachingClient) Get(ctx context.Context, url string, attrs Attributes) (json.RawMessage, error) {
	return c.api.Get(ctx, url, attrs)
}

// Checksum forwards to the wrapped client.
func (c *CachingClient) Checksum(ctx context.Context, url string) (string, error) {
	return c.api.Checksum(ctx, url)
}

// Records forwards to the wrapped client without caching.
func (c *CachingClient) Records(ctx context.Context, url string, attrs Attributes) ([]Record, error) {
	return c.api.Records(ctx, url, attrs)
}

// SetDebug switches request dumps of the wrapped client.
func (c *CachingClient) SetDebug(flag string) error { return c.api.SetDebug(flag) }

// Debug returns the wrapped client's debug mode.
func (c *CachingClient) Debug() string { return c.api.Debug() }
