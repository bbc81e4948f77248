// Package discovery caches calendar discovery results per account.
//
// Entries live for a fixed TTL from write time and are stored as JSON in a
// common/cache backend, so the cache is either process-local or shared
// through Redis. Failed discoveries are never cached.
package discovery

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/singleflight"

	"calsync/internal/common/cache"
	"calsync/internal/common/logging"
	"calsync/internal/metrics"
	"calsync/internal/models"
	"calsync/internal/providers"
)

const (
	// DefaultTTL is how long a discovery result is served
	DefaultTTL = 300 * time.Second

	keyPrefix = "discovery:"
	// backend expiry is a little longer than the logical one; reads check expires_at
	backendGrace = 30 * time.Second
)

// DiscoverFunc performs an uncached discovery
type DiscoverFunc func(ctx context.Context, provider string, cfg providers.Config) ([]models.CalendarEntry, error)

// Options configures a Cache
type Options struct {
	TTL     time.Duration
	Metrics *metrics.Metrics
	Logger  logging.Logger
	// Clock replaces time.Now in tests
	Clock func() time.Time
}

// Cache is a TTL cache in front of calendar discovery
type Cache struct {
	store    cache.Cache
	discover DiscoverFunc
	ttl      time.Duration
	group    singleflight.Group
	metrics  *metrics.Metrics
	logger   logging.Logger
	now      func() time.Time
}

type entry struct {
	Calendars []models.CalendarEntry `json:"calendars"`
	ExpiresAt int64                  `json:"expires_at"`
}

func (e entry) expired(now time.Time) bool {
	return now.Unix() >= e.ExpiresAt
}

// New creates a cache over store
func New(store cache.Cache, discover DiscoverFunc, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Cache{
		store:    store,
		discover: discover,
		ttl:      opts.TTL,
		metrics:  opts.Metrics,
		logger:   logging.OrGlobal(opts.Logger),
		now:      opts.Clock,
	}
}

// Key returns the cache key of an account. Only the host of the base URL
// takes part, so accounts differing only in URL path share an entry.
func Key(provider string, cfg providers.Config) string {
	return keyPrefix + provider + ":" + cfg.AccountKey()
}

// Discover returns the account's calendars, from cache when an unexpired
// entry exists and forceRefresh is false. A successful discovery is written
// through; concurrent misses for one key share a single discovery.
func (c *Cache) Discover(ctx context.Context, provider string, cfg providers.Config, forceRefresh bool) ([]models.CalendarEntry, error) {
	key := Key(provider, cfg)

	if !forceRefresh {
		if calendars, ok := c.lookup(ctx, key); ok {
			c.metrics.DiscoveryLookup(provider, true)
			return calendars, nil
		}
		c.metrics.DiscoveryLookup(provider, false)
	}

	// The shared discovery outlives any single caller; each caller only
	// stops waiting when its own context ends.
	ch := c.group.DoChan(key, func() (interface{}, error) {
		calendars, err := c.discover(context.WithoutCancel(ctx), provider, cfg)
		if err != nil {
			return nil, err
		}
		c.write(ctx, key, calendars)
		return calendars, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return clone(res.Val.([]models.CalendarEntry)), nil
	}
}

// Clear removes the account's entry
func (c *Cache) Clear(ctx context.Context, provider string, cfg providers.Config) error {
	return c.store.Delete(ctx, Key(provider, cfg))
}

// SweepExpired deletes every expired or unreadable entry and returns how
// many were removed.
func (c *Cache) SweepExpired(ctx context.Context) (int, error) {
	keys, err := c.store.Keys(ctx, keyPrefix)
	if err != nil {
		return 0, err
	}

	now := c.now()
	removed := 0
	for _, key := range keys {
		data, found, err := c.store.Get(ctx, key)
		if err != nil || !found {
			continue
		}
		var e entry
		if json.Unmarshal(data, &e) == nil && !e.expired(now) {
			continue
		}
		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.Warn("Failed to delete expired discovery entry", logging.String("key", key), logging.Err(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		c.logger.Debug("Swept expired discovery entries", logging.Int("removed", removed))
	}
	return removed, nil
}

func (c *Cache) lookup(ctx context.Context, key string) ([]models.CalendarEntry, bool) {
	data, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("Discovery cache read failed", logging.String("key", key), logging.Err(err))
		return nil, false
	}
	if !found {
		return nil, false
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil || e.expired(c.now()) {
		_ = c.store.Delete(ctx, key)
		return nil, false
	}
	return clone(e.Calendars), true
}

func (c *Cache) write(ctx context.Context, key string, calendars []models.CalendarEntry) {
	data, err := json.Marshal(entry{
		Calendars: calendars,
		ExpiresAt: c.now().Add(c.ttl).Unix(),
	})
	if err == nil {
		err = c.store.Set(context.WithoutCancel(ctx), key, data, c.ttl+backendGrace)
	}
	if err != nil {
		c.logger.Warn("Discovery cache write failed", logging.String("key", key), logging.Err(err))
	}
}

func clone(in []models.CalendarEntry) []models.CalendarEntry {
	if in == nil {
		return []models.CalendarEntry{}
	}
	out := make([]models.CalendarEntry, len(in))
	copy(out, in)
	return out
}
