// Package statscache is the TTL cache for flight statistics. Readers only
// ever see fresh entries; staleness past the TTL is impossible by
// construction, invalidation just tightens the window after mutations.
package statscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/PaxBox/internal/cache"
	"github.com/BearBump/PaxBox/internal/models"
)

// DefaultTTL bounds how stale a served statistics snapshot can be.
const DefaultTTL = 300 * time.Second

const keyPrefix = "paxbox:stats:"

type Cache struct {
	c   cache.BytesCache
	ttl time.Duration
}

func New(c cache.BytesCache, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{c: c, ttl: ttl}
}

func statsKey(flightKey string) string {
	return fmt.Sprintf("%s%s", keyPrefix, flightKey)
}

// Get returns the cached statistics for a flight. An undecodable entry is
// treated as a miss, not an error.
func (c *Cache) Get(ctx context.Context, flightKey string) (*models.FlightStats, bool, error) {
	b, ok, err := c.c.Get(ctx, statsKey(flightKey))
	if err != nil {
		return nil, false, errors.Wrap(err, "stats cache get")
	}
	if !ok {
		return nil, false, nil
	}
	var stats models.FlightStats
	if err := json.Unmarshal(b, &stats); err != nil {
		return nil, false, nil
	}
	return &stats, true, nil
}

func (c *Cache) Set(ctx context.Context, stats *models.FlightStats) error {
	b, err := json.Marshal(stats)
	if err != nil {
		return errors.Wrap(err, "encode stats")
	}
	return errors.Wrap(c.c.Set(ctx, statsKey(stats.FlightKey), b, c.ttl), "stats cache set")
}

func (c *Cache) Invalidate(ctx context.Context, flightKey string) error {
	return errors.Wrap(c.c.Del(ctx, statsKey(flightKey)), "stats cache invalidate")
}

func (c *Cache) InvalidateAll(ctx context.Context) error {
	return errors.Wrap(c.c.DelPrefix(ctx, keyPrefix), "stats cache invalidate all")
}
