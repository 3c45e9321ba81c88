package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/pscheid92/flowcollab/internal/adapter/metrics"
	"github.com/pscheid92/flowcollab/internal/domain"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const userKeyPrefix = "user:"

// UserCache is a read-through Redis cache in front of a UserDirectory.
// Redis failures degrade to direct directory lookups.
type UserCache struct {
	rdb     *goredis.Client
	inner   domain.UserDirectory
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.DirectoryMetrics
}

var _ domain.UserDirectory = (*UserCache)(nil)

func NewUserCache(rdb *goredis.Client, inner domain.UserDirectory, ttl time.Duration, m *metrics.DirectoryMetrics) *UserCache {
	return &UserCache{rdb: rdb, inner: inner, ttl: ttl, metrics: m}
}

// GetByIDs returns profiles in the order of userIDs, skipping unknown ids.
// On a directory error the profiles found in the cache are still returned.
func (c *UserCache) GetByIDs(ctx context.Context, userIDs []string) ([]domain.User, error) {
	ids := distinct(userIDs)
	if len(ids) == 0 {
		return nil, nil
	}

	found := c.readCached(ctx, ids)
	missing := make([]string, 0, len(ids)-len(found))
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	c.count(len(found), len(missing))

	var loadErr error
	if len(missing) > 0 {
		loaded, err := c.load(ctx, missing)
		if err != nil {
			loadErr = err
		}
		for _, u := range loaded {
			found[u.ID] = u
		}
		c.writeBack(ctx, loaded)
	}

	users := make([]domain.User, 0, len(found))
	for _, id := range ids {
		if u, ok := found[id]; ok {
			users = append(users, u)
		}
	}
	return users, loadErr
}

func (c *UserCache) readCached(ctx context.Context, ids []string) map[string]domain.User {
	found := make(map[string]domain.User, len(ids))

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = userKey(id)
	}

	values, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		slog.WarnContext(ctx, "User cache read failed, falling back to directory", "error", err)
		return found
	}

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var u domain.User
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			slog.WarnContext(ctx, "Ignoring corrupt user cache entry", "user_id", ids[i], "error", err)
			continue
		}
		found[ids[i]] = u
	}
	return found
}

// load fetches missing profiles from the directory. Concurrent lookups of the
// same id set share one query.
func (c *UserCache) load(ctx context.Context, ids []string) ([]domain.User, error) {
	key := strings.Join(ids, ",")
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.inner.GetByIDs(ctx, ids)
	})
	if err != nil {
		if c.metrics != nil {
			c.metrics.LookupErrors.Inc()
		}
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	users, _ := v.([]domain.User)
	return users, nil
}

func (c *UserCache) writeBack(ctx context.Context, users []domain.User) {
	if len(users) == 0 {
		return
	}
	_, err := c.rdb.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, u := range users {
			data, err := json.Marshal(u)
			if err != nil {
				return fmt.Errorf("failed to marshal user %s: %w", u.ID, err)
			}
			pipe.Set(ctx, userKey(u.ID), data, c.ttl)
		}
		return nil
	})
	if err != nil {
		slog.WarnContext(ctx, "Failed to write users to cache", "error", err, "count", len(users))
	}
}

func (c *UserCache) count(hits, misses int) {
	if c.metrics == nil {
		return
	}
	c.metrics.CacheHits.Add(float64(hits))
	c.metrics.CacheMisses.Add(float64(misses))
}

func userKey(id string) string {
	return userKeyPrefix + id
}

func distinct(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
