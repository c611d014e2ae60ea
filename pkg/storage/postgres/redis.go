package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/meridianhq/tenancy/pkg/observability"
	"github.com/meridianhq/tenancy/pkg/roles"
)

// RedisRoleCache implements the membership role cache on Redis, for
// deployments running more than one service instance. Invalidations are
// visible to every instance immediately; staleness is otherwise bounded
// by the TTL.
type RedisRoleCache struct {
	client  *redis.Client
	ttl     time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewRedisRoleCache connects to Redis and returns the cache. The TTL
// applies to every entry; zero disables expiry.
func NewRedisRoleCache(redisURL string, ttl time.Duration, logger *observability.Logger, metrics *observability.Metrics) (*RedisRoleCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &RedisRoleCache{client: client, ttl: ttl, logger: logger, metrics: metrics}, nil
}

func (c *RedisRoleCache) key(orgID, userID int64) string {
	return fmt.Sprintf("tenancy:role:%d:%d", orgID, userID)
}

// Get returns the cached role for (org, user). Redis errors are treated
// as misses, so an unavailable cache degrades to database reads.
func (c *RedisRoleCache) Get(ctx context.Context, orgID, userID int64) (roles.Role, bool) {
	value, err := c.client.Get(ctx, c.key(orgID, userID)).Result()
	if err == redis.Nil {
		c.miss()
		return "", false
	}
	if err != nil {
		c.logger.WithError(err).Warn("role cache read failed")
		c.miss()
		return "", false
	}
	c.hit()
	return roles.Role(value), true
}

// Set stores the role for (org, user)
func (c *RedisRoleCache) Set(ctx context.Context, orgID, userID int64, role roles.Role) {
	if err := c.client.Set(ctx, c.key(orgID, userID), string(role), c.ttl).Err(); err != nil {
		c.logger.WithError(err).Warn("role cache write failed")
	}
}

// Invalidate drops the cached role for (org, user)
func (c *RedisRoleCache) Invalidate(ctx context.Context, orgID, userID int64) {
	if err := c.client.Del(ctx, c.key(orgID, userID)).Err(); err != nil {
		c.logger.WithError(err).Warn("role cache invalidation failed")
	}
}

// Close releases the Redis connection
func (c *RedisRoleCache) Close() error {
	return c.client.Close()
}

func (c *RedisRoleCache) hit() {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues("redis").Inc()
	}
}

func (c *RedisRoleCache) miss() {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues("redis").Inc()
	}
}
