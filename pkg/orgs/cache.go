package orgs

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/meridianhq/tenancy/pkg/observability"
	"github.com/meridianhq/tenancy/pkg/roles"
)

// LRURoleCache is an in-process RoleCache on an expirable LRU. It suits
// single-instance deployments; multi-instance deployments should use the
// Redis-backed cache so invalidations reach every instance.
type LRURoleCache struct {
	lru     *expirable.LRU[string, roles.Role]
	metrics *observability.Metrics
}

// NewLRURoleCache creates a role cache holding up to size entries, each
// expiring after ttl. A zero ttl disables expiry and size 0 means unbounded.
func NewLRURoleCache(size int, ttl time.Duration, metrics *observability.Metrics) *LRURoleCache {
	return &LRURoleCache{
		lru:     expirable.NewLRU[string, roles.Role](size, nil, ttl),
		metrics: metrics,
	}
}

func roleCacheKey(orgID, userID int64) string {
	return fmt.Sprintf("%d:%d", orgID, userID)
}

// Get returns the cached role for (org, user)
func (c *LRURoleCache) Get(_ context.Context, orgID, userID int64) (roles.Role, bool) {
	role, ok := c.lru.Get(roleCacheKey(orgID, userID))
	if c.metrics != nil {
		if ok {
			c.metrics.CacheHitsTotal.WithLabelValues("lru").Inc()
		} else {
			c.metrics.CacheMissesTotal.WithLabelValues("lru").Inc()
		}
	}
	return role, ok
}

// Set stores the role for (org, user)
func (c *LRURoleCache) Set(_ context.Context, orgID, userID int64, role roles.Role) {
	c.lru.Add(roleCacheKey(orgID, userID), role)
}

// Invalidate drops the cached role for (org, user)
func (c *LRURoleCache) Invalidate(_ context.Context, orgID, userID int64) {
	c.lru.Remove(roleCacheKey(orgID, userID))
}
