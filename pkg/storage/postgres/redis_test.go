package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/tenancy/pkg/roles"
)

// setupRoleCacheTest creates a miniredis instance and a cache backed by it
func setupRoleCacheTest(t *testing.T, ttl time.Duration) (*RedisRoleCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err, "failed to start miniredis")

	cache, err := NewRedisRoleCache("redis://"+mr.Addr(), ttl, nil, nil)
	require.NoError(t, err, "failed to create role cache")

	t.Cleanup(func() {
		cache.Close()
		mr.Close()
	})
	return cache, mr
}

func TestNewRedisRoleCache_InvalidURL(t *testing.T) {
	_, err := NewRedisRoleCache("invalid://url", time.Minute, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid redis URL")
}

func TestNewRedisRoleCache_ConnectionFailure(t *testing.T) {
	_, err := NewRedisRoleCache("redis://localhost:9999", time.Minute, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func TestRedisRoleCache(t *testing.T) {
	ctx := context.Background()

	t.Run("set get invalidate", func(t *testing.T) {
		cache, _ := setupRoleCacheTest(t, time.Minute)

		_, ok := cache.Get(ctx, 1, 10)
		assert.False(t, ok)

		cache.Set(ctx, 1, 10, roles.RoleAdmin)
		role, ok := cache.Get(ctx, 1, 10)
		assert.True(t, ok)
		assert.Equal(t, roles.RoleAdmin, role)

		cache.Invalidate(ctx, 1, 10)
		_, ok = cache.Get(ctx, 1, 10)
		assert.False(t, ok)
	})

	t.Run("keys are scoped per organization", func(t *testing.T) {
		cache, _ := setupRoleCacheTest(t, time.Minute)

		cache.Set(ctx, 1, 10, roles.RoleAdmin)
		cache.Set(ctx, 2, 10, roles.RoleViewer)

		role, ok := cache.Get(ctx, 2, 10)
		assert.True(t, ok)
		assert.Equal(t, roles.RoleViewer, role)
	})

	t.Run("entries expire after the ttl", func(t *testing.T) {
		cache, mr := setupRoleCacheTest(t, time.Minute)

		cache.Set(ctx, 1, 10, roles.RoleMember)
		mr.FastForward(2 * time.Minute)

		_, ok := cache.Get(ctx, 1, 10)
		assert.False(t, ok)
	})

	t.Run("unavailable redis degrades to a miss", func(t *testing.T) {
		cache, mr := setupRoleCacheTest(t, time.Minute)

		cache.Set(ctx, 1, 10, roles.RoleMember)
		mr.Close()

		_, ok := cache.Get(ctx, 1, 10)
		assert.False(t, ok)
	})
}
