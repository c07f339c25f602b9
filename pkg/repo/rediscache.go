package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache wraps Store and TagStore with a cache-aside Redis layer in
// front of their single-row reads. Writes go straight to the wrapped
// stores and invalidate the affected cache keys; list reads are not
// cached, since assembly and the HTTP listing routes need a
// read-your-writes view of availability.
type RedisCache struct {
	packages *Store
	tags     *TagStore
	redis    *redis.Client
	ttl      time.Duration
}

// NewRedisCache builds a RedisCache over an already-connected client.
func NewRedisCache(packages *Store, tags *TagStore, client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{packages: packages, tags: tags, redis: client, ttl: ttl}
}

func packageCacheKey(id string) string { return fmt.Sprintf("rpm:%s", id) }
func tagCacheKey(name string) string   { return fmt.Sprintf("tag:%s", name) }

// GetPackage returns a package by id, consulting Redis before the
// relational store. Cache errors are ignored (not logged) by falling
// through to the store, matching the teacher's RedisCache.GetModule.
func (c *RedisCache) GetPackage(ctx context.Context, id string) (*Package, error) {
	key := packageCacheKey(id)
	if cached, err := c.redis.Get(ctx, key).Result(); err == nil {
		var pkg Package
		if jsonErr := json.Unmarshal([]byte(cached), &pkg); jsonErr == nil {
			return &pkg, nil
		}
	}

	pkg, err := c.packages.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(pkg); err == nil {
		c.redis.Set(ctx, key, data, c.ttl)
	}
	return pkg, nil
}

// InvalidatePackage drops a cached package row. Call after any write
// that changes a package's availability or existence.
func (c *RedisCache) InvalidatePackage(ctx context.Context, id string) {
	c.redis.Del(ctx, packageCacheKey(id))
}

// GetTag returns a tag by name, consulting Redis before the relational
// store.
func (c *RedisCache) GetTag(ctx context.Context, name string) (*Tag, error) {
	key := tagCacheKey(name)
	if cached, err := c.redis.Get(ctx, key).Result(); err == nil {
		var tag Tag
		if jsonErr := json.Unmarshal([]byte(cached), &tag); jsonErr == nil {
			return &tag, nil
		}
	}

	tag, err := c.tags.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(tag); err == nil {
		c.redis.Set(ctx, key, data, c.ttl)
	}
	return tag, nil
}

// InvalidateTag drops a cached tag row. Call after Save or Delete.
func (c *RedisCache) InvalidateTag(ctx context.Context, name string) {
	c.redis.Del(ctx, tagCacheKey(name))
}

// Close closes the underlying Redis connection.
func (c *RedisCache) Close() error {
	return c.redis.Close()
}
