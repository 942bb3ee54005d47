// Package cache holds the in-process key/value cache used when Redis is not configured.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	gocache "github.com/patrickmn/go-cache"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// LocalCache mirrors the Get/Set/Del subset of the Redis client on top of go-cache.
type LocalCache struct {
	c *gocache.Cache
}

func NewLocalCache(defaultTTL, cleanupInterval time.Duration) *LocalCache {
	return &LocalCache{c: gocache.New(defaultTTL, cleanupInterval)}
}

func (l *LocalCache) Get(_ context.Context, key string) (string, error) {
	v, ok := l.c.Get(key)
	if !ok {
		return "", ErrMiss
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	default:
		return fmt.Sprint(s), nil
	}
}

func (l *LocalCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	if b, ok := value.([]byte); ok {
		value = string(b)
	}
	l.c.Set(key, value, expiration)
	return nil
}

// SetNX stores value only when key is absent.
func (l *LocalCache) SetNX(_ context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	if err := l.c.Add(key, value, expiration); err != nil {
		return false, nil
	}
	return true, nil
}

func (l *LocalCache) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		l.c.Delete(k)
	}
	return nil
}
