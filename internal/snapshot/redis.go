package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/querystream/querystream/internal/redis"
)

// Compile-time interface compliance check.
var _ Cache = (*redisCache)(nil)

const redisKeyPrefix = "querystream:snapshot:"

type redisCache struct {
	log    logrus.FieldLogger
	client redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed snapshot cache. A zero TTL stores
// snapshots without expiration; they are deleted on job teardown either way.
func NewRedisCache(log logrus.FieldLogger, client redis.Client, ttl time.Duration) Cache {
	return &redisCache{
		log:    log.WithField("component", "snapshot_cache"),
		client: client,
		ttl:    ttl,
	}
}

func (r *redisCache) Put(ctx context.Context, key string, payload []byte) error {
	return r.client.Set(ctx, redisKeyPrefix+key, string(payload), r.ttl)
}

func (r *redisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, redisKeyPrefix+key)
	if err != nil {
		if errors.Is(err, redis.ErrNotFound) {
			return nil, false, nil
		}

		return nil, false, err
	}

	return []byte(value), true, nil
}

func (r *redisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, redisKeyPrefix+key)
}
