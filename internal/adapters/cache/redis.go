package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"watchpost.core/internal/core/domain"
)

const redisKeyPrefix = "watchpost:cache:"

// Redis stores entries as JSON values with a server-side TTL, so expiry and
// the memory bound are Redis's problem; the sweep loop of the memory backend
// has no equivalent here.
type Redis struct {
	client *redis.Client
}

func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &Redis{client: redis.NewClient(opts)}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (domain.CacheEntry, bool) {
	data, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		return domain.CacheEntry{}, false
	}
	var entry domain.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return domain.CacheEntry{}, false
	}
	// The server-side TTL normally handles expiry; the guard covers clock
	// drift between writer and reader.
	if !entry.Fresh(time.Now()) {
		r.client.Del(ctx, redisKeyPrefix+key)
		return domain.CacheEntry{}, false
	}
	return entry, true
}

func (r *Redis) Put(ctx context.Context, entry domain.CacheEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	r.client.Set(ctx, redisKeyPrefix+entry.Key, data, entry.TTL)
}

func (r *Redis) Invalidate(ctx context.Context, key string) {
	r.client.Del(ctx, redisKeyPrefix+key)
}

func (r *Redis) Len(ctx context.Context) int {
	var count int
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	return count
}

// Ping reports backend reachability for the health service.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
