// File: utils/cache.go
package utils

import (
	"context"
	"log"
	"time"

	"appointqix/config"

	"github.com/go-redis/redis/v8"
)

var (
	// CacheClient is the generic cache client (availability snapshots, staff versions).
	CacheClient *redis.Client
	// EventClient is the dedicated client for domain event publishing.
	EventClient *redis.Client
)

// newRedisClient builds a client for one of the configured redis DB indexes.
// Cache, events and the asynq queue each get their own index so a FLUSHDB on
// one never touches the others.
func newRedisClient(db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       db,
	})
}

func mustPing(client *redis.Client, role string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis (%s): %v", role, err)
	}
}

// InitCache initializes the generic Redis cache client.
func InitCache() {
	CacheClient = newRedisClient(config.AppConfig.RedisCacheDB)
	mustPing(CacheClient, "cache")
}

// GetCacheClient returns the generic cache client.
func GetCacheClient() *redis.Client {
	if CacheClient == nil {
		InitCache()
	}
	return CacheClient
}

// InitEventClient initializes the Redis client used for domain event pub/sub.
func InitEventClient() {
	EventClient = newRedisClient(config.AppConfig.RedisEventDB)
	mustPing(EventClient, "events")
}

// GetEventClient returns the Redis client used for domain event pub/sub.
func GetEventClient() *redis.Client {
	if EventClient == nil {
		InitEventClient()
	}
	return EventClient
}

// InitRedis initializes all Redis clients eagerly at startup.
func InitRedis() {
	InitCache()
	InitEventClient()
}
