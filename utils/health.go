package utils

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// HealthStatus is the latest dependency snapshot served on /health. Redis
// clients are reported by role ("cache", "events") rather than by position.
type HealthStatus struct {
	Mongo     bool            `json:"mongo"`
	Redis     map[string]bool `json:"redis"`
	CheckedAt time.Time       `json:"checkedAt"`
}

// Healthy reports whether every dependency answered its last ping.
func (s HealthStatus) Healthy() bool {
	if !s.Mongo {
		return false
	}
	for _, ok := range s.Redis {
		if !ok {
			return false
		}
	}
	return true
}

var (
	currentHealth HealthStatus
	healthMu      sync.RWMutex
)

// GetHealthStatus returns the latest stored health snapshot.
func GetHealthStatus() HealthStatus {
	healthMu.RLock()
	defer healthMu.RUnlock()
	return currentHealth
}

// StartHealthMonitor pings mongo and each named redis client on the given
// interval and keeps the in-memory snapshot current. Failures are logged but
// never fatal; the snapshot is what /health reports.
func StartHealthMonitor(redisClients map[string]*redis.Client, mongoClient *mongo.Client, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	check := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		status := HealthStatus{
			Redis:     make(map[string]bool, len(redisClients)),
			CheckedAt: time.Now().UTC(),
		}

		for role, client := range redisClients {
			err := client.Ping(ctx).Err()
			status.Redis[role] = err == nil
			if err != nil {
				GetLogger().Warn("redis health check failed",
					zap.String("role", role), zap.Error(err))
			}
		}

		if err := mongoClient.Ping(ctx, nil); err != nil {
			GetLogger().Warn("mongo health check failed", zap.Error(err))
		} else {
			status.Mongo = true
		}

		healthMu.Lock()
		currentHealth = status
		healthMu.Unlock()
	}

	go func() {
		check()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			check()
		}
	}()
}
