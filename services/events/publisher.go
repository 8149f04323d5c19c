// Package events publishes domain events for external collaborators
// (notification dispatch, calendar sync). Publication is fire-and-forget:
// a failed publish is logged, never surfaced to the emitting operation.
package events

import (
	"context"
	"encoding/json"
	"time"

	"appointqix/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DefaultChannel is the redis pub/sub channel collaborators subscribe to.
const DefaultChannel = "appointqix:events"

// Publisher emits domain events to collaborators.
type Publisher interface {
	Publish(ctx context.Context, ev models.DomainEvent)
}

// RedisPublisher publishes events as JSON on a redis pub/sub channel.
type RedisPublisher struct {
	Client  *redis.Client
	Channel string
	Logger  *zap.Logger
}

// NewRedisPublisher constructs a RedisPublisher on the default channel.
func NewRedisPublisher(client *redis.Client, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{Client: client, Channel: DefaultChannel, Logger: logger}
}

// Publish marshals and publishes the event. Never blocks the caller on
// delivery failures.
func (p *RedisPublisher) Publish(ctx context.Context, ev models.DomainEvent) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		p.Logger.Error("failed to marshal domain event", zap.String("type", ev.Type), zap.Error(err))
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := p.Client.Publish(pubCtx, p.Channel, payload).Err(); err != nil {
		p.Logger.Warn("failed to publish domain event",
			zap.String("type", ev.Type),
			zap.String("appointmentId", ev.AppointmentID),
			zap.Error(err))
	}
}

// NopPublisher drops all events. Useful in tests.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, models.DomainEvent) {}
