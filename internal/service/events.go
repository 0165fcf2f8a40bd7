package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/gameverify-backend/internal/config"
	"github.com/stemsi/gameverify-backend/internal/model"
)

// EventPublisher announces suspicion signals to the audit trail and reviewers.
type EventPublisher interface {
	PublishSuspicion(ctx context.Context, ev model.SuspicionEvent) error
}

// RedisEventPublisher fans the event out on the reviewer Pub/Sub channel and,
// when persist is set, queues it for the flag worker in the same round trip.
type RedisEventPublisher struct {
	rdb     *redis.Client
	persist bool
}

// NewRedisEventPublisher creates a RedisEventPublisher. persist should be
// false when no flag worker drains the queue.
func NewRedisEventPublisher(rdb *redis.Client, persist bool) *RedisEventPublisher {
	return &RedisEventPublisher{rdb: rdb, persist: persist}
}

func (p *RedisEventPublisher) PublishSuspicion(ctx context.Context, ev model.SuspicionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal suspicion event: %w", err)
	}

	pipe := p.rdb.Pipeline()
	if p.persist {
		pipe.RPush(ctx, config.WorkerKey.PersistFlagsQueue, data)
	}
	pipe.Publish(ctx, config.CacheKey.FlagFeedChannel(), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish suspicion event: %w", err)
	}
	return nil
}

// NopEventPublisher drops every event. Used when Redis is not configured.
type NopEventPublisher struct{}

func (NopEventPublisher) PublishSuspicion(context.Context, model.SuspicionEvent) error { return nil }
