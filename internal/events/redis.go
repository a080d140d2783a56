package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/safar/go-auction-engine/internal/models"
)

// RedisEmitter publishes events on the item's Pub/Sub channel for real-time
// subscribers. Pub/Sub is fire and forget: a subscriber that is not connected
// misses the event.
type RedisEmitter struct {
	client *redis.Client
}

func NewRedisEmitter(client *redis.Client) *RedisEmitter {
	return &RedisEmitter{client: client}
}

func (e *RedisEmitter) Emit(ctx context.Context, evt models.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := e.client.Publish(ctx, ItemChannel(evt.ItemID), data).Err(); err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}
	return nil
}
