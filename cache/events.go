package cache

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/toncenter/jetton-lockup/models"
)

const EventsChannel = "lockup_events"

// EventBus fans lockup events out to every service instance over redis pub/sub.
// Payloads are JSON so stream handlers can forward them as is.
type EventBus struct {
	client  *redis.Client
	channel string
}

func NewEventBus(client *redis.Client, channel string) *EventBus {
	return &EventBus{client: client, channel: channel}
}

func (b *EventBus) Publish(ctx context.Context, rec models.ClaimRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Join(ErrEncodeFailed, err)
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

// Subscribe returns a subscription to the bus. Callers must close it.
func (b *EventBus) Subscribe(ctx context.Context) *redis.PubSub {
	return b.client.Subscribe(ctx, b.channel)
}
