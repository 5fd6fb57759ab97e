package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jotion/jotion/backend/go-services/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// ChannelPrefix is followed by the owner id; each owner has its own channel.
const ChannelPrefix = "document:events:"

// RedisBroker distributes events over Redis pub/sub so every API replica sees
// every change.
type RedisBroker struct {
	client *redis.Client
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func channel(ownerID string) string { return ChannelPrefix + ownerID }

func (b *RedisBroker) Publish(ctx context.Context, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, channel(e.OwnerID), data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, ownerID string) (<-chan Event, error) {
	pubsub := b.client.Subscribe(ctx, channel(ownerID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel(ownerID), err)
	}
	ch := make(chan Event, subscriberBuffer)

	go func() {
		defer close(ch)
		defer func() {
			if err := pubsub.Close(); err != nil {
				logger.Warnw("close event subscription", "owner", ownerID, "error", err)
			}
		}()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var e Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					logger.Warnw("drop malformed event", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case ch <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}
