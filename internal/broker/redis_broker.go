package broker

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/tradepost/tradepost-messaging/internal/realtime"
	"github.com/tradepost/tradepost-messaging/pkg/logger"
	"go.uber.org/zap"
)

const eventChannel = "messaging:events"

// RedisEventBroker implements realtime.EventBroker over Redis pub/sub.
type RedisEventBroker struct {
	client *redis.Client
	pubsub *redis.PubSub
	ctx    context.Context
}

func NewRedisEventBroker(redisClient *redis.Client) (*RedisEventBroker, error) {
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisEventBroker{
		client: redisClient,
		ctx:    ctx,
	}, nil
}

func (b *RedisEventBroker) Publish(event realtime.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(b.ctx, eventChannel, data).Err()
}

func (b *RedisEventBroker) Subscribe() (<-chan realtime.Event, error) {
	b.pubsub = b.client.Subscribe(b.ctx, eventChannel)

	events := make(chan realtime.Event, 100)

	go func() {
		defer close(events)

		for msg := range b.pubsub.Channel() {
			var event realtime.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				logger.Log.Warn("broker: dropping malformed event", zap.Error(err))
				continue
			}
			events <- event
		}
	}()

	return events, nil
}

func (b *RedisEventBroker) Close() error {
	if b.pubsub != nil {
		b.pubsub.Close()
	}
	return nil
}
