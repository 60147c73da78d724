package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/SergeiKhy/shortlink/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroadcaster публикует события в канал Redis Pub/Sub и ретранслирует
// всё, что приходит из канала, локальным подписчикам. Так событие, созданное
// воркером в одном процессе, доходит до наблюдателей во всех процессах.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
	hub     *Hub
	pubsub  *redis.PubSub
	logger  *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewRedisBroadcaster подписывается на канал и дожидается подтверждения,
// поэтому события, опубликованные после возврата, не теряются.
func NewRedisBroadcaster(
	ctx context.Context,
	client *redis.Client,
	channel string,
	bufferSize int,
	logger *zap.Logger,
) (*RedisBroadcaster, error) {
	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	relayCtx, cancel := context.WithCancel(context.Background())
	b := &RedisBroadcaster{
		client:  client,
		channel: channel,
		hub:     NewHub(bufferSize, logger),
		pubsub:  pubsub,
		logger:  logger,
		cancel:  cancel,
	}

	b.wg.Add(1)
	go b.relay(relayCtx)

	return b, nil
}

func (b *RedisBroadcaster) Publish(ctx context.Context, event models.LinkEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (b *RedisBroadcaster) Subscribe() *Subscription {
	return b.hub.Subscribe()
}

func (b *RedisBroadcaster) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.cancel()
		err = b.pubsub.Close()
		b.wg.Wait()
		b.hub.Close()
	})
	return err
}

func (b *RedisBroadcaster) relay(ctx context.Context) {
	defer b.wg.Done()

	messages := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-messages:
			if !ok {
				return
			}

			var event models.LinkEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warn("Некорректное событие в канале",
					zap.String("channel", msg.Channel),
					zap.Error(err),
				)
				continue
			}

			b.hub.Publish(ctx, event)
		}
	}
}
