package eventbus

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"memoryhub/internal/config"
)

// RedisBridge forwards events onto Redis pub/sub channels and, once
// Listen is started, reinjects messages from other processes into a local
// Bus.
type RedisBridge struct {
	client redis.UniversalClient
	log    zerolog.Logger
}

func NewRedisBridge(cfg config.RedisBridgeConfig, log zerolog.Logger) *RedisBridge {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisBridge{client: client, log: log}
}

func (b *RedisBridge) Forward(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.client.Publish(context.Background(), channelFor(e.Type), data).Err()
}

// Listen subscribes to every channel the core mirrors events onto and
// republishes received messages into bus, until ctx is cancelled.
func (b *RedisBridge) Listen(ctx context.Context, bus *Bus) {
	channels := []string{
		channelFor(MemoryCreated), channelFor(MemoryUpdated),
		channelFor(MemoryDeleted), channelFor(MemoryEmbeddingDone),
	}
	sub := b.client.Subscribe(ctx, channels...)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				b.log.Warn().Err(err).Msg("eventbus: malformed bridge message")
				continue
			}
			bus.ReceiveFromBridge(e)
		}
	}
}

func (b *RedisBridge) Close() error {
	if c, ok := b.client.(*redis.Client); ok {
		return c.Close()
	}
	return nil
}
