package eventbus

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"memoryhub/internal/config"
)

// KafkaBridge forwards events onto Kafka topics named after the same
// channel convention the Redis bridge uses, and reads them back with a
// per-process consumer group.
type KafkaBridge struct {
	brokers []string
	writer  *kafka.Writer
	log     zerolog.Logger
}

func NewKafkaBridge(cfg config.KafkaBridgeConfig, log zerolog.Logger) *KafkaBridge {
	return &KafkaBridge{
		brokers: cfg.Brokers,
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Balancer: &kafka.LeastBytes{},
		},
		log: log,
	}
}

func (b *KafkaBridge) Forward(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.writer.WriteMessages(context.Background(), kafka.Message{
		Topic: channelFor(e.Type),
		Value: data,
	})
}

// Listen consumes every topic the core mirrors events onto and republishes
// received messages into bus, until ctx is cancelled.
func (b *KafkaBridge) Listen(ctx context.Context, groupID string, bus *Bus) {
	topics := []string{
		channelFor(MemoryCreated), channelFor(MemoryUpdated),
		channelFor(MemoryDeleted), channelFor(MemoryEmbeddingDone),
	}
	for _, topic := range topics {
		go b.consumeTopic(ctx, groupID, topic, bus)
	}
}

func (b *KafkaBridge) consumeTopic(ctx context.Context, groupID, topic string, bus *Bus) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: b.brokers,
		Topic:   topic,
		GroupID: groupID,
	})
	defer reader.Close()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.log.Warn().Err(err).Str("topic", topic).Msg("eventbus: kafka read failed")
			continue
		}
		var e Event
		if err := json.Unmarshal(msg.Value, &e); err != nil {
			b.log.Warn().Err(err).Msg("eventbus: malformed kafka message")
			continue
		}
		bus.ReceiveFromBridge(e)
	}
}

func (b *KafkaBridge) Close() error {
	return b.writer.Close()
}
