package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"go-tankloop/logger"
)

type KafkaPublisher struct {
	w *kafka.Writer
}

// NewKafkaPublisher returns an asynchronous publisher writing to brokers.
// Connections are made lazily; delivery failures are logged, not returned.
func NewKafkaPublisher(brokers []string, log logger.Logger) *KafkaPublisher {
	log = log.With("brokers", brokers)

	return &KafkaPublisher{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Warn("kafka delivery failed", "messages", len(messages), "error", err)
			}
		},
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			log.Debug("kafka writer", "detail", fmt.Sprintf(msg, args...))
		}),
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, key, payload []byte) error {
	return p.w.WriteMessages(ctx, kafka.Message{Topic: topic, Key: key, Value: payload})
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
