package messaging

import (
	"context"
	"fmt"
	"time"

	"bookreview/pkg/metrics"

	"github.com/segmentio/kafka-go"
)

type KafkaProducer struct {
	writer  *kafka.Writer
	topic   string
	service string
}

// NewKafkaProducer создает producer; ключ сообщения - bookId,
// поэтому события одной книги попадают в одну партицию по порядку
func NewKafkaProducer(brokers []string, topic string, service string) *KafkaProducer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}

	return &KafkaProducer{writer: writer, topic: topic, service: service}
}

func (p *KafkaProducer) PublishMessage(ctx context.Context, key string, value []byte) error {
	timer := metrics.NewKafkaProduceTimer(p.service, p.topic)

	message := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
	}

	err := p.writer.WriteMessages(ctx, message)
	timer.Done(err)
	if err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// NopPublisher используется, когда KAFKA_BROKERS не задан
type NopPublisher struct{}

func (NopPublisher) PublishMessage(context.Context, string, []byte) error { return nil }

func (NopPublisher) Close() error { return nil }
