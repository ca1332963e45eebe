package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bookreview/bookreview-service/internal/app/bookreview/entity"
	"bookreview/bookreview-service/internal/app/bookreview/service"
	"bookreview/pkg/logger"
	"bookreview/pkg/metrics"

	"github.com/segmentio/kafka-go"
)

const workerService = "rating-worker"

// Сколько раз сообщение обрабатывается на месте, прежде чем консьюмер пойдёт дальше
const (
	processAttempts     = 3
	defaultRetryBackoff = time.Second
)

// errMalformedEvent - сообщение, которое невозможно разобрать; повторное чтение не поможет
var errMalformedEvent = errors.New("malformed review event")

// KafkaConsumer обрабатывает события из топика review_events
type KafkaConsumer struct {
	reader     *kafka.Reader
	historySvc service.RatingHistoryServiceInterface
	topic      string
	groupID    string
	stopChan   chan struct{}
	doneChan   chan struct{}

	retryBackoff time.Duration
}

func NewKafkaConsumer(
	brokers []string,
	topic string,
	groupID string,
	historySvc service.RatingHistoryServiceInterface,
) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		// Новая группа начинает с начала топика: неудачные пересчёты не теряются
		StartOffset:    kafka.FirstOffset,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
	})

	return &KafkaConsumer{
		reader:     reader,
		historySvc: historySvc,
		topic:      topic,
		groupID:    groupID,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),

		retryBackoff: defaultRetryBackoff,
	}
}

// Start запускает чтение в отдельной горутине
func (c *KafkaConsumer) Start(ctx context.Context) {
	logger.Info().Str("topic", c.topic).Str("group_id", c.groupID).Msg("Starting Kafka consumer")
	go c.consume(ctx)
}

func (c *KafkaConsumer) Stop() {
	logger.Info().Msg("Stopping Kafka consumer")
	close(c.stopChan)
	<-c.doneChan

	stats := c.GetStats()
	logger.Info().
		Int64("messages", stats.Messages).
		Int64("errors", stats.Errors).
		Int64("lag", stats.Lag).
		Msg("Kafka consumer stats")

	if err := c.reader.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close Kafka reader")
	}
	logger.Info().Msg("Kafka consumer stopped")
}

func (c *KafkaConsumer) consume(ctx context.Context) {
	defer close(c.doneChan)

	for {
		select {
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		readCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		message, err := c.reader.FetchMessage(readCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}

			metrics.RecordKafkaError(workerService, c.topic, "fetch")
			logger.Error().Err(err).Msg("Error fetching message")
			time.Sleep(time.Second)
			continue
		}

		start := time.Now()
		err = c.processWithRetry(ctx, message)
		switch {
		case err == nil:
			metrics.RecordKafkaMessageConsumed(workerService, c.topic, c.groupID, time.Since(start))
		case errors.Is(err, errMalformedEvent):
			// Битое сообщение пропускаем, иначе оно заблокирует партицию
			metrics.RecordKafkaError(workerService, c.topic, "decode")
			logger.Error().Err(err).Int64("offset", message.Offset).Msg("Skipping malformed message")
		default:
			// Offset не коммитим; после перезапуска сообщение прочитается снова,
			// остальное доделает сверка по расписанию
			metrics.RecordKafkaError(workerService, c.topic, "process")
			logger.Error().
				Err(err).
				Int("partition", message.Partition).
				Int64("offset", message.Offset).
				Msg("Error processing message")
			continue
		}

		if err := c.reader.CommitMessages(ctx, message); err != nil {
			metrics.RecordKafkaError(workerService, c.topic, "commit")
			logger.Error().Err(err).Msg("Error committing message")
		}
	}
}

// processWithRetry повторяет обработку с растущей паузой.
// Битые сообщения не повторяются, остановка консьюмера прерывает ожидание.
func (c *KafkaConsumer) processWithRetry(ctx context.Context, message kafka.Message) error {
	for attempt := 1; ; attempt++ {
		err := c.processMessage(ctx, message)
		if err == nil || errors.Is(err, errMalformedEvent) || attempt >= processAttempts {
			return err
		}

		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int64("offset", message.Offset).
			Msg("Review event processing failed, retrying")

		select {
		case <-c.stopChan:
			return err
		case <-ctx.Done():
			return err
		case <-time.After(c.retryBackoff * time.Duration(attempt)):
		}
	}
}

func (c *KafkaConsumer) processMessage(ctx context.Context, message kafka.Message) error {
	var event entity.ReviewEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return fmt.Errorf("%w: %v", errMalformedEvent, err)
	}

	logger.Debug().
		Str("event_type", event.EventType).
		Str("book_id", event.BookID).
		Int("partition", message.Partition).
		Int64("offset", message.Offset).
		Msg("Received review event")

	if err := c.historySvc.ProcessReviewEvent(ctx, &event); err != nil {
		metrics.WorkerEventsProcessed.WithLabelValues(event.EventType, "failed").Inc()
		return fmt.Errorf("failed to process review event: %w", err)
	}

	metrics.WorkerEventsProcessed.WithLabelValues(event.EventType, "success").Inc()
	return nil
}

// GetStats возвращает счётчики reader'а; сбрасываются при каждом вызове
func (c *KafkaConsumer) GetStats() kafka.ReaderStats {
	return c.reader.Stats()
}
