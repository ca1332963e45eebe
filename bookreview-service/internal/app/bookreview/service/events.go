package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bookreview/bookreview-service/internal/app/bookreview/entity"
	"bookreview/bookreview-service/internal/app/bookreview/infrastructure"
	"bookreview/pkg/logger"
)

// publishEvent отправляет событие в review_events с ключом = bookId,
// чтобы события одной книги обрабатывались воркером по порядку
func publishEvent(ctx context.Context, publisher infrastructure.MessagePublisher, event entity.ReviewEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal review event: %w", err)
	}

	if err := publisher.PublishMessage(ctx, event.BookID, data); err != nil {
		return fmt.Errorf("failed to publish to kafka: %w", err)
	}

	return nil
}

// notify публикует событие после успешной записи; ошибка очереди запрос не ломает
func notify(ctx context.Context, publisher infrastructure.MessagePublisher, event entity.ReviewEvent) {
	if err := publishEvent(ctx, publisher, event); err != nil {
		logger.Warn().
			Err(err).
			Str("event_type", event.EventType).
			Str("book_id", event.BookID).
			Msg("Failed to publish review event")
	}
}
