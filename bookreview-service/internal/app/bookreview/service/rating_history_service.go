package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bookreview/bookreview-service/internal/app/bookreview/entity"
	"bookreview/bookreview-service/internal/app/bookreview/repository"
	"bookreview/pkg/logger"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// RatingHistoryService ведёт историю агрегатов книг по событиям из Kafka
type RatingHistoryService struct {
	snapshots  repository.RatingSnapshotRepository
	bookRepo   repository.BookRepository
	aggregator RatingAggregatorInterface
}

func NewRatingHistoryService(
	snapshots repository.RatingSnapshotRepository,
	bookRepo repository.BookRepository,
	aggregator RatingAggregatorInterface,
) *RatingHistoryService {
	return &RatingHistoryService{
		snapshots:  snapshots,
		bookRepo:   bookRepo,
		aggregator: aggregator,
	}
}

// ProcessReviewEvent обрабатывает одно событие. Возвращённая ошибка означает,
// что событие нужно прочитать повторно.
func (s *RatingHistoryService) ProcessReviewEvent(ctx context.Context, event *entity.ReviewEvent) error {
	if event.BookID == "" {
		logger.Warn().Str("event_type", event.EventType).Msg("Review event without book_id, skipping")
		return nil
	}

	switch event.EventType {
	case entity.EventRatingRecomputeFailed:
		return s.retryRecompute(ctx, event)

	case entity.EventReviewCreated, entity.EventReviewUpdated, entity.EventReviewDeleted:
		return s.snapshotCurrent(ctx, event)

	case entity.EventBookDeleted:
		removed, err := s.snapshots.DeleteByBook(ctx, event.BookID)
		if err != nil {
			return fmt.Errorf("failed to drop rating history: %w", err)
		}
		logger.Info().
			Str("book_id", event.BookID).
			Int64("snapshots_removed", removed).
			Msg("Rating history of deleted book removed")
		return nil

	default:
		logger.Debug().Str("event_type", event.EventType).Msg("Ignoring review event")
		return nil
	}
}

// retryRecompute доделывает пересчёт, который не удался в API
func (s *RatingHistoryService) retryRecompute(ctx context.Context, event *entity.ReviewEvent) error {
	start := time.Now()
	summary, err := s.aggregator.Recompute(ctx, event.BookID)
	ObserveRecompute(TriggerWorkerRetry, start, err)
	if err != nil {
		if errors.Is(err, ErrBookNotFound) {
			logger.Warn().Str("book_id", event.BookID).Msg("Book deleted before rating retry, skipping")
			return nil
		}
		return fmt.Errorf("failed to recompute rating: %w", err)
	}

	logger.Info().
		Str("book_id", event.BookID).
		Float64("average_rating", summary.AverageRating).
		Int("total_reviews", summary.TotalReviews).
		Msg("Rating recompute retried successfully")

	return s.record(ctx, summary.BookID, summary.AverageRating, summary.TotalReviews, event.EventType)
}

func (s *RatingHistoryService) snapshotCurrent(ctx context.Context, event *entity.ReviewEvent) error {
	book, err := s.bookRepo.GetByID(ctx, event.BookID)
	if err != nil {
		if errors.Is(err, repository.ErrBookNotFound) || errors.Is(err, repository.ErrInvalidID) {
			logger.Debug().Str("book_id", event.BookID).Msg("Book no longer exists, no snapshot")
			return nil
		}
		return fmt.Errorf("failed to load book: %w", err)
	}

	return s.record(ctx, event.BookID, book.AverageRating, book.TotalReviews, event.EventType)
}

func (s *RatingHistoryService) record(ctx context.Context, bookID string, average float64, total int, eventType string) error {
	snapshot := &entity.RatingSnapshot{
		BookID:        bookID,
		AverageRating: average,
		TotalReviews:  total,
		EventType:     eventType,
	}
	if err := s.snapshots.Create(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to record rating snapshot: %w", err)
	}
	return nil
}

// History возвращает историю агрегата книги, новые записи первыми
func (s *RatingHistoryService) History(ctx context.Context, bookID string, limit int) ([]entity.RatingSnapshot, error) {
	if _, err := repository.ParseID(bookID); err != nil {
		return nil, ErrInvalidID
	}

	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	snapshots, err := s.snapshots.ListByBook(ctx, bookID, limit)
	if err != nil {
		return nil, err
	}
	if snapshots == nil {
		snapshots = []entity.RatingSnapshot{}
	}
	return snapshots, nil
}
