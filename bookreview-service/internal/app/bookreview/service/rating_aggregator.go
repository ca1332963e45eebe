package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"bookreview/bookreview-service/internal/app/bookreview/entity"
	"bookreview/bookreview-service/internal/app/bookreview/infrastructure"
	"bookreview/bookreview-service/internal/app/bookreview/repository"
	"bookreview/pkg/logger"
	"bookreview/pkg/metrics"
)

// Источники пересчёта для метрик и логов
const (
	TriggerReviewCreated = "review_created"
	TriggerReviewUpdated = "review_updated"
	TriggerReviewDeleted = "review_deleted"
	TriggerWorkerRetry   = "worker_retry"
	TriggerReconcile     = "reconcile"
)

// defaultRefreshTimeout ограничивает пересчёт после уже сохранённой записи отзыва
const defaultRefreshTimeout = 10 * time.Second

const failurePublishTimeout = 5 * time.Second

const lockStripes = 64

// RoundRating возвращает среднее, округлённое до десятых половиной вверх.
// Считается в целых: floor((20*sum + count) / (2*count)) десятых.
func RoundRating(sum, count int) float64 {
	if count <= 0 {
		return 0
	}
	tenths := (20*sum + count) / (2 * count)
	return float64(tenths) / 10
}

// RatingAggregator держит averageRating и totalReviews книги в соответствии с её отзывами.
// Каждый пересчёт читает полный набор отзывов, поэтому повторный вызов безопасен.
type RatingAggregator struct {
	reviewRepo  repository.ReviewRepository
	bookRepo    repository.BookRepository
	publisher   infrastructure.MessagePublisher
	maxAttempts int
	backoff     time.Duration

	refreshTimeout time.Duration

	// Пересчёты одной книги внутри процесса идут по очереди,
	// поэтому последний из них всегда видит полный набор отзывов
	locks [lockStripes]sync.Mutex
}

func NewRatingAggregator(
	reviewRepo repository.ReviewRepository,
	bookRepo repository.BookRepository,
	publisher infrastructure.MessagePublisher,
	maxAttempts int,
	backoff time.Duration,
) *RatingAggregator {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RatingAggregator{
		reviewRepo:  reviewRepo,
		bookRepo:    bookRepo,
		publisher:   publisher,
		maxAttempts:    maxAttempts,
		backoff:        backoff,
		refreshTimeout: defaultRefreshTimeout,
	}
}

// Recompute пересчитывает агрегат книги и перезаписывает его безусловно.
// Временные ошибки хранилища повторяются с линейной задержкой, отсутствие книги - нет.
func (a *RatingAggregator) Recompute(ctx context.Context, bookID string) (*entity.RatingSummary, error) {
	var lastErr error

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		summary, err := a.recomputeOnce(ctx, bookID)
		if err == nil {
			return summary, nil
		}
		if errors.Is(err, ErrBookNotFound) {
			return nil, err
		}

		lastErr = err
		if attempt == a.maxAttempts {
			break
		}

		logger.Debug().
			Err(err).
			Str("book_id", bookID).
			Int("attempt", attempt).
			Msg("Rating recompute failed, retrying")

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rating recompute cancelled: %w", ctx.Err())
		case <-time.After(a.backoff * time.Duration(attempt)):
		}
	}

	return nil, fmt.Errorf("failed to recompute rating after %d attempts: %w", a.maxAttempts, lastErr)
}

func (a *RatingAggregator) recomputeOnce(ctx context.Context, bookID string) (*entity.RatingSummary, error) {
	mu := a.lockFor(bookID)
	mu.Lock()
	defer mu.Unlock()

	stats, err := a.reviewRepo.RatingStats(ctx, bookID)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidID) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("failed to read rating stats: %w", err)
	}

	summary := &entity.RatingSummary{
		BookID:        bookID,
		AverageRating: RoundRating(stats.Sum, stats.Count),
		TotalReviews:  stats.Count,
	}

	if err := a.bookRepo.UpdateRating(ctx, bookID, summary.AverageRating, summary.TotalReviews); err != nil {
		if errors.Is(err, repository.ErrBookNotFound) || errors.Is(err, repository.ErrInvalidID) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("failed to update book rating: %w", err)
	}

	return summary, nil
}

func (a *RatingAggregator) lockFor(bookID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(bookID))
	return &a.locks[h.Sum32()%lockStripes]
}

// Refresh вызывается сервисами сразу после изменения отзывов.
// Ошибку наружу не отдаёт: отзыв уже сохранён, а неудачный пересчёт
// уходит в очередь событием RATING_RECOMPUTE_FAILED и доделывается воркером.
func (a *RatingAggregator) Refresh(ctx context.Context, bookID string, trigger string) {
	// Отмена клиентского запроса не должна оставлять агрегат устаревшим
	base := context.WithoutCancel(ctx)
	recomputeCtx, cancel := context.WithTimeout(base, a.refreshTimeout)
	defer cancel()

	log := logger.With().Str("book_id", bookID).Str("trigger", trigger).Logger()

	start := time.Now()
	summary, err := a.Recompute(recomputeCtx, bookID)
	ObserveRecompute(trigger, start, err)

	switch {
	case err == nil:
		log.Debug().
			Float64("average_rating", summary.AverageRating).
			Int("total_reviews", summary.TotalReviews).
			Msg("Book rating recomputed")

	case errors.Is(err, ErrBookNotFound):
		log.Warn().Msg("Book disappeared before rating recompute, skipping")

	default:
		log.Error().Err(err).Msg("Rating recompute failed")

		// Дедлайн пересчёта к этому моменту мог истечь, событию нужен свой
		publishCtx, cancelPublish := context.WithTimeout(base, failurePublishTimeout)
		defer cancelPublish()
		notify(publishCtx, a.publisher, entity.ReviewEvent{
			EventType: entity.EventRatingRecomputeFailed,
			BookID:    bookID,
			Error:     err.Error(),
		})
	}
}

// ObserveRecompute учитывает исход пересчёта в метриках под источником trigger
func ObserveRecompute(trigger string, start time.Time, err error) {
	switch {
	case err == nil:
		metrics.RatingRecomputes.WithLabelValues(trigger, "success").Inc()
		metrics.RatingRecomputeDuration.Observe(time.Since(start).Seconds())
	case errors.Is(err, ErrBookNotFound):
		metrics.RatingRecomputes.WithLabelValues(trigger, "book_missing").Inc()
	default:
		metrics.RatingRecomputes.WithLabelValues(trigger, "failed").Inc()
	}
}
