package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bookreview/bookreview-service/internal/app/bookreview/entity"
	"bookreview/bookreview-service/internal/app/bookreview/repository"
	"bookreview/pkg/logger"
	"bookreview/pkg/metrics"
)

// ReconcileReport - итог одного прохода сверки
type ReconcileReport struct {
	BooksChecked   int   `json:"books_checked"`
	Corrections    int   `json:"corrections"`
	Failures       int   `json:"failures"`
	OrphansRemoved int64 `json:"orphans_removed"`
}

// Reconciler периодически сверяет сохранённые рейтинги с отзывами
// и удаляет отзывы, чья книга уже удалена.
// Исправленные агрегаты попадают в историю рейтингов, если snapshots задан.
type Reconciler struct {
	bookRepo   repository.BookRepository
	reviewRepo repository.ReviewRepository
	aggregator RatingAggregatorInterface
	snapshots  repository.RatingSnapshotRepository
}

func NewReconciler(
	bookRepo repository.BookRepository,
	reviewRepo repository.ReviewRepository,
	aggregator RatingAggregatorInterface,
	snapshots repository.RatingSnapshotRepository,
) *Reconciler {
	return &Reconciler{
		bookRepo:   bookRepo,
		reviewRepo: reviewRepo,
		aggregator: aggregator,
		snapshots:  snapshots,
	}
}

// Run выполняет полный проход. Ошибка по отдельной книге не прерывает проход,
// а учитывается в Failures.
func (r *Reconciler) Run(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{}

	// Сначала bookId отзывов, затем id книг: книга, существовавшая при чтении
	// отзывов, либо есть во втором списке, либо уже удалена
	reviewedBooks, err := r.reviewRepo.BookIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviewed books: %w", err)
	}

	bookIDs, err := r.bookRepo.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}

	existing := make(map[string]struct{}, len(bookIDs))
	for _, id := range bookIDs {
		existing[id] = struct{}{}
	}

	for _, id := range reviewedBooks {
		if _, ok := existing[id]; ok {
			continue
		}
		removed, err := r.reviewRepo.DeleteByBookID(ctx, id)
		if err != nil {
			report.Failures++
			logger.Error().Err(err).Str("book_id", id).Msg("Failed to remove orphan reviews")
			continue
		}
		report.OrphansRemoved += removed
		logger.Info().Str("book_id", id).Int64("removed", removed).Msg("Removed orphan reviews")
	}

	for _, id := range bookIDs {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		corrected, err := r.reconcileBook(ctx, id)
		if err != nil {
			if errors.Is(err, ErrBookNotFound) {
				continue
			}
			report.Failures++
			logger.Error().Err(err).Str("book_id", id).Msg("Failed to reconcile book rating")
			continue
		}

		report.BooksChecked++
		if corrected {
			report.Corrections++
		}
	}

	metrics.WorkerReconcileCorrections.Add(float64(report.Corrections))
	metrics.WorkerOrphanReviewsRemoved.Add(float64(report.OrphansRemoved))

	return report, nil
}

// reconcileBook возвращает true, если сохранённый агрегат расходился с отзывами
func (r *Reconciler) reconcileBook(ctx context.Context, id string) (bool, error) {
	before, err := r.bookRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrBookNotFound) {
			return false, ErrBookNotFound
		}
		return false, fmt.Errorf("failed to get book: %w", err)
	}

	start := time.Now()
	summary, err := r.aggregator.Recompute(ctx, id)
	ObserveRecompute(TriggerReconcile, start, err)
	if err != nil {
		return false, err
	}

	changed := before.AverageRating != summary.AverageRating || before.TotalReviews != summary.TotalReviews
	if changed {
		logger.Warn().
			Str("book_id", id).
			Float64("stored_average", before.AverageRating).
			Int("stored_total", before.TotalReviews).
			Float64("average_rating", summary.AverageRating).
			Int("total_reviews", summary.TotalReviews).
			Msg("Corrected drifted book rating")

		if r.snapshots != nil {
			snapshot := &entity.RatingSnapshot{
				BookID:        id,
				AverageRating: summary.AverageRating,
				TotalReviews:  summary.TotalReviews,
				EventType:     entity.EventReconcile,
			}
			// Агрегат уже исправлен, потеря записи истории проход не валит
			if err := r.snapshots.Create(ctx, snapshot); err != nil {
				logger.Error().Err(err).Str("book_id", id).Msg("Failed to record reconcile snapshot")
			}
		}
	}

	return changed, nil
}
