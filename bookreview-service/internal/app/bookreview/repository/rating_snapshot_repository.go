package repository

import (
	"context"
	"fmt"
	"time"

	"bookreview/bookreview-service/internal/app/bookreview/entity"
	"bookreview/pkg/metrics"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const snapshotsTable = "rating_snapshots"

// ratingSnapshotRepository хранит историю агрегатов в PostgreSQL через GORM
type ratingSnapshotRepository struct {
	db *gorm.DB
}

func NewRatingSnapshotRepository(db *gorm.DB) RatingSnapshotRepository {
	return &ratingSnapshotRepository{db: db}
}

func (r *ratingSnapshotRepository) Create(ctx context.Context, snapshot *entity.RatingSnapshot) error {
	if snapshot.ID == uuid.Nil {
		snapshot.ID = uuid.New()
	}
	if snapshot.RecordedAt.IsZero() {
		snapshot.RecordedAt = time.Now().UTC()
	}

	timer := metrics.NewDbTimer(metricsService, metrics.DbOpInsert, snapshotsTable)
	result := r.db.WithContext(ctx).Create(snapshot)
	timer.Done(result.Error)
	if result.Error != nil {
		return fmt.Errorf("failed to create rating snapshot: %w", result.Error)
	}
	return nil
}

// ListByBook возвращает последние записи истории, новые первыми
func (r *ratingSnapshotRepository) ListByBook(ctx context.Context, bookID string, limit int) ([]entity.RatingSnapshot, error) {
	var snapshots []entity.RatingSnapshot

	timer := metrics.NewDbTimer(metricsService, metrics.DbOpSelect, snapshotsTable)
	result := r.db.WithContext(ctx).
		Where("book_id = ?", bookID).
		Order("recorded_at DESC").
		Limit(limit).
		Find(&snapshots)
	timer.Done(result.Error)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list rating snapshots: %w", result.Error)
	}

	return snapshots, nil
}

func (r *ratingSnapshotRepository) DeleteByBook(ctx context.Context, bookID string) (int64, error) {
	timer := metrics.NewDbTimer(metricsService, metrics.DbOpDelete, snapshotsTable)
	result := r.db.WithContext(ctx).Where("book_id = ?", bookID).Delete(&entity.RatingSnapshot{})
	timer.Done(result.Error)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete rating snapshots: %w", result.Error)
	}
	return result.RowsAffected, nil
}
