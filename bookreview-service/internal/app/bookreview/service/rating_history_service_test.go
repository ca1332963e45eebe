package service

import (
	"context"
	"errors"
	"testing"

	"bookreview/bookreview-service/internal/app/bookreview/entity"
	"bookreview/bookreview-service/internal/app/bookreview/repository"
	"bookreview/bookreview-service/internal/app/bookreview/repository/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type historyDeps struct {
	snapshots  *mocks.MockSnapshotRepository
	books      *mocks.MockBookRepository
	aggregator *mockAggregator
	svc        *RatingHistoryService
}

func newHistoryDeps() *historyDeps {
	d := &historyDeps{
		snapshots:  new(mocks.MockSnapshotRepository),
		books:      new(mocks.MockBookRepository),
		aggregator: new(mockAggregator),
	}
	d.svc = NewRatingHistoryService(d.snapshots, d.books, d.aggregator)
	return d
}

func TestProcessReviewEvent_RecomputeFailedIsRetried(t *testing.T) {
	// Arrange
	d := newHistoryDeps()
	ctx := context.Background()
	bookID := primitive.NewObjectID().Hex()

	d.aggregator.On("Recompute", ctx, bookID).
		Return(&entity.RatingSummary{BookID: bookID, AverageRating: 3.5, TotalReviews: 2}, nil)
	d.snapshots.On("Create", ctx, mock.MatchedBy(func(s *entity.RatingSnapshot) bool {
		return s.BookID == bookID &&
			s.AverageRating == 3.5 &&
			s.TotalReviews == 2 &&
			s.EventType == entity.EventRatingRecomputeFailed
	})).Return(nil)

	// Act
	err := d.svc.ProcessReviewEvent(ctx, &entity.ReviewEvent{
		EventType: entity.EventRatingRecomputeFailed,
		BookID:    bookID,
		Error:     "write conflict",
	})

	// Assert
	assert.NoError(t, err)
	d.aggregator.AssertExpectations(t)
	d.snapshots.AssertExpectations(t)
}

func TestProcessReviewEvent_RecomputeStillFailing(t *testing.T) {
	d := newHistoryDeps()
	ctx := context.Background()
	bookID := primitive.NewObjectID().Hex()

	d.aggregator.On("Recompute", ctx, bookID).Return(nil, errors.New("mongo unavailable"))
	before := recomputeCount(TriggerWorkerRetry, "failed")

	err := d.svc.ProcessReviewEvent(ctx, &entity.ReviewEvent{
		EventType: entity.EventRatingRecomputeFailed,
		BookID:    bookID,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to recompute rating")
	assert.Equal(t, before+1, recomputeCount(TriggerWorkerRetry, "failed"))
	d.snapshots.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestProcessReviewEvent_RecomputeForDeletedBookIsDropped(t *testing.T) {
	d := newHistoryDeps()
	ctx := context.Background()
	bookID := primitive.NewObjectID().Hex()

	d.aggregator.On("Recompute", ctx, bookID).Return(nil, ErrBookNotFound)

	err := d.svc.ProcessReviewEvent(ctx, &entity.ReviewEvent{
		EventType: entity.EventRatingRecomputeFailed,
		BookID:    bookID,
	})

	assert.NoError(t, err)
	d.snapshots.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestProcessReviewEvent_ReviewEventsSnapshotBook(t *testing.T) {
	for _, eventType := range []string{
		entity.EventReviewCreated,
		entity.EventReviewUpdated,
		entity.EventReviewDeleted,
	} {
		t.Run(eventType, func(t *testing.T) {
			// Arrange
			d := newHistoryDeps()
			ctx := context.Background()
			bookID := primitive.NewObjectID().Hex()

			d.books.On("GetByID", ctx, bookID).
				Return(&entity.Book{AverageRating: 4.3, TotalReviews: 3}, nil)
			d.snapshots.On("Create", ctx, mock.MatchedBy(func(s *entity.RatingSnapshot) bool {
				return s.BookID == bookID && s.AverageRating == 4.3 && s.TotalReviews == 3 && s.EventType == eventType
			})).Return(nil)

			// Act
			err := d.svc.ProcessReviewEvent(ctx, &entity.ReviewEvent{EventType: eventType, BookID: bookID})

			// Assert
			assert.NoError(t, err)
			d.snapshots.AssertExpectations(t)
			d.aggregator.AssertNotCalled(t, "Recompute", mock.Anything, mock.Anything)
		})
	}
}

func TestProcessReviewEvent_ReviewEventForMissingBook(t *testing.T) {
	d := newHistoryDeps()
	ctx := context.Background()
	bookID := primitive.NewObjectID().Hex()

	d.books.On("GetByID", ctx, bookID).Return(nil, repository.ErrBookNotFound)

	err := d.svc.ProcessReviewEvent(ctx, &entity.ReviewEvent{EventType: entity.EventReviewCreated, BookID: bookID})

	assert.NoError(t, err)
	d.snapshots.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestProcessReviewEvent_SnapshotWriteError(t *testing.T) {
	d := newHistoryDeps()
	ctx := context.Background()
	bookID := primitive.NewObjectID().Hex()

	d.books.On("GetByID", ctx, bookID).Return(&entity.Book{AverageRating: 5, TotalReviews: 1}, nil)
	d.snapshots.On("Create", ctx, mock.Anything).Return(errors.New("connection reset"))

	err := d.svc.ProcessReviewEvent(ctx, &entity.ReviewEvent{EventType: entity.EventReviewCreated, BookID: bookID})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to record rating snapshot")
}

func TestProcessReviewEvent_BookDeletedDropsHistory(t *testing.T) {
	d := newHistoryDeps()
	ctx := context.Background()
	bookID := primitive.NewObjectID().Hex()

	d.snapshots.On("DeleteByBook", ctx, bookID).Return(int64(4), nil)

	err := d.svc.ProcessReviewEvent(ctx, &entity.ReviewEvent{EventType: entity.EventBookDeleted, BookID: bookID})

	assert.NoError(t, err)
	d.snapshots.AssertExpectations(t)
}

func TestProcessReviewEvent_IgnoredEvents(t *testing.T) {
	d := newHistoryDeps()
	ctx := context.Background()

	assert.NoError(t, d.svc.ProcessReviewEvent(ctx, &entity.ReviewEvent{EventType: "SOMETHING_ELSE", BookID: "x"}))
	assert.NoError(t, d.svc.ProcessReviewEvent(ctx, &entity.ReviewEvent{EventType: entity.EventReviewCreated}))

	d.books.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
	d.snapshots.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestHistory_Limits(t *testing.T) {
	testCases := []struct {
		name      string
		requested int
		expected  int
	}{
		{"default", 0, DefaultHistoryLimit},
		{"negative", -3, DefaultHistoryLimit},
		{"within range", 10, 10},
		{"capped", 1000, MaxHistoryLimit},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := newHistoryDeps()
			ctx := context.Background()
			bookID := primitive.NewObjectID().Hex()

			d.snapshots.On("ListByBook", ctx, bookID, tc.expected).Return(nil, nil)

			history, err := d.svc.History(ctx, bookID, tc.requested)

			require.NoError(t, err)
			assert.NotNil(t, history)
			assert.Empty(t, history)
			d.snapshots.AssertExpectations(t)
		})
	}
}

func TestHistory_InvalidID(t *testing.T) {
	d := newHistoryDeps()

	_, err := d.svc.History(context.Background(), "not-an-id", 10)

	assert.ErrorIs(t, err, ErrInvalidID)
	d.snapshots.AssertNotCalled(t, "ListByBook", mock.Anything, mock.Anything, mock.Anything)
}
