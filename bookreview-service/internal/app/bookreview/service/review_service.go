package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bookreview/bookreview-service/internal/app/bookreview/entity"
	"bookreview/bookreview-service/internal/app/bookreview/infrastructure"
	"bookreview/bookreview-service/internal/app/bookreview/repository"
	"bookreview/pkg/logger"
	"bookreview/pkg/metrics"
)

// ReviewService обрабатывает бизнес-логику отзывов.
// После каждой записи синхронно пересчитывает рейтинг книги и публикует событие в Kafka.
type ReviewService struct {
	reviewRepo repository.ReviewRepository
	bookRepo   repository.BookRepository
	userRepo   repository.UserRepository
	aggregator RatingAggregatorInterface
	publisher  infrastructure.MessagePublisher
	validator  *Validator
	views      populator
}

func NewReviewService(
	reviewRepo repository.ReviewRepository,
	bookRepo repository.BookRepository,
	userRepo repository.UserRepository,
	aggregator RatingAggregatorInterface,
	publisher infrastructure.MessagePublisher,
	validator *Validator,
) *ReviewService {
	return &ReviewService{
		reviewRepo: reviewRepo,
		bookRepo:   bookRepo,
		userRepo:   userRepo,
		aggregator: aggregator,
		publisher:  publisher,
		validator:  validator,
		views:      populator{users: userRepo, books: bookRepo},
	}
}

// CreateReview создает отзыв.
// Уникальность пары (bookId, userId) обеспечивает хранилище, предварительной проверки нет.
func (s *ReviewService) CreateReview(ctx context.Context, userID string, req *entity.CreateReviewRequest) (*entity.ReviewView, error) {
	req.BookID = strings.TrimSpace(req.BookID)
	req.ReviewText = strings.TrimSpace(req.ReviewText)
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	userOID, err := repository.ParseID(userID)
	if err != nil {
		return nil, ErrUnauthorized
	}

	book, err := s.bookRepo.GetByID(ctx, req.BookID)
	if err != nil {
		if errors.Is(err, repository.ErrBookNotFound) || errors.Is(err, repository.ErrInvalidID) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("failed to get book: %w", err)
	}

	review := &entity.Review{
		BookID:     book.ID,
		UserID:     userOID,
		Rating:     req.Rating,
		ReviewText: req.ReviewText,
	}

	if err := s.reviewRepo.Create(ctx, review); err != nil {
		if errors.Is(err, repository.ErrDuplicateReview) {
			metrics.ReviewsChanged.WithLabelValues("duplicate").Inc()
			return nil, ErrDuplicateReview
		}
		return nil, fmt.Errorf("failed to create review: %w", err)
	}

	bookID := book.ID.Hex()
	s.aggregator.Refresh(ctx, bookID, TriggerReviewCreated)

	metrics.ReviewsChanged.WithLabelValues("created").Inc()
	metrics.ReviewsRating.Observe(float64(review.Rating))

	notify(ctx, s.publisher, entity.ReviewEvent{
		EventType: entity.EventReviewCreated,
		BookID:    bookID,
		ReviewID:  review.ID.Hex(),
		UserID:    userID,
		Rating:    review.Rating,
	})

	logger.Info().
		Str("review_id", review.ID.Hex()).
		Str("book_id", bookID).
		Str("user_id", userID).
		Int("rating", review.Rating).
		Msg("Review created")

	return s.views.oneReview(ctx, *review)
}

// UpdateReview меняет оценку и текст; изменять отзыв может только его автор
func (s *ReviewService) UpdateReview(ctx context.Context, reviewID, userID string, req *entity.UpdateReviewRequest) (*entity.ReviewView, error) {
	req.ReviewText = strings.TrimSpace(req.ReviewText)
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	review, err := s.getOwnedReview(ctx, reviewID, userID)
	if err != nil {
		return nil, err
	}

	review.Rating = req.Rating
	review.ReviewText = req.ReviewText

	if err := s.reviewRepo.Update(ctx, review); err != nil {
		if errors.Is(err, repository.ErrReviewNotFound) {
			return nil, ErrReviewNotFound
		}
		return nil, fmt.Errorf("failed to update review: %w", err)
	}

	bookID := review.BookID.Hex()
	s.aggregator.Refresh(ctx, bookID, TriggerReviewUpdated)

	metrics.ReviewsChanged.WithLabelValues("updated").Inc()
	metrics.ReviewsRating.Observe(float64(review.Rating))

	notify(ctx, s.publisher, entity.ReviewEvent{
		EventType: entity.EventReviewUpdated,
		BookID:    bookID,
		ReviewID:  review.ID.Hex(),
		UserID:    userID,
		Rating:    review.Rating,
	})

	return s.views.oneReview(ctx, *review)
}

// DeleteReview удаляет отзыв автора и пересчитывает рейтинг книги
func (s *ReviewService) DeleteReview(ctx context.Context, reviewID, userID string) error {
	review, err := s.getOwnedReview(ctx, reviewID, userID)
	if err != nil {
		return err
	}

	if err := s.reviewRepo.Delete(ctx, reviewID); err != nil {
		if errors.Is(err, repository.ErrReviewNotFound) {
			return ErrReviewNotFound
		}
		return fmt.Errorf("failed to delete review: %w", err)
	}

	bookID := review.BookID.Hex()
	s.aggregator.Refresh(ctx, bookID, TriggerReviewDeleted)

	metrics.ReviewsChanged.WithLabelValues("deleted").Inc()

	notify(ctx, s.publisher, entity.ReviewEvent{
		EventType: entity.EventReviewDeleted,
		BookID:    bookID,
		ReviewID:  reviewID,
		UserID:    userID,
	})

	return nil
}

// GetReviewsByBook - отзывы книги, новые первыми
func (s *ReviewService) GetReviewsByBook(ctx context.Context, bookID string) ([]entity.ReviewView, error) {
	reviews, err := s.reviewRepo.GetByBookID(ctx, bookID)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidID) {
			return nil, ErrInvalidID
		}
		return nil, fmt.Errorf("failed to get reviews: %w", err)
	}

	return s.views.reviewViews(ctx, reviews)
}

// GetUserReviews - отзывы пользователя, новые первыми
func (s *ReviewService) GetUserReviews(ctx context.Context, userID string) ([]entity.ReviewView, error) {
	reviews, err := s.reviewRepo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidID) {
			return nil, ErrInvalidID
		}
		return nil, fmt.Errorf("failed to get user reviews: %w", err)
	}

	return s.views.reviewViews(ctx, reviews)
}

func (s *ReviewService) getOwnedReview(ctx context.Context, reviewID, userID string) (*entity.Review, error) {
	review, err := s.reviewRepo.GetByID(ctx, reviewID)
	if err != nil {
		if errors.Is(err, repository.ErrReviewNotFound) || errors.Is(err, repository.ErrInvalidID) {
			return nil, ErrReviewNotFound
		}
		return nil, fmt.Errorf("failed to get review: %w", err)
	}

	if review.UserID.Hex() != userID {
		return nil, ErrForbidden
	}

	return review, nil
}
