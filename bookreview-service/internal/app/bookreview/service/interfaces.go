package service

import (
	"context"

	"bookreview/bookreview-service/internal/app/bookreview/entity"
)

// RatingAggregatorInterface - пересчёт averageRating/totalReviews книги
type RatingAggregatorInterface interface {
	Recompute(ctx context.Context, bookID string) (*entity.RatingSummary, error)
	Refresh(ctx context.Context, bookID string, trigger string)
}

type ReviewServiceInterface interface {
	CreateReview(ctx context.Context, userID string, req *entity.CreateReviewRequest) (*entity.ReviewView, error)
	UpdateReview(ctx context.Context, reviewID, userID string, req *entity.UpdateReviewRequest) (*entity.ReviewView, error)
	DeleteReview(ctx context.Context, reviewID, userID string) error
	GetReviewsByBook(ctx context.Context, bookID string) ([]entity.ReviewView, error)
	GetUserReviews(ctx context.Context, userID string) ([]entity.ReviewView, error)
}

type BookServiceInterface interface {
	ListBooks(ctx context.Context, query entity.BookListQuery) (*entity.BookListResponse, error)
	GetBook(ctx context.Context, id string) (*entity.BookDetailResponse, error)
	CreateBook(ctx context.Context, userID string, req *entity.BookRequest) (*entity.BookView, error)
	UpdateBook(ctx context.Context, id, userID string, req *entity.BookRequest) (*entity.BookView, error)
	DeleteBook(ctx context.Context, id, userID string) error
	GetGenres(ctx context.Context) ([]string, error)
}

type AuthServiceInterface interface {
	Register(ctx context.Context, req *entity.RegisterRequest) (*entity.AuthResult, error)
	Login(ctx context.Context, req *entity.LoginRequest) (*entity.AuthResult, error)
	GetCurrentUser(ctx context.Context, userID string) (*entity.UserInfo, error)
	Logout(ctx context.Context, token string) error
	ValidateToken(ctx context.Context, token string) (string, error)
}

// RatingHistoryServiceInterface - обработка событий review_events воркером
type RatingHistoryServiceInterface interface {
	ProcessReviewEvent(ctx context.Context, event *entity.ReviewEvent) error
	History(ctx context.Context, bookID string, limit int) ([]entity.RatingSnapshot, error)
}

type ReconcilerInterface interface {
	Run(ctx context.Context) (*ReconcileReport, error)
}
