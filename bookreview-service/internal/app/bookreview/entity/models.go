package entity

import (
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type User struct {
	ID           primitive.ObjectID `json:"_id" bson:"_id,omitempty"`
	Name         string             `json:"name" bson:"name"`
	Email        string             `json:"email" bson:"email"`
	PasswordHash string             `json:"-" bson:"password"`
	CreatedAt    time.Time          `json:"createdAt" bson:"createdAt"`
}

// Book - averageRating и totalReviews пишет только агрегатор рейтинга
type Book struct {
	ID            primitive.ObjectID `json:"_id" bson:"_id,omitempty"`
	Title         string             `json:"title" bson:"title"`
	Author        string             `json:"author" bson:"author"`
	Description   string             `json:"description" bson:"description"`
	Genre         string             `json:"genre" bson:"genre"`
	Year          int                `json:"year" bson:"year"`
	AddedBy       primitive.ObjectID `json:"addedBy" bson:"addedBy"`
	AverageRating float64            `json:"averageRating" bson:"averageRating"`
	TotalReviews  int                `json:"totalReviews" bson:"totalReviews"`
	CreatedAt     time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// Review - пара (bookId, userId) уникальна
type Review struct {
	ID         primitive.ObjectID `json:"_id" bson:"_id,omitempty"`
	BookID     primitive.ObjectID `json:"bookId" bson:"bookId"`
	UserID     primitive.ObjectID `json:"userId" bson:"userId"`
	Rating     int                `json:"rating" bson:"rating"`
	ReviewText string             `json:"reviewText" bson:"reviewText"`
	CreatedAt  time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt  time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// RatingStats - сумма и количество оценок по всем текущим отзывам книги
type RatingStats struct {
	Count int `bson:"count"`
	Sum   int `bson:"sum"`
}

// RatingSummary - результат пересчёта, записанный в книгу
type RatingSummary struct {
	BookID        string  `json:"bookId"`
	AverageRating float64 `json:"averageRating"`
	TotalReviews  int     `json:"totalReviews"`
}

// RatingSnapshot - историческая запись агрегата книги (PostgreSQL, воркер)
type RatingSnapshot struct {
	ID            uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	BookID        string    `json:"book_id" gorm:"type:varchar(24);index;not null"`
	AverageRating float64   `json:"average_rating" gorm:"not null"`
	TotalReviews  int       `json:"total_reviews" gorm:"not null"`
	EventType     string    `json:"event_type" gorm:"type:varchar(40);not null"`
	RecordedAt    time.Time `json:"recorded_at" gorm:"index;not null"`
}

func (RatingSnapshot) TableName() string {
	return "rating_snapshots"
}

// Типы событий в топике review_events
const (
	EventReviewCreated         = "REVIEW_CREATED"
	EventReviewUpdated         = "REVIEW_UPDATED"
	EventReviewDeleted         = "REVIEW_DELETED"
	EventBookDeleted           = "BOOK_DELETED"
	EventRatingRecomputeFailed = "RATING_RECOMPUTE_FAILED"
	EventReconcile             = "RECONCILE"
)

type ReviewEvent struct {
	EventType string    `json:"event_type"`
	BookID    string    `json:"book_id"`
	ReviewID  string    `json:"review_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Rating    int       `json:"rating,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
