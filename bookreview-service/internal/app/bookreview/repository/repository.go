package repository

import (
	"context"
	"errors"
	"time"

	"bookreview/bookreview-service/internal/app/bookreview/entity"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Стандартные ошибки репозиториев для обработки в service layer
var (
	ErrInvalidID       = errors.New("invalid object id")
	ErrUserNotFound    = errors.New("user not found")
	ErrBookNotFound    = errors.New("book not found")
	ErrReviewNotFound  = errors.New("review not found")
	ErrDuplicateEmail  = errors.New("user with this email already exists")
	ErrDuplicateReview = errors.New("review for this book by this user already exists")
)

const metricsService = "bookreview-service"

type UserRepository interface {
	Create(ctx context.Context, user *entity.User) error
	GetByID(ctx context.Context, id string) (*entity.User, error)
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	GetByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]entity.User, error)
}

type BookRepository interface {
	Create(ctx context.Context, book *entity.Book) error
	GetByID(ctx context.Context, id string) (*entity.Book, error)
	GetByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]entity.Book, error)
	// Update меняет только редактируемые поля, рейтинг не трогает
	Update(ctx context.Context, book *entity.Book) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter entity.BookFilter) ([]entity.Book, int, error)
	// UpdateRating перезаписывает агрегат безусловно; ErrBookNotFound если книги нет
	UpdateRating(ctx context.Context, id string, average float64, total int) error
	ListIDs(ctx context.Context) ([]string, error)
	Genres(ctx context.Context) ([]string, error)
}

type ReviewRepository interface {
	// Create возвращает ErrDuplicateReview, если пара (bookId, userId) уже занята
	Create(ctx context.Context, review *entity.Review) error
	GetByID(ctx context.Context, id string) (*entity.Review, error)
	GetByBookID(ctx context.Context, bookID string) ([]entity.Review, error)
	GetByUserID(ctx context.Context, userID string) ([]entity.Review, error)
	Update(ctx context.Context, review *entity.Review) error
	Delete(ctx context.Context, id string) error
	DeleteByBookID(ctx context.Context, bookID string) (int64, error)
	RatingStats(ctx context.Context, bookID string) (entity.RatingStats, error)
	// BookIDs возвращает все bookId, на которые ссылаются отзывы
	BookIDs(ctx context.Context) ([]string, error)
}

type TokenRepository interface {
	AddToBlacklist(ctx context.Context, token string, expiresAt time.Time) error
	IsBlacklisted(ctx context.Context, token string) (bool, error)
}

// GenreCache - кеш списка жанров; nil без ошибки означает промах
type GenreCache interface {
	GetGenres(ctx context.Context) ([]string, error)
	SetGenres(ctx context.Context, genres []string) error
	InvalidateGenres(ctx context.Context) error
}

type RatingSnapshotRepository interface {
	Create(ctx context.Context, snapshot *entity.RatingSnapshot) error
	ListByBook(ctx context.Context, bookID string, limit int) ([]entity.RatingSnapshot, error)
	DeleteByBook(ctx context.Context, bookID string) (int64, error)
}

// ParseID переводит hex-строку в ObjectID
func ParseID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, ErrInvalidID
	}
	return oid, nil
}
