// Package memory хранит пользователей, книги и отзывы в памяти процесса.
// Используется в тестах сервисов и при STORAGE_BACKEND=memory.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"bookreview/bookreview-service/internal/app/bookreview/entity"
	"bookreview/bookreview-service/internal/app/bookreview/repository"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type UserRepository struct {
	mu    sync.RWMutex
	users map[primitive.ObjectID]entity.User
}

func NewUserRepository() *UserRepository {
	return &UserRepository{users: make(map[primitive.ObjectID]entity.User)}
}

func (r *UserRepository) Create(_ context.Context, user *entity.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user.Email = strings.ToLower(user.Email)
	for _, u := range r.users {
		if u.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
	}

	user.ID = primitive.NewObjectID()
	user.CreatedAt = time.Now().UTC()
	r.users[user.ID] = *user
	return nil
}

func (r *UserRepository) GetByID(_ context.Context, id string) (*entity.User, error) {
	oid, err := repository.ParseID(id)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[oid]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return &u, nil
}

func (r *UserRepository) GetByEmail(_ context.Context, email string) (*entity.User, error) {
	email = strings.ToLower(email)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (r *UserRepository) GetByIDs(_ context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]entity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	found := make(map[primitive.ObjectID]entity.User, len(ids))
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			found[id] = u
		}
	}
	return found, nil
}

type BookRepository struct {
	mu    sync.RWMutex
	books map[primitive.ObjectID]entity.Book
}

func NewBookRepository() *BookRepository {
	return &BookRepository{books: make(map[primitive.ObjectID]entity.Book)}
}

func (r *BookRepository) Create(_ context.Context, book *entity.Book) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	book.ID = primitive.NewObjectID()
	book.CreatedAt = now
	book.UpdatedAt = now
	r.books[book.ID] = *book
	return nil
}

func (r *BookRepository) GetByID(_ context.Context, id string) (*entity.Book, error) {
	oid, err := repository.ParseID(id)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.books[oid]
	if !ok {
		return nil, repository.ErrBookNotFound
	}
	return &b, nil
}

func (r *BookRepository) GetByIDs(_ context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]entity.Book, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	found := make(map[primitive.ObjectID]entity.Book, len(ids))
	for _, id := range ids {
		if b, ok := r.books[id]; ok {
			found[id] = b
		}
	}
	return found, nil
}

func (r *BookRepository) Update(_ context.Context, book *entity.Book) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.books[book.ID]
	if !ok {
		return repository.ErrBookNotFound
	}

	book.UpdatedAt = time.Now().UTC()
	stored.Title = book.Title
	stored.Author = book.Author
	stored.Description = book.Description
	stored.Genre = book.Genre
	stored.Year = book.Year
	stored.UpdatedAt = book.UpdatedAt
	r.books[book.ID] = stored

	book.AverageRating = stored.AverageRating
	book.TotalReviews = stored.TotalReviews
	return nil
}

func (r *BookRepository) Delete(_ context.Context, id string) error {
	oid, err := repository.ParseID(id)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.books[oid]; !ok {
		return repository.ErrBookNotFound
	}
	delete(r.books, oid)
	return nil
}

func (r *BookRepository) List(_ context.Context, filter entity.BookFilter) ([]entity.Book, int, error) {
	search := strings.ToLower(filter.Search)
	genre := strings.ToLower(filter.Genre)

	r.mu.RLock()
	matched := make([]entity.Book, 0, len(r.books))
	for _, b := range r.books {
		if search != "" &&
			!strings.Contains(strings.ToLower(b.Title), search) &&
			!strings.Contains(strings.ToLower(b.Author), search) {
			continue
		}
		if genre != "" && !strings.Contains(strings.ToLower(b.Genre), genre) {
			continue
		}
		matched = append(matched, b)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		c := compareBooks(matched[i], matched[j], filter.SortBy)
		if c == 0 {
			c = strings.Compare(matched[i].ID.Hex(), matched[j].ID.Hex())
		}
		if filter.Ascending {
			return c < 0
		}
		return c > 0
	})

	total := len(matched)
	if filter.Skip >= total {
		return []entity.Book{}, total, nil
	}
	end := filter.Skip + filter.Limit
	if end > total {
		end = total
	}
	return matched[filter.Skip:end], total, nil
}

func compareBooks(a, b entity.Book, field string) int {
	switch field {
	case "title":
		return strings.Compare(a.Title, b.Title)
	case "author":
		return strings.Compare(a.Author, b.Author)
	case "year":
		return a.Year - b.Year
	case "averageRating":
		switch {
		case a.AverageRating < b.AverageRating:
			return -1
		case a.AverageRating > b.AverageRating:
			return 1
		}
		return 0
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

func (r *BookRepository) UpdateRating(_ context.Context, id string, average float64, total int) error {
	oid, err := repository.ParseID(id)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.books[oid]
	if !ok {
		return repository.ErrBookNotFound
	}
	b.AverageRating = average
	b.TotalReviews = total
	r.books[oid] = b
	return nil
}

func (r *BookRepository) ListIDs(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.books))
	for id := range r.books {
		ids = append(ids, id.Hex())
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *BookRepository) Genres(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	genres := []string{}
	for _, b := range r.books {
		if _, ok := seen[b.Genre]; ok || b.Genre == "" {
			continue
		}
		seen[b.Genre] = struct{}{}
		genres = append(genres, b.Genre)
	}
	sort.Strings(genres)
	return genres, nil
}

// ReviewRepository проверяет уникальность (bookId, userId) и вставляет под одной блокировкой
type ReviewRepository struct {
	mu      sync.RWMutex
	reviews map[primitive.ObjectID]entity.Review
}

func NewReviewRepository() *ReviewRepository {
	return &ReviewRepository{reviews: make(map[primitive.ObjectID]entity.Review)}
}

func (r *ReviewRepository) Create(_ context.Context, review *entity.Review) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.reviews {
		if existing.BookID == review.BookID && existing.UserID == review.UserID {
			return repository.ErrDuplicateReview
		}
	}

	now := time.Now().UTC()
	review.ID = primitive.NewObjectID()
	review.CreatedAt = now
	review.UpdatedAt = now
	r.reviews[review.ID] = *review
	return nil
}

func (r *ReviewRepository) GetByID(_ context.Context, id string) (*entity.Review, error) {
	oid, err := repository.ParseID(id)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rv, ok := r.reviews[oid]
	if !ok {
		return nil, repository.ErrReviewNotFound
	}
	return &rv, nil
}

func (r *ReviewRepository) GetByBookID(_ context.Context, bookID string) ([]entity.Review, error) {
	oid, err := repository.ParseID(bookID)
	if err != nil {
		return nil, err
	}
	return r.filter(func(rv entity.Review) bool { return rv.BookID == oid }), nil
}

func (r *ReviewRepository) GetByUserID(_ context.Context, userID string) ([]entity.Review, error) {
	oid, err := repository.ParseID(userID)
	if err != nil {
		return nil, err
	}
	return r.filter(func(rv entity.Review) bool { return rv.UserID == oid }), nil
}

// filter возвращает отзывы, новые первыми
func (r *ReviewRepository) filter(keep func(entity.Review) bool) []entity.Review {
	r.mu.RLock()
	result := []entity.Review{}
	for _, rv := range r.reviews {
		if keep(rv) {
			result = append(result, rv)
		}
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID.Hex() > result[j].ID.Hex()
	})
	return result
}

func (r *ReviewRepository) Update(_ context.Context, review *entity.Review) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.reviews[review.ID]
	if !ok {
		return repository.ErrReviewNotFound
	}

	review.UpdatedAt = time.Now().UTC()
	stored.Rating = review.Rating
	stored.ReviewText = review.ReviewText
	stored.UpdatedAt = review.UpdatedAt
	r.reviews[review.ID] = stored
	return nil
}

func (r *ReviewRepository) Delete(_ context.Context, id string) error {
	oid, err := repository.ParseID(id)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.reviews[oid]; !ok {
		return repository.ErrReviewNotFound
	}
	delete(r.reviews, oid)
	return nil
}

func (r *ReviewRepository) DeleteByBookID(_ context.Context, bookID string) (int64, error) {
	oid, err := repository.ParseID(bookID)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for id, rv := range r.reviews {
		if rv.BookID == oid {
			delete(r.reviews, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *ReviewRepository) RatingStats(_ context.Context, bookID string) (entity.RatingStats, error) {
	oid, err := repository.ParseID(bookID)
	if err != nil {
		return entity.RatingStats{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats entity.RatingStats
	for _, rv := range r.reviews {
		if rv.BookID == oid {
			stats.Count++
			stats.Sum += rv.Rating
		}
	}
	return stats, nil
}

func (r *ReviewRepository) BookIDs(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[primitive.ObjectID]struct{})
	ids := []string{}
	for _, rv := range r.reviews {
		if _, ok := seen[rv.BookID]; ok {
			continue
		}
		seen[rv.BookID] = struct{}{}
		ids = append(ids, rv.BookID.Hex())
	}
	sort.Strings(ids)
	return ids, nil
}

// TokenRepository - черный список токенов без Redis
type TokenRepository struct {
	mu     sync.Mutex
	tokens map[string]time.Time
}

func NewTokenRepository() *TokenRepository {
	return &TokenRepository{tokens: make(map[string]time.Time)}
}

func (r *TokenRepository) AddToBlacklist(_ context.Context, token string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if time.Until(expiresAt) > 0 {
		r.tokens[token] = expiresAt
	}
	return nil
}

func (r *TokenRepository) IsBlacklisted(_ context.Context, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	expiresAt, ok := r.tokens[token]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiresAt) {
		delete(r.tokens, token)
		return false, nil
	}
	return true, nil
}

var (
	_ repository.UserRepository   = (*UserRepository)(nil)
	_ repository.BookRepository   = (*BookRepository)(nil)
	_ repository.ReviewRepository = (*ReviewRepository)(nil)
	_ repository.TokenRepository  = (*TokenRepository)(nil)
)
