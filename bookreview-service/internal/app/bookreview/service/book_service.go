package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"bookreview/bookreview-service/internal/app/bookreview/entity"
	"bookreview/bookreview-service/internal/app/bookreview/infrastructure"
	"bookreview/bookreview-service/internal/app/bookreview/repository"
	"bookreview/pkg/logger"
	"bookreview/pkg/metrics"
)

const defaultSortField = "createdAt"

// maxPage - страница, для которой смещение ещё помещается в int
const maxPage = math.MaxInt / entity.PageSize

// Поля, по которым разрешена сортировка каталога
var sortableFields = map[string]struct{}{
	"title":         {},
	"author":        {},
	"year":          {},
	"averageRating": {},
	"createdAt":     {},
}

// BookService управляет каталогом книг
type BookService struct {
	bookRepo   repository.BookRepository
	reviewRepo repository.ReviewRepository
	userRepo   repository.UserRepository
	genreCache repository.GenreCache
	publisher  infrastructure.MessagePublisher
	validator  *Validator
	views      populator
}

// NewBookService создает сервис; genreCache может быть nil, тогда жанры читаются из базы
func NewBookService(
	bookRepo repository.BookRepository,
	reviewRepo repository.ReviewRepository,
	userRepo repository.UserRepository,
	genreCache repository.GenreCache,
	publisher infrastructure.MessagePublisher,
	validator *Validator,
) *BookService {
	return &BookService{
		bookRepo:   bookRepo,
		reviewRepo: reviewRepo,
		userRepo:   userRepo,
		genreCache: genreCache,
		publisher:  publisher,
		validator:  validator,
		views:      populator{users: userRepo, books: bookRepo},
	}
}

// NormalizeListQuery приводит параметры каталога к фильтру хранилища
func NormalizeListQuery(query entity.BookListQuery) (entity.BookFilter, int) {
	page := query.Page
	if page < 1 {
		page = 1
	}
	if page > maxPage {
		page = maxPage
	}

	sortBy := query.SortBy
	if _, ok := sortableFields[sortBy]; !ok {
		sortBy = defaultSortField
	}

	return entity.BookFilter{
		Search:    strings.TrimSpace(query.Search),
		Genre:     strings.TrimSpace(query.Genre),
		SortBy:    sortBy,
		Ascending: query.SortOrder == "asc",
		Skip:      (page - 1) * entity.PageSize,
		Limit:     entity.PageSize,
	}, page
}

// ListBooks возвращает страницу каталога с пагинацией
func (s *BookService) ListBooks(ctx context.Context, query entity.BookListQuery) (*entity.BookListResponse, error) {
	filter, page := NormalizeListQuery(query)

	books, total, err := s.bookRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}

	views, err := s.views.bookViews(ctx, books)
	if err != nil {
		return nil, err
	}

	totalPages := (total + entity.PageSize - 1) / entity.PageSize

	return &entity.BookListResponse{
		Books: views,
		Pagination: entity.Pagination{
			CurrentPage: page,
			TotalPages:  totalPages,
			TotalBooks:  total,
			HasNext:     page < totalPages,
			HasPrev:     page > 1,
		},
	}, nil
}

// GetBook возвращает книгу вместе с её отзывами
func (s *BookService) GetBook(ctx context.Context, id string) (*entity.BookDetailResponse, error) {
	book, err := s.getBook(ctx, id)
	if err != nil {
		return nil, err
	}

	view, err := s.views.oneBook(ctx, *book)
	if err != nil {
		return nil, err
	}

	reviews, err := s.reviewRepo.GetByBookID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get book reviews: %w", err)
	}

	reviewViews, err := s.views.reviewViews(ctx, reviews)
	if err != nil {
		return nil, err
	}

	return &entity.BookDetailResponse{Book: *view, Reviews: reviewViews}, nil
}

// CreateBook добавляет книгу; рейтинг новой книги нулевой
func (s *BookService) CreateBook(ctx context.Context, userID string, req *entity.BookRequest) (*entity.BookView, error) {
	trimBookRequest(req)
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	ownerID, err := repository.ParseID(userID)
	if err != nil {
		return nil, ErrUnauthorized
	}

	book := &entity.Book{
		Title:       req.Title,
		Author:      req.Author,
		Description: req.Description,
		Genre:       req.Genre,
		Year:        req.Year,
		AddedBy:     ownerID,
	}

	if err := s.bookRepo.Create(ctx, book); err != nil {
		return nil, fmt.Errorf("failed to create book: %w", err)
	}

	metrics.BooksChanged.WithLabelValues("created").Inc()
	s.invalidateGenres(ctx)

	logger.Info().
		Str("book_id", book.ID.Hex()).
		Str("user_id", userID).
		Str("title", book.Title).
		Msg("Book created")

	return s.views.oneBook(ctx, *book)
}

// UpdateBook меняет описательные поля книги; рейтинг не затрагивается
func (s *BookService) UpdateBook(ctx context.Context, id, userID string, req *entity.BookRequest) (*entity.BookView, error) {
	trimBookRequest(req)
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	book, err := s.getOwnedBook(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	book.Title = req.Title
	book.Author = req.Author
	book.Description = req.Description
	book.Genre = req.Genre
	book.Year = req.Year

	if err := s.bookRepo.Update(ctx, book); err != nil {
		if errors.Is(err, repository.ErrBookNotFound) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("failed to update book: %w", err)
	}

	metrics.BooksChanged.WithLabelValues("updated").Inc()
	s.invalidateGenres(ctx)

	return s.views.oneBook(ctx, *book)
}

// DeleteBook удаляет книгу вместе со всеми её отзывами.
// Отзывы удаляются первыми: при сбое между шагами остаётся книга без отзывов, а не отзывы без книги.
func (s *BookService) DeleteBook(ctx context.Context, id, userID string) error {
	if _, err := s.getOwnedBook(ctx, id, userID); err != nil {
		return err
	}

	removed, err := s.reviewRepo.DeleteByBookID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete book reviews: %w", err)
	}

	if err := s.bookRepo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrBookNotFound) {
			return ErrBookNotFound
		}
		return fmt.Errorf("failed to delete book: %w", err)
	}

	metrics.BooksChanged.WithLabelValues("deleted").Inc()
	s.invalidateGenres(ctx)

	notify(ctx, s.publisher, entity.ReviewEvent{
		EventType: entity.EventBookDeleted,
		BookID:    id,
		UserID:    userID,
	})

	logger.Info().
		Str("book_id", id).
		Str("user_id", userID).
		Int64("reviews_removed", removed).
		Msg("Book deleted")

	return nil
}

// GetGenres возвращает список жанров каталога, по возможности из кеша
func (s *BookService) GetGenres(ctx context.Context) ([]string, error) {
	if s.genreCache != nil {
		cached, err := s.genreCache.GetGenres(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to read genres from cache")
		} else if cached != nil {
			return cached, nil
		}
	}

	genres, err := s.bookRepo.Genres(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get genres: %w", err)
	}
	if genres == nil {
		genres = []string{}
	}

	if s.genreCache != nil {
		if err := s.genreCache.SetGenres(ctx, genres); err != nil {
			logger.Warn().Err(err).Msg("Failed to cache genres")
		}
	}

	return genres, nil
}

func (s *BookService) invalidateGenres(ctx context.Context) {
	if s.genreCache == nil {
		return
	}
	if err := s.genreCache.InvalidateGenres(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to invalidate genres cache")
	}
}

func (s *BookService) getBook(ctx context.Context, id string) (*entity.Book, error) {
	book, err := s.bookRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrBookNotFound) || errors.Is(err, repository.ErrInvalidID) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	return book, nil
}

func (s *BookService) getOwnedBook(ctx context.Context, id, userID string) (*entity.Book, error) {
	book, err := s.getBook(ctx, id)
	if err != nil {
		return nil, err
	}
	if book.AddedBy.Hex() != userID {
		return nil, ErrForbidden
	}
	return book, nil
}

func trimBookRequest(req *entity.BookRequest) {
	req.Title = strings.TrimSpace(req.Title)
	req.Author = strings.TrimSpace(req.Author)
	req.Description = strings.TrimSpace(req.Description)
	req.Genre = strings.TrimSpace(req.Genre)
}
