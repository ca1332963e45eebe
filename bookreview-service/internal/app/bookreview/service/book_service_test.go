package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"bookreview/bookreview-service/internal/app/bookreview/entity"
	"bookreview/bookreview-service/internal/app/bookreview/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func validBookRequest(title string) *entity.BookRequest {
	return &entity.BookRequest{
		Title:       title,
		Author:      "Octavia E. Butler",
		Description: "A story of survival and adaptation.",
		Genre:       "Science Fiction",
		Year:        1993,
	}
}

func TestListBooks_Pagination(t *testing.T) {
	// Arrange
	f := newFixture(t)
	owner := f.user(t, "Owner")
	for i := 0; i < 12; i++ {
		f.book(t, owner, fmt.Sprintf("Book %02d", i))
	}
	ctx := context.Background()

	// Act
	first, err := f.bookSvc.ListBooks(ctx, entity.BookListQuery{Page: 1})
	require.NoError(t, err)
	last, err := f.bookSvc.ListBooks(ctx, entity.BookListQuery{Page: 3})
	require.NoError(t, err)
	beyond, err := f.bookSvc.ListBooks(ctx, entity.BookListQuery{Page: 4})
	require.NoError(t, err)

	// Assert
	assert.Len(t, first.Books, 5)
	assert.Equal(t, entity.Pagination{CurrentPage: 1, TotalPages: 3, TotalBooks: 12, HasNext: true, HasPrev: false}, first.Pagination)

	assert.Len(t, last.Books, 2)
	assert.Equal(t, entity.Pagination{CurrentPage: 3, TotalPages: 3, TotalBooks: 12, HasNext: false, HasPrev: true}, last.Pagination)

	assert.Empty(t, beyond.Books)
	assert.NotNil(t, beyond.Books)
	assert.False(t, beyond.Pagination.HasNext)
	assert.True(t, beyond.Pagination.HasPrev)
}

func TestListBooks_PageBelowOneTreatedAsFirst(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "Owner")
	f.book(t, owner, "Kindred")

	for _, page := range []int{0, -3} {
		res, err := f.bookSvc.ListBooks(context.Background(), entity.BookListQuery{Page: page})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Pagination.CurrentPage)
		assert.Len(t, res.Books, 1)
	}
}

func TestListBooks_HugePageIsEmptyNotPanic(t *testing.T) {
	// Arrange
	f := newFixture(t)
	f.book(t, f.user(t, "Owner"), "Kindred")

	// Act
	res, err := f.bookSvc.ListBooks(context.Background(), entity.BookListQuery{Page: 2000000000000000000})

	// Assert
	require.NoError(t, err)
	assert.Empty(t, res.Books)
	assert.NotNil(t, res.Books)
	assert.Equal(t, maxPage, res.Pagination.CurrentPage)
	assert.Equal(t, 1, res.Pagination.TotalBooks)
	assert.False(t, res.Pagination.HasNext)
	assert.True(t, res.Pagination.HasPrev)
}

func TestListBooks_StableAcrossPages(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "Owner")
	// Одинаковые заголовки: порядок задаётся только _id
	for i := 0; i < 12; i++ {
		f.book(t, owner, "Same Title")
	}

	seen := make(map[primitive.ObjectID]struct{})
	for page := 1; page <= 3; page++ {
		res, err := f.bookSvc.ListBooks(context.Background(), entity.BookListQuery{Page: page, SortBy: "title", SortOrder: "asc"})
		require.NoError(t, err)
		for _, b := range res.Books {
			seen[b.ID] = struct{}{}
		}
	}

	assert.Len(t, seen, 12)
}

func TestListBooks_SortingAndFilters(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "Owner")
	ctx := context.Background()

	for i, req := range []*entity.BookRequest{
		{Title: "Dune", Author: "Frank Herbert", Description: "Spice, sand and politics.", Genre: "Science Fiction", Year: 1965},
		{Title: "Emma", Author: "Jane Austen", Description: "A comedy of matchmaking.", Genre: "Classic Romance", Year: 1815},
		{Title: "Neuromancer", Author: "William Gibson", Description: "Cyberspace heist in Chiba.", Genre: "Cyberpunk", Year: 1984},
	} {
		_, err := f.bookSvc.CreateBook(ctx, owner, req)
		require.NoError(t, err, "book %d", i)
		time.Sleep(time.Millisecond)
	}

	titles := func(res *entity.BookListResponse) []string {
		out := make([]string, 0, len(res.Books))
		for _, b := range res.Books {
			out = append(out, b.Title)
		}
		return out
	}

	t.Run("year ascending", func(t *testing.T) {
		res, err := f.bookSvc.ListBooks(ctx, entity.BookListQuery{SortBy: "year", SortOrder: "asc"})
		require.NoError(t, err)
		assert.Equal(t, []string{"Emma", "Dune", "Neuromancer"}, titles(res))
	})

	t.Run("unknown sort field falls back to newest first", func(t *testing.T) {
		res, err := f.bookSvc.ListBooks(ctx, entity.BookListQuery{SortBy: "password", SortOrder: "asc"})
		require.NoError(t, err)
		assert.Equal(t, []string{"Neuromancer", "Emma", "Dune"}, titles(res))
	})

	t.Run("search matches author case-insensitively", func(t *testing.T) {
		res, err := f.bookSvc.ListBooks(ctx, entity.BookListQuery{Search: "AUSTEN"})
		require.NoError(t, err)
		assert.Equal(t, []string{"Emma"}, titles(res))
	})

	t.Run("search matches title", func(t *testing.T) {
		res, err := f.bookSvc.ListBooks(ctx, entity.BookListQuery{Search: "mancer"})
		require.NoError(t, err)
		assert.Equal(t, []string{"Neuromancer"}, titles(res))
	})

	t.Run("genre substring", func(t *testing.T) {
		res, err := f.bookSvc.ListBooks(ctx, entity.BookListQuery{Genre: "romance"})
		require.NoError(t, err)
		assert.Equal(t, []string{"Emma"}, titles(res))
	})

	t.Run("regex characters are literal", func(t *testing.T) {
		res, err := f.bookSvc.ListBooks(ctx, entity.BookListQuery{Search: ".*"})
		require.NoError(t, err)
		assert.Empty(t, res.Books)
		assert.Equal(t, 0, res.Pagination.TotalPages)
	})
}

func TestNormalizeListQuery(t *testing.T) {
	testCases := []struct {
		name     string
		query    entity.BookListQuery
		expected entity.BookFilter
		page     int
	}{
		{
			name:     "defaults",
			query:    entity.BookListQuery{},
			expected: entity.BookFilter{SortBy: "createdAt", Ascending: false, Skip: 0, Limit: 5},
			page:     1,
		},
		{
			name:     "third page by rating ascending",
			query:    entity.BookListQuery{Page: 3, SortBy: "averageRating", SortOrder: "asc"},
			expected: entity.BookFilter{SortBy: "averageRating", Ascending: true, Skip: 10, Limit: 5},
			page:     3,
		},
		{
			name:     "anything but asc is descending",
			query:    entity.BookListQuery{SortBy: "title", SortOrder: "ASC"},
			expected: entity.BookFilter{SortBy: "title", Ascending: false, Skip: 0, Limit: 5},
			page:     1,
		},
		{
			name:     "filters are trimmed",
			query:    entity.BookListQuery{Search: "  dune ", Genre: " sci "},
			expected: entity.BookFilter{Search: "dune", Genre: "sci", SortBy: "createdAt", Skip: 0, Limit: 5},
			page:     1,
		},
		{
			name:     "huge page does not overflow skip",
			query:    entity.BookListQuery{Page: math.MaxInt},
			expected: entity.BookFilter{SortBy: "createdAt", Skip: (maxPage - 1) * entity.PageSize, Limit: 5},
			page:     maxPage,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			filter, page := NormalizeListQuery(tc.query)
			assert.Equal(t, tc.expected, filter)
			assert.Equal(t, tc.page, page)
		})
	}
}

func TestCreateBook_Validation(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "Owner")

	testCases := []struct {
		name   string
		mutate func(r *entity.BookRequest)
		param  string
		msg    string
	}{
		{"blank title", func(r *entity.BookRequest) { r.Title = "   " }, "title", "Title is required and must be less than 100 characters"},
		{"long author", func(r *entity.BookRequest) { r.Author = strings.Repeat("a", 51) }, "author", "Author is required and must be less than 50 characters"},
		{"short description", func(r *entity.BookRequest) { r.Description = "Too short" }, "description", "Description must be between 10 and 1000 characters"},
		{"long genre", func(r *entity.BookRequest) { r.Genre = strings.Repeat("g", 31) }, "genre", "Genre is required and must be less than 30 characters"},
		{"ancient year", func(r *entity.BookRequest) { r.Year = 999 }, "year", "Year must be a valid year"},
		{"future year", func(r *entity.BookRequest) { r.Year = time.Now().Year() + 1 }, "year", "Year must be a valid year"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := validBookRequest("Parable of the Sower")
			tc.mutate(req)

			view, err := f.bookSvc.CreateBook(context.Background(), owner, req)

			assert.Nil(t, view)
			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			require.Len(t, validationErr.Errors, 1)
			assert.Equal(t, tc.param, validationErr.Errors[0].Param)
			assert.Equal(t, tc.msg, validationErr.Errors[0].Msg)
		})
	}

	ids, err := f.books.ListIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCreateBook_CountsCharactersNotBytes(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "Owner")
	req := validBookRequest(strings.Repeat("я", 100))

	view, err := f.bookSvc.CreateBook(context.Background(), owner, req)

	require.NoError(t, err)
	assert.Equal(t, "Owner", view.AddedBy.Name)
	assert.Equal(t, 0.0, view.AverageRating)
	assert.Equal(t, 0, view.TotalReviews)
}

func TestUpdateBook_NonOwnerForbiddenAndUnchanged(t *testing.T) {
	// Arrange
	f := newFixture(t)
	owner := f.user(t, "Owner")
	intruder := f.user(t, "Intruder")
	bookID := f.book(t, owner, "Wild Seed")
	before, err := f.books.GetByID(context.Background(), bookID)
	require.NoError(t, err)

	// Act
	view, err := f.bookSvc.UpdateBook(context.Background(), bookID, intruder, validBookRequest("Hijacked"))

	// Assert
	assert.Nil(t, view)
	assert.ErrorIs(t, err, ErrForbidden)
	after, err := f.books.GetByID(context.Background(), bookID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestUpdateBook_KeepsRating(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "Owner")
	bookID := f.book(t, owner, "Fledgling")
	f.review(t, f.user(t, "Reader"), bookID, 4)

	view, err := f.bookSvc.UpdateBook(context.Background(), bookID, owner, validBookRequest("Fledgling (Revised)"))

	require.NoError(t, err)
	assert.Equal(t, "Fledgling (Revised)", view.Title)
	assert.Equal(t, 4.0, view.AverageRating)
	assert.Equal(t, 1, view.TotalReviews)
	avg, total := f.stored(t, bookID)
	assert.Equal(t, 4.0, avg)
	assert.Equal(t, 1, total)
}

func TestUpdateBook_Errors(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "Owner")

	_, err := f.bookSvc.UpdateBook(context.Background(), primitive.NewObjectID().Hex(), owner, validBookRequest("Ghost"))
	assert.ErrorIs(t, err, ErrBookNotFound)

	_, err = f.bookSvc.UpdateBook(context.Background(), "bad-id", owner, validBookRequest("Ghost"))
	assert.ErrorIs(t, err, ErrBookNotFound)

	// Валидация выполняется до поиска книги
	bad := validBookRequest("")
	_, err = f.bookSvc.UpdateBook(context.Background(), primitive.NewObjectID().Hex(), owner, bad)
	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestDeleteBook_CascadesReviews(t *testing.T) {
	// Arrange
	f := newFixture(t)
	owner := f.user(t, "Owner")
	bookID := f.book(t, owner, "Lilith's Brood")
	otherID := f.book(t, owner, "Clay's Ark")
	f.review(t, f.user(t, "A"), bookID, 5)
	f.review(t, f.user(t, "B"), bookID, 3)
	keeper := f.user(t, "C")
	f.review(t, keeper, otherID, 2)
	ctx := context.Background()

	// Act
	err := f.bookSvc.DeleteBook(ctx, bookID, owner)

	// Assert
	require.NoError(t, err)

	_, err = f.bookSvc.GetBook(ctx, bookID)
	assert.ErrorIs(t, err, ErrBookNotFound)

	remaining, err := f.reviews.GetByBookID(ctx, bookID)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	untouched, err := f.reviews.GetByBookID(ctx, otherID)
	require.NoError(t, err)
	assert.Len(t, untouched, 1)

	events := f.events(t)
	last := events[len(events)-1]
	assert.Equal(t, entity.EventBookDeleted, last.EventType)
	assert.Equal(t, bookID, last.BookID)
	for _, e := range events {
		assert.NotEqual(t, entity.EventRatingRecomputeFailed, e.EventType)
	}
}

func TestDeleteBook_Errors(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "Owner")
	intruder := f.user(t, "Intruder")
	bookID := f.book(t, owner, "Patternmaster")
	f.review(t, intruder, bookID, 1)

	err := f.bookSvc.DeleteBook(context.Background(), bookID, intruder)
	assert.ErrorIs(t, err, ErrForbidden)

	reviews, err := f.reviews.GetByBookID(context.Background(), bookID)
	require.NoError(t, err)
	assert.Len(t, reviews, 1)

	err = f.bookSvc.DeleteBook(context.Background(), primitive.NewObjectID().Hex(), owner)
	assert.ErrorIs(t, err, ErrBookNotFound)
}

func TestGetBook_WithReviews(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "Owner")
	bookID := f.book(t, owner, "Dawn")
	f.review(t, f.user(t, "Early"), bookID, 2)
	time.Sleep(2 * time.Millisecond)
	f.review(t, f.user(t, "Late"), bookID, 5)

	detail, err := f.bookSvc.GetBook(context.Background(), bookID)

	require.NoError(t, err)
	assert.Equal(t, "Owner", detail.Book.AddedBy.Name)
	assert.Equal(t, 3.5, detail.Book.AverageRating)
	require.Len(t, detail.Reviews, 2)
	assert.Equal(t, "Late", detail.Reviews[0].UserID.Name)
	assert.Equal(t, "Early", detail.Reviews[1].UserID.Name)
}

func TestGetGenres_CachedAndInvalidated(t *testing.T) {
	// Arrange
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t)
	cache := repository.NewRedisGenreCache(client, time.Hour)
	svc := NewBookService(f.books, f.reviews, f.users, cache, f.publisher, NewValidator())
	owner := f.user(t, "Owner")
	ctx := context.Background()

	req := validBookRequest("Imago")
	_, err := svc.CreateBook(ctx, owner, req)
	require.NoError(t, err)

	// Act
	genres, err := svc.GetGenres(ctx)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []string{"Science Fiction"}, genres)
	assert.True(t, mr.Exists("genres:all"))
	assert.Equal(t, time.Hour, mr.TTL("genres:all"))

	poetry := validBookRequest("Odes")
	poetry.Genre = "Poetry"
	_, err = svc.CreateBook(ctx, owner, poetry)
	require.NoError(t, err)
	assert.False(t, mr.Exists("genres:all"))

	genres, err = svc.GetGenres(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Poetry", "Science Fiction"}, genres)
}

func TestGetGenres_CacheOutageFallsBackToStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t)
	svc := NewBookService(f.books, f.reviews, f.users, repository.NewRedisGenreCache(client, time.Hour), f.publisher, NewValidator())
	owner := f.user(t, "Owner")
	_, err := svc.CreateBook(context.Background(), owner, validBookRequest("Survivor"))
	require.NoError(t, err)

	mr.Close()

	genres, err := svc.GetGenres(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Science Fiction"}, genres)
}

func TestGetGenres_EmptyCatalog(t *testing.T) {
	f := newFixture(t)

	genres, err := f.bookSvc.GetGenres(context.Background())

	require.NoError(t, err)
	assert.NotNil(t, genres)
	assert.Empty(t, genres)
}
