//go:build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bookreview/bookreview-service/internal/app/bookreview/entity"
	"bookreview/bookreview-service/internal/app/bookreview/infrastructure/messaging"
	"bookreview/bookreview-service/internal/app/bookreview/repository"
	"bookreview/bookreview-service/internal/app/bookreview/service"

	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type BookReviewIntegrationTestSuite struct {
	suite.Suite
	client *mongo.Client
	db     *mongo.Database

	users   repository.UserRepository
	books   repository.BookRepository
	reviews repository.ReviewRepository

	aggregator    *service.RatingAggregator
	bookService   *service.BookService
	reviewService *service.ReviewService
}

func TestBookReviewIntegrationSuite(t *testing.T) {
	suite.Run(t, new(BookReviewIntegrationTestSuite))
}

func (s *BookReviewIntegrationTestSuite) SetupSuite() {
	mongoURI := getEnv("TEST_MONGODB_URI", "mongodb://localhost:27018")
	dbName := getEnv("TEST_MONGODB_DATABASE", "bookreview_test_db")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	s.client, err = mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
	s.Require().NoError(err)
	s.Require().NoError(s.client.Ping(ctx, nil))

	s.db = s.client.Database(dbName)
}

// SetupTest пересоздает базу; репозитории создаются заново, чтобы вернуть индексы
func (s *BookReviewIntegrationTestSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.db.Drop(ctx))

	var err error
	s.users, err = repository.NewUserRepository(ctx, s.db)
	s.Require().NoError(err)
	s.reviews, err = repository.NewReviewRepository(ctx, s.db)
	s.Require().NoError(err)
	s.books = repository.NewBookRepository(ctx, s.db)

	publisher := messaging.NopPublisher{}
	validator := service.NewValidator()

	s.aggregator = service.NewRatingAggregator(s.reviews, s.books, publisher, 3, 10*time.Millisecond)
	s.bookService = service.NewBookService(s.books, s.reviews, s.users, nil, publisher, validator)
	s.reviewService = service.NewReviewService(s.reviews, s.books, s.users, s.aggregator, publisher, validator)
}

func (s *BookReviewIntegrationTestSuite) TearDownSuite() {
	if s.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.db.Drop(ctx)
		_ = s.client.Disconnect(ctx)
	}
}

func (s *BookReviewIntegrationTestSuite) newUser(name string) string {
	user := &entity.User{
		Name:         name,
		Email:        fmt.Sprintf("%s-%s@example.com", name, primitive.NewObjectID().Hex()),
		PasswordHash: "not-used",
	}
	s.Require().NoError(s.users.Create(context.Background(), user))
	return user.ID.Hex()
}

func (s *BookReviewIntegrationTestSuite) newBook(ownerID, title, genre string) string {
	book, err := s.bookService.CreateBook(context.Background(), ownerID, &entity.BookRequest{
		Title:       title,
		Author:      "Integration Author",
		Description: "A book created by the integration suite.",
		Genre:       genre,
		Year:        2001,
	})
	s.Require().NoError(err)
	return book.ID.Hex()
}

func (s *BookReviewIntegrationTestSuite) review(userID, bookID string, rating int) string {
	view, err := s.reviewService.CreateReview(context.Background(), userID, &entity.CreateReviewRequest{
		BookID:     bookID,
		Rating:     rating,
		ReviewText: "Integration review text.",
	})
	s.Require().NoError(err)
	return view.ID.Hex()
}

func (s *BookReviewIntegrationTestSuite) stored(bookID string) *entity.Book {
	book, err := s.books.GetByID(context.Background(), bookID)
	s.Require().NoError(err)
	return book
}

func (s *BookReviewIntegrationTestSuite) TestRatingLifecycle() {
	owner := s.newUser("owner")
	bookID := s.newBook(owner, "Dune", "Science Fiction")

	first := s.review(s.newUser("a"), bookID, 5)
	s.review(s.newUser("b"), bookID, 4)

	book := s.stored(bookID)
	s.Equal(4.5, book.AverageRating)
	s.Equal(2, book.TotalReviews)

	s.review(s.newUser("c"), bookID, 3)
	book = s.stored(bookID)
	s.Equal(4.0, book.AverageRating)
	s.Equal(3, book.TotalReviews)

	firstReview, err := s.reviews.GetByID(context.Background(), first)
	s.Require().NoError(err)
	s.Require().NoError(s.reviewService.DeleteReview(context.Background(), first, firstReview.UserID.Hex()))

	book = s.stored(bookID)
	s.Equal(3.5, book.AverageRating)
	s.Equal(2, book.TotalReviews)
}

func (s *BookReviewIntegrationTestSuite) TestRatingStats_Aggregation() {
	bookID := s.newBook(s.newUser("owner"), "Emma", "Classic")
	for _, r := range []int{1, 2, 2} {
		s.review(s.newUser("r"), bookID, r)
	}

	stats, err := s.reviews.RatingStats(context.Background(), bookID)

	s.Require().NoError(err)
	s.Equal(entity.RatingStats{Count: 3, Sum: 5}, stats)
	s.Equal(1.7, s.stored(bookID).AverageRating)
}

func (s *BookReviewIntegrationTestSuite) TestConcurrentDuplicateReviews_UniqueIndex() {
	bookID := s.newBook(s.newUser("owner"), "Neuromancer", "Cyberpunk")
	reader := s.newUser("reader")

	var wg sync.WaitGroup
	var created, duplicates int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.reviewService.CreateReview(context.Background(), reader, &entity.CreateReviewRequest{
				BookID:     bookID,
				Rating:     4,
				ReviewText: "Racing to review first.",
			})
			switch {
			case err == nil:
				atomic.AddInt32(&created, 1)
			case errors.Is(err, service.ErrDuplicateReview):
				atomic.AddInt32(&duplicates, 1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), created)
	s.Equal(int32(9), duplicates)
	s.Equal(1, s.stored(bookID).TotalReviews)
}

func (s *BookReviewIntegrationTestSuite) TestDeleteBook_Cascade() {
	owner := s.newUser("owner")
	bookID := s.newBook(owner, "Solaris", "Science Fiction")
	reader := s.newUser("reader")
	s.review(reader, bookID, 5)

	s.Require().NoError(s.bookService.DeleteBook(context.Background(), bookID, owner))

	_, err := s.bookService.GetBook(context.Background(), bookID)
	s.ErrorIs(err, service.ErrBookNotFound)

	mine, err := s.reviewService.GetUserReviews(context.Background(), reader)
	s.Require().NoError(err)
	s.Empty(mine)
}

func (s *BookReviewIntegrationTestSuite) TestListBooks_PaginationAndSearch() {
	owner := s.newUser("owner")
	for i := 1; i <= 12; i++ {
		s.newBook(owner, fmt.Sprintf("Volume %02d", i), "Series")
	}
	s.newBook(owner, "Regex (.*) Title", "Puzzles")

	page3, err := s.bookService.ListBooks(context.Background(), entity.BookListQuery{Page: 3, SortBy: "title", SortOrder: "asc"})
	s.Require().NoError(err)
	s.Equal(13, page3.Pagination.TotalBooks)
	s.Equal(3, page3.Pagination.TotalPages)
	s.Len(page3.Books, 3)
	s.False(page3.Pagination.HasNext)
	s.True(page3.Pagination.HasPrev)

	found, err := s.bookService.ListBooks(context.Background(), entity.BookListQuery{Search: "(.*)"})
	s.Require().NoError(err)
	s.Require().Len(found.Books, 1)
	s.Equal("Regex (.*) Title", found.Books[0].Title)

	byGenre, err := s.bookService.ListBooks(context.Background(), entity.BookListQuery{Genre: "puzzles"})
	s.Require().NoError(err)
	s.Len(byGenre.Books, 1)

	genres, err := s.bookService.GetGenres(context.Background())
	s.Require().NoError(err)
	s.Equal([]string{"Puzzles", "Series"}, genres)
}

func (s *BookReviewIntegrationTestSuite) TestReconciler_RemovesOrphansAndFixesDrift() {
	ctx := context.Background()
	bookID := s.newBook(s.newUser("owner"), "Drifted", "Drama")
	s.review(s.newUser("a"), bookID, 2)
	s.Require().NoError(s.books.UpdateRating(ctx, bookID, 5, 9))

	s.Require().NoError(s.reviews.Create(ctx, &entity.Review{
		BookID:     primitive.NewObjectID(),
		UserID:     primitive.NewObjectID(),
		Rating:     3,
		ReviewText: "Orphaned by a race.",
	}))

	report, err := service.NewReconciler(s.books, s.reviews, s.aggregator, nil).Run(ctx)

	s.Require().NoError(err)
	s.Equal(1, report.BooksChecked)
	s.Equal(1, report.Corrections)
	s.Equal(int64(1), report.OrphansRemoved)

	book := s.stored(bookID)
	s.Equal(2.0, book.AverageRating)
	s.Equal(1, book.TotalReviews)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
