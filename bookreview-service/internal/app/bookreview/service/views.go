package service

import (
	"context"
	"fmt"

	"bookreview/bookreview-service/internal/app/bookreview/entity"
	"bookreview/bookreview-service/internal/app/bookreview/repository"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// populator раскрывает ссылки bookId/userId/addedBy одним запросом на коллекцию
type populator struct {
	users repository.UserRepository
	books repository.BookRepository
}

func (p populator) reviewViews(ctx context.Context, reviews []entity.Review) ([]entity.ReviewView, error) {
	views := make([]entity.ReviewView, 0, len(reviews))
	if len(reviews) == 0 {
		return views, nil
	}

	userIDs := make([]primitive.ObjectID, 0, len(reviews))
	bookIDs := make([]primitive.ObjectID, 0, len(reviews))
	for _, r := range reviews {
		userIDs = append(userIDs, r.UserID)
		bookIDs = append(bookIDs, r.BookID)
	}

	users, err := p.users.GetByIDs(ctx, unique(userIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load review authors: %w", err)
	}
	books, err := p.books.GetByIDs(ctx, unique(bookIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load reviewed books: %w", err)
	}

	for _, r := range reviews {
		views = append(views, reviewView(r, books, users))
	}
	return views, nil
}

func (p populator) bookViews(ctx context.Context, books []entity.Book) ([]entity.BookView, error) {
	views := make([]entity.BookView, 0, len(books))
	if len(books) == 0 {
		return views, nil
	}

	ids := make([]primitive.ObjectID, 0, len(books))
	for _, b := range books {
		ids = append(ids, b.AddedBy)
	}

	users, err := p.users.GetByIDs(ctx, unique(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to load book owners: %w", err)
	}

	for _, b := range books {
		views = append(views, bookView(b, users))
	}
	return views, nil
}

func (p populator) oneBook(ctx context.Context, book entity.Book) (*entity.BookView, error) {
	views, err := p.bookViews(ctx, []entity.Book{book})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

func (p populator) oneReview(ctx context.Context, review entity.Review) (*entity.ReviewView, error) {
	views, err := p.reviewViews(ctx, []entity.Review{review})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// Удалённый пользователь или книга раскрываются только в _id
func reviewView(r entity.Review, books map[primitive.ObjectID]entity.Book, users map[primitive.ObjectID]entity.User) entity.ReviewView {
	view := entity.ReviewView{
		Review: r,
		BookID: entity.BookRef{ID: r.BookID},
		UserID: entity.UserRef{ID: r.UserID},
	}
	if b, ok := books[r.BookID]; ok {
		view.BookID.Title = b.Title
		view.BookID.Author = b.Author
	}
	if u, ok := users[r.UserID]; ok {
		view.UserID.Name = u.Name
	}
	return view
}

func bookView(b entity.Book, users map[primitive.ObjectID]entity.User) entity.BookView {
	view := entity.BookView{Book: b, AddedBy: entity.UserRef{ID: b.AddedBy}}
	if u, ok := users[b.AddedBy]; ok {
		view.AddedBy.Name = u.Name
	}
	return view
}

func unique(ids []primitive.ObjectID) []primitive.ObjectID {
	seen := make(map[primitive.ObjectID]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
