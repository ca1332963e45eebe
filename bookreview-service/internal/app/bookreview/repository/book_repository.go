package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"bookreview/bookreview-service/internal/app/bookreview/entity"
	"bookreview/pkg/logger"
	"bookreview/pkg/metrics"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const booksCollection = "books"

type bookRepository struct {
	collection *mongo.Collection
}

// NewBookRepository создает репозиторий книг
// Индексы под сортировки каталога; ошибка индекса не фатальна
func NewBookRepository(ctx context.Context, db *mongo.Database) BookRepository {
	collection := db.Collection(booksCollection)

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "createdAt", Value: -1}}, Options: options.Index().SetName("created_at_idx")},
		{Keys: bson.D{{Key: "averageRating", Value: -1}}, Options: options.Index().SetName("average_rating_idx")},
		{Keys: bson.D{{Key: "addedBy", Value: 1}}, Options: options.Index().SetName("added_by_idx")},
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		logger.Warn().Err(err).Str("collection", booksCollection).Msg("Failed to create indexes")
	}

	return &bookRepository{collection: collection}
}

func (r *bookRepository) Create(ctx context.Context, book *entity.Book) error {
	now := time.Now().UTC()
	book.CreatedAt = now
	book.UpdatedAt = now

	timer := metrics.NewDbTimer(metricsService, metrics.DbOpInsert, booksCollection)
	result, err := r.collection.InsertOne(ctx, book)
	timer.Done(err)
	if err != nil {
		return fmt.Errorf("failed to create book: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		book.ID = oid
	}
	return nil
}

func (r *bookRepository) GetByID(ctx context.Context, id string) (*entity.Book, error) {
	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}

	timer := metrics.NewDbTimer(metricsService, metrics.DbOpSelect, booksCollection)

	var book entity.Book
	err = r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&book)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			timer.Done(nil)
			return nil, ErrBookNotFound
		}
		timer.Done(err)
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	timer.Done(nil)

	return &book, nil
}

func (r *bookRepository) GetByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]entity.Book, error) {
	books := make(map[primitive.ObjectID]entity.Book, len(ids))
	if len(ids) == 0 {
		return books, nil
	}

	timer := metrics.NewDbTimer(metricsService, metrics.DbOpSelect, booksCollection)
	cursor, err := r.collection.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		timer.Done(err)
		return nil, fmt.Errorf("failed to find books: %w", err)
	}
	defer cursor.Close(ctx)

	var found []entity.Book
	if err := cursor.All(ctx, &found); err != nil {
		timer.Done(err)
		return nil, fmt.Errorf("failed to decode books: %w", err)
	}
	timer.Done(nil)

	for _, b := range found {
		books[b.ID] = b
	}
	return books, nil
}

func (r *bookRepository) Update(ctx context.Context, book *entity.Book) error {
	book.UpdatedAt = time.Now().UTC()

	update := bson.M{
		"$set": bson.M{
			"title":       book.Title,
			"author":      book.Author,
			"description": book.Description,
			"genre":       book.Genre,
			"year":        book.Year,
			"updatedAt":   book.UpdatedAt,
		},
	}

	timer := metrics.NewDbTimer(metricsService, metrics.DbOpUpdate, booksCollection)
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": book.ID}, update)
	timer.Done(err)
	if err != nil {
		return fmt.Errorf("failed to update book: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrBookNotFound
	}
	return nil
}

func (r *bookRepository) Delete(ctx context.Context, id string) error {
	oid, err := ParseID(id)
	if err != nil {
		return err
	}

	timer := metrics.NewDbTimer(metricsService, metrics.DbOpDelete, booksCollection)
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": oid})
	timer.Done(err)
	if err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrBookNotFound
	}
	return nil
}

// List выполняет поиск по каталогу
// Пользовательский ввод экранируется, _id добавлен в сортировку для стабильных страниц
func (r *bookRepository) List(ctx context.Context, filter entity.BookFilter) ([]entity.Book, int, error) {
	query := bson.M{}
	if filter.Search != "" {
		pattern := primitive.Regex{Pattern: regexp.QuoteMeta(filter.Search), Options: "i"}
		query["$or"] = bson.A{
			bson.M{"title": pattern},
			bson.M{"author": pattern},
		}
	}
	if filter.Genre != "" {
		query["genre"] = primitive.Regex{Pattern: regexp.QuoteMeta(filter.Genre), Options: "i"}
	}

	direction := -1
	if filter.Ascending {
		direction = 1
	}
	opts := options.Find().
		SetSort(bson.D{{Key: filter.SortBy, Value: direction}, {Key: "_id", Value: direction}}).
		SetSkip(int64(filter.Skip)).
		SetLimit(int64(filter.Limit))

	timer := metrics.NewDbTimer(metricsService, metrics.DbOpSelect, booksCollection)
	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		timer.Done(err)
		return nil, 0, fmt.Errorf("failed to find books: %w", err)
	}
	defer cursor.Close(ctx)

	books := make([]entity.Book, 0, filter.Limit)
	if err := cursor.All(ctx, &books); err != nil {
		timer.Done(err)
		return nil, 0, fmt.Errorf("failed to decode books: %w", err)
	}

	total, err := r.collection.CountDocuments(ctx, query)
	timer.Done(err)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count books: %w", err)
	}

	return books, int(total), nil
}

func (r *bookRepository) UpdateRating(ctx context.Context, id string, average float64, total int) error {
	oid, err := ParseID(id)
	if err != nil {
		return err
	}

	update := bson.M{"$set": bson.M{"averageRating": average, "totalReviews": total}}

	timer := metrics.NewDbTimer(metricsService, metrics.DbOpUpdate, booksCollection)
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": oid}, update)
	timer.Done(err)
	if err != nil {
		return fmt.Errorf("failed to update book rating: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrBookNotFound
	}
	return nil
}

func (r *bookRepository) ListIDs(ctx context.Context) ([]string, error) {
	timer := metrics.NewDbTimer(metricsService, metrics.DbOpSelect, booksCollection)
	cursor, err := r.collection.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		timer.Done(err)
		return nil, fmt.Errorf("failed to list book ids: %w", err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var doc struct {
			ID primitive.ObjectID `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			timer.Done(err)
			return nil, fmt.Errorf("failed to decode book id: %w", err)
		}
		ids = append(ids, doc.ID.Hex())
	}
	err = cursor.Err()
	timer.Done(err)
	if err != nil {
		return nil, fmt.Errorf("failed to iterate book ids: %w", err)
	}

	return ids, nil
}

func (r *bookRepository) Genres(ctx context.Context) ([]string, error) {
	timer := metrics.NewDbTimer(metricsService, metrics.DbOpSelect, booksCollection)
	values, err := r.collection.Distinct(ctx, "genre", bson.M{})
	timer.Done(err)
	if err != nil {
		return nil, fmt.Errorf("failed to get genres: %w", err)
	}

	genres := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok && s != "" {
			genres = append(genres, s)
		}
	}
	sort.Strings(genres)

	return genres, nil
}
