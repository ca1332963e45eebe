package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bookreview/bookreview-service/internal/app/bookreview/entity"
	"bookreview/pkg/logger"
	"bookreview/pkg/metrics"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const reviewsCollection = "reviews"

type reviewRepository struct {
	collection *mongo.Collection
}

// NewReviewRepository создает репозиторий отзывов
// Уникальный индекс (bookId, userId) обязателен: только он гарантирует один отзыв
// пользователя на книгу при параллельных запросах, поэтому его ошибка фатальна
func NewReviewRepository(ctx context.Context, db *mongo.Database) (ReviewRepository, error) {
	collection := db.Collection(reviewsCollection)

	_, err := collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "bookId", Value: 1}, {Key: "userId", Value: 1}},
		Options: options.Index().SetName("book_user_unique_idx").SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create unique review index: %w", err)
	}

	secondary := []mongo.IndexModel{
		{Keys: bson.D{{Key: "bookId", Value: 1}, {Key: "createdAt", Value: -1}}, Options: options.Index().SetName("book_created_idx")},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}, Options: options.Index().SetName("user_created_idx")},
	}
	if _, err := collection.Indexes().CreateMany(ctx, secondary); err != nil {
		logger.Warn().Err(err).Str("collection", reviewsCollection).Msg("Failed to create indexes")
	}

	return &reviewRepository{collection: collection}, nil
}

func (r *reviewRepository) Create(ctx context.Context, review *entity.Review) error {
	now := time.Now().UTC()
	review.CreatedAt = now
	review.UpdatedAt = now

	timer := metrics.NewDbTimer(metricsService, metrics.DbOpInsert, reviewsCollection)
	result, err := r.collection.InsertOne(ctx, review)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			timer.Done(nil)
			return ErrDuplicateReview
		}
		timer.Done(err)
		return fmt.Errorf("failed to create review: %w", err)
	}
	timer.Done(nil)

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		review.ID = oid
	}
	return nil
}

func (r *reviewRepository) GetByID(ctx context.Context, id string) (*entity.Review, error) {
	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}

	timer := metrics.NewDbTimer(metricsService, metrics.DbOpSelect, reviewsCollection)

	var review entity.Review
	err = r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&review)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			timer.Done(nil)
			return nil, ErrReviewNotFound
		}
		timer.Done(err)
		return nil, fmt.Errorf("failed to get review: %w", err)
	}
	timer.Done(nil)

	return &review, nil
}

// GetByBookID возвращает отзывы книги, новые первыми
func (r *reviewRepository) GetByBookID(ctx context.Context, bookID string) ([]entity.Review, error) {
	oid, err := ParseID(bookID)
	if err != nil {
		return nil, err
	}
	return r.find(ctx, bson.M{"bookId": oid})
}

// GetByUserID возвращает отзывы пользователя, новые первыми
func (r *reviewRepository) GetByUserID(ctx context.Context, userID string) ([]entity.Review, error) {
	oid, err := ParseID(userID)
	if err != nil {
		return nil, err
	}
	return r.find(ctx, bson.M{"userId": oid})
}

func (r *reviewRepository) find(ctx context.Context, filter bson.M) ([]entity.Review, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})

	timer := metrics.NewDbTimer(metricsService, metrics.DbOpSelect, reviewsCollection)
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		timer.Done(err)
		return nil, fmt.Errorf("failed to find reviews: %w", err)
	}
	defer cursor.Close(ctx)

	reviews := []entity.Review{}
	if err := cursor.All(ctx, &reviews); err != nil {
		timer.Done(err)
		return nil, fmt.Errorf("failed to decode reviews: %w", err)
	}
	timer.Done(nil)

	return reviews, nil
}

func (r *reviewRepository) Update(ctx context.Context, review *entity.Review) error {
	review.UpdatedAt = time.Now().UTC()

	update := bson.M{
		"$set": bson.M{
			"rating":     review.Rating,
			"reviewText": review.ReviewText,
			"updatedAt":  review.UpdatedAt,
		},
	}

	timer := metrics.NewDbTimer(metricsService, metrics.DbOpUpdate, reviewsCollection)
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": review.ID}, update)
	timer.Done(err)
	if err != nil {
		return fmt.Errorf("failed to update review: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrReviewNotFound
	}
	return nil
}

func (r *reviewRepository) Delete(ctx context.Context, id string) error {
	oid, err := ParseID(id)
	if err != nil {
		return err
	}

	timer := metrics.NewDbTimer(metricsService, metrics.DbOpDelete, reviewsCollection)
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": oid})
	timer.Done(err)
	if err != nil {
		return fmt.Errorf("failed to delete review: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrReviewNotFound
	}
	return nil
}

func (r *reviewRepository) DeleteByBookID(ctx context.Context, bookID string) (int64, error) {
	oid, err := ParseID(bookID)
	if err != nil {
		return 0, err
	}

	timer := metrics.NewDbTimer(metricsService, metrics.DbOpDelete, reviewsCollection)
	result, err := r.collection.DeleteMany(ctx, bson.M{"bookId": oid})
	timer.Done(err)
	if err != nil {
		return 0, fmt.Errorf("failed to delete book reviews: %w", err)
	}
	return result.DeletedCount, nil
}

// RatingStats считает количество и сумму оценок одним $group по всему набору отзывов книги
func (r *reviewRepository) RatingStats(ctx context.Context, bookID string) (entity.RatingStats, error) {
	oid, err := ParseID(bookID)
	if err != nil {
		return entity.RatingStats{}, err
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"bookId": oid}}},
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"count": bson.M{"$sum": 1},
			"sum":   bson.M{"$sum": "$rating"},
		}}},
	}

	timer := metrics.NewDbTimer(metricsService, metrics.DbOpAggregate, reviewsCollection)
	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		timer.Done(err)
		return entity.RatingStats{}, fmt.Errorf("failed to aggregate ratings: %w", err)
	}
	defer cursor.Close(ctx)

	var stats entity.RatingStats
	if cursor.Next(ctx) {
		if err := cursor.Decode(&stats); err != nil {
			timer.Done(err)
			return entity.RatingStats{}, fmt.Errorf("failed to decode rating stats: %w", err)
		}
	}
	err = cursor.Err()
	timer.Done(err)
	if err != nil {
		return entity.RatingStats{}, fmt.Errorf("failed to read rating stats: %w", err)
	}

	return stats, nil
}

func (r *reviewRepository) BookIDs(ctx context.Context) ([]string, error) {
	timer := metrics.NewDbTimer(metricsService, metrics.DbOpSelect, reviewsCollection)
	values, err := r.collection.Distinct(ctx, "bookId", bson.M{})
	timer.Done(err)
	if err != nil {
		return nil, fmt.Errorf("failed to get reviewed book ids: %w", err)
	}

	ids := make([]string, 0, len(values))
	for _, v := range values {
		if oid, ok := v.(primitive.ObjectID); ok {
			ids = append(ids, oid.Hex())
		}
	}
	return ids, nil
}
