package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bookreview/bookreview-service/internal/app/bookreview/entity"
	"bookreview/pkg/metrics"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const usersCollection = "users"

type userRepository struct {
	collection *mongo.Collection
}

// NewUserRepository создает репозиторий пользователей и уникальный индекс по email
func NewUserRepository(ctx context.Context, db *mongo.Database) (UserRepository, error) {
	collection := db.Collection(usersCollection)

	_, err := collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetName("email_unique_idx").SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create email index: %w", err)
	}

	return &userRepository{collection: collection}, nil
}

func (r *userRepository) Create(ctx context.Context, user *entity.User) error {
	user.Email = strings.ToLower(user.Email)
	user.CreatedAt = time.Now().UTC()

	timer := metrics.NewDbTimer(metricsService, metrics.DbOpInsert, usersCollection)
	result, err := r.collection.InsertOne(ctx, user)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			timer.Done(nil)
			return ErrDuplicateEmail
		}
		timer.Done(err)
		return fmt.Errorf("failed to create user: %w", err)
	}
	timer.Done(nil)

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		user.ID = oid
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.findOne(ctx, bson.M{"email": strings.ToLower(email)})
}

func (r *userRepository) findOne(ctx context.Context, filter bson.M) (*entity.User, error) {
	timer := metrics.NewDbTimer(metricsService, metrics.DbOpSelect, usersCollection)

	var user entity.User
	err := r.collection.FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			timer.Done(nil)
			return nil, ErrUserNotFound
		}
		timer.Done(err)
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	timer.Done(nil)

	return &user, nil
}

// GetByIDs загружает имена авторов для раскрытия addedBy и userId
func (r *userRepository) GetByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]entity.User, error) {
	users := make(map[primitive.ObjectID]entity.User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}

	timer := metrics.NewDbTimer(metricsService, metrics.DbOpSelect, usersCollection)
	opts := options.Find().SetProjection(bson.M{"name": 1, "email": 1, "createdAt": 1})
	cursor, err := r.collection.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, opts)
	if err != nil {
		timer.Done(err)
		return nil, fmt.Errorf("failed to find users: %w", err)
	}
	defer cursor.Close(ctx)

	var found []entity.User
	if err := cursor.All(ctx, &found); err != nil {
		timer.Done(err)
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}
	timer.Done(nil)

	for _, u := range found {
		users[u.ID] = u
	}
	return users, nil
}
