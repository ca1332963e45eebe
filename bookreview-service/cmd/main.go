package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"bookreview/bookreview-service/internal/app/bookreview/config"
	"bookreview/bookreview-service/internal/app/bookreview/handler"
	"bookreview/bookreview-service/internal/app/bookreview/infrastructure"
	"bookreview/bookreview-service/internal/app/bookreview/infrastructure/messaging"
	"bookreview/bookreview-service/internal/app/bookreview/repository"
	"bookreview/bookreview-service/internal/app/bookreview/repository/memory"
	"bookreview/bookreview-service/internal/app/bookreview/service"
	"bookreview/bookreview-service/internal/app/bookreview/util"
	"bookreview/pkg/logger"
)

const serviceName = "bookreview-service"

type repositories struct {
	users   repository.UserRepository
	books   repository.BookRepository
	reviews repository.ReviewRepository
	tokens  repository.TokenRepository
	genres  repository.GenreCache
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(serviceName, cfg.LogLevel)
	if cfg.Logstash != "" {
		if err := logger.InitLogstash(cfg.Logstash, serviceName, cfg.LogLevel); err != nil {
			logger.Warn().Err(err).Msg("Failed to connect to Logstash, using stdout only")
		} else {
			logger.Info().Str("logstash_addr", cfg.Logstash).Msg("Connected to Logstash")
		}
	}

	ctx := context.Background()
	repos := &repositories{}

	switch cfg.Storage {
	case config.StorageMongo:
		mongoClient, err := connectMongoDB(cfg.MongoDB)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to MongoDB")
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := mongoClient.Disconnect(ctx); err != nil {
				logger.Error().Err(err).Msg("Error disconnecting from MongoDB")
			}
		}()
		logger.Info().Str("database", cfg.MongoDB.Database).Msg("Connected to MongoDB")

		db := mongoClient.Database(cfg.MongoDB.Database)
		if repos.users, err = repository.NewUserRepository(ctx, db); err != nil {
			logger.Fatal().Err(err).Msg("Failed to init users collection")
		}
		if repos.reviews, err = repository.NewReviewRepository(ctx, db); err != nil {
			logger.Fatal().Err(err).Msg("Failed to init reviews collection")
		}
		repos.books = repository.NewBookRepository(ctx, db)

	case config.StorageMemory:
		logger.Warn().Msg("Using in-memory storage, data is lost on restart")
		repos.users = memory.NewUserRepository()
		repos.books = memory.NewBookRepository()
		repos.reviews = memory.NewReviewRepository()
	}

	// Redis необязателен: без него нет кеша жанров, а черный список токенов живёт в памяти процесса
	redisClient, err := connectRedis(ctx, cfg.Redis)
	if err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable, genre cache disabled and token blacklist kept in memory")
		repos.tokens = memory.NewTokenRepository()
	} else {
		defer redisClient.Close()
		logger.Info().Str("address", cfg.Redis.Address()).Msg("Connected to Redis")
		repos.tokens = repository.NewRedisTokenRepository(redisClient)
		repos.genres = repository.NewRedisGenreCache(redisClient, cfg.Redis.GenreTTL)
	}

	var publisher infrastructure.MessagePublisher = messaging.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = messaging.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, serviceName)
		logger.Info().
			Strs("brokers", cfg.Kafka.Brokers).
			Str("topic", cfg.Kafka.Topic).
			Msg("Initialized Kafka producer")
	} else {
		logger.Info().Msg("KAFKA_BROKERS not set, review events are not published")
	}
	defer publisher.Close()

	validator := service.NewValidator()
	jwtManager := util.NewJWTManager(cfg.JWT.Secret, cfg.JWT.TTL)

	aggregator := service.NewRatingAggregator(repos.reviews, repos.books, publisher, cfg.Rating.MaxAttempts, cfg.Rating.Backoff)
	authService := service.NewAuthService(repos.users, repos.tokens, jwtManager, validator)
	bookService := service.NewBookService(repos.books, repos.reviews, repos.users, repos.genres, publisher, validator)
	reviewService := service.NewReviewService(repos.reviews, repos.books, repos.users, aggregator, publisher, validator)

	authLimiter := handler.NewKeyedRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	defer authLimiter.Stop()

	router := handler.SetupRoutes(
		handler.NewBookHandler(bookService),
		handler.NewReviewHandler(reviewService),
		handler.NewAuthHandler(authService),
		handler.NewAuthMiddleware(authService),
		authLimiter,
		cfg.CORS.AllowedOrigins,
	)

	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("address", cfg.Server.Address()).
			Str("storage", cfg.Storage).
			Msg("Starting Book Review API")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down Book Review API...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Book Review API stopped gracefully")
}

func connectMongoDB(cfg config.MongoDBConfig) (*mongo.Client, error) {
	clientOptions := options.Client().ApplyURI(cfg.URI)

	var client *mongo.Client
	var err error

	for i := 0; i < 10; i++ {
		client, err = pingMongo(clientOptions)
		if err == nil {
			return client, nil
		}

		logger.Warn().
			Int("attempt", i+1).
			Err(err).
			Msg("Failed to connect to MongoDB, retrying...")
		time.Sleep(3 * time.Second)
	}

	return nil, err
}

func pingMongo(clientOptions *options.ClientOptions) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

// connectRedis делает одну попытку: API работает и без Redis
func connectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
