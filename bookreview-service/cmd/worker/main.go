package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"bookreview/bookreview-service/internal/app/bookreview/config"
	"bookreview/bookreview-service/internal/app/bookreview/entity"
	"bookreview/bookreview-service/internal/app/bookreview/handler"
	"bookreview/bookreview-service/internal/app/bookreview/infrastructure/messaging"
	"bookreview/bookreview-service/internal/app/bookreview/processor"
	"bookreview/bookreview-service/internal/app/bookreview/repository"
	"bookreview/bookreview-service/internal/app/bookreview/service"
	"bookreview/pkg/logger"
)

const serviceName = "rating-worker"

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
		}
	}

	if cfg.Storage != config.StorageMongo {
		logger.Fatal().Str("storage", cfg.Storage).Msg("Rating worker requires STORAGE_BACKEND=mongo")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === MONGODB: книги и отзывы ===
	mongoClient, err := connectMongoDB(cfg.MongoDB)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mongoClient.Disconnect(disconnectCtx); err != nil {
			logger.Error().Err(err).Msg("Error disconnecting from MongoDB")
		}
	}()
	mongoDB := mongoClient.Database(cfg.MongoDB.Database)

	bookRepo := repository.NewBookRepository(ctx, mongoDB)
	reviewRepo, err := repository.NewReviewRepository(ctx, mongoDB)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to init reviews collection")
	}

	// === POSTGRESQL: история рейтингов ===
	db, err := connectPostgres(cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	if err := db.AutoMigrate(&entity.RatingSnapshot{}); err != nil {
		logger.Fatal().Err(err).Msg("Failed to migrate rating snapshots")
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to get sql.DB from gorm")
	}
	defer sqlDB.Close()
	logger.Info().Str("database", cfg.Postgres.DBName).Msg("Connected to PostgreSQL")

	snapshotRepo := repository.NewRatingSnapshotRepository(db)

	// Воркер пересчитывает напрямую через Recompute; события о неудаче он не публикует
	aggregator := service.NewRatingAggregator(reviewRepo, bookRepo, messaging.NopPublisher{}, cfg.Rating.MaxAttempts, cfg.Rating.Backoff)
	historySvc := service.NewRatingHistoryService(snapshotRepo, bookRepo, aggregator)
	reconciler := service.NewReconciler(bookRepo, reviewRepo, aggregator, snapshotRepo)

	// === KAFKA CONSUMER ===
	if len(cfg.Kafka.Brokers) > 0 {
		consumer := processor.NewKafkaConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, historySvc)
		consumer.Start(ctx)
		defer consumer.Stop()
	} else {
		logger.Warn().Msg("KAFKA_BROKERS not set, only scheduled reconciliation will run")
	}

	// === CRON ===
	scheduler := processor.NewCronScheduler(reconciler)
	if err := scheduler.Start(ctx, cfg.Worker.ReconcileCron, cfg.Worker.ReconcileOnRun); err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.Worker.ReconcileCron).Msg("Failed to start cron scheduler")
	}
	defer scheduler.Stop()

	// === HTTP: health, metrics, история ===
	healthHandler := handler.NewHealthCheckHandler(historySvc,
		handler.DependencyCheck{Name: "mongodb", Check: func(ctx context.Context) error {
			return mongoClient.Ping(ctx, readpref.Primary())
		}},
		handler.DependencyCheck{Name: "postgres", Check: sqlDB.PingContext},
	)

	mux := http.NewServeMux()
	healthHandler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:              ":" + cfg.Worker.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("address", httpServer.Addr).Msg("Starting worker HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Worker HTTP server error")
		}
	}()

	logger.Info().
		Str("topic", cfg.Kafka.Topic).
		Str("group_id", cfg.Kafka.GroupID).
		Str("schedule", cfg.Worker.ReconcileCron).
		Msg("Rating worker is running")

	<-ctx.Done()
	logger.Info().Msg("Shutting down rating worker...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Worker HTTP server forced to shutdown")
	}
}

func connectMongoDB(cfg config.MongoDBConfig) (*mongo.Client, error) {
	clientOptions := options.Client().ApplyURI(cfg.URI)

	var err error
	for i := 0; i < 10; i++ {
		var client *mongo.Client
		connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		client, err = mongo.Connect(connectCtx, clientOptions)
		if err == nil {
			if err = client.Ping(connectCtx, readpref.Primary()); err == nil {
				cancel()
				return client, nil
			}
			_ = client.Disconnect(context.Background())
		}
		cancel()

		logger.Warn().Int("attempt", i+1).Err(err).Msg("Failed to connect to MongoDB, retrying...")
		time.Sleep(3 * time.Second)
	}

	return nil, err
}

// connectPostgres повторяет попытки: в docker-compose база стартует позже воркера
func connectPostgres(cfg config.PostgresConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	}

	var err error
	for i := 0; i < 10; i++ {
		var db *gorm.DB
		db, err = gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
		if err == nil {
			sqlDB, sqlErr := db.DB()
			if sqlErr != nil {
				err = sqlErr
			} else if err = sqlDB.Ping(); err == nil {
				sqlDB.SetMaxOpenConns(10)
				sqlDB.SetMaxIdleConns(5)
				sqlDB.SetConnMaxLifetime(5 * time.Minute)
				sqlDB.SetConnMaxIdleTime(time.Minute)
				return db, nil
			}
		}

		logger.Warn().Int("attempt", i+1).Err(err).Msg("Failed to connect to PostgreSQL, retrying...")
		time.Sleep(3 * time.Second)
	}

	return nil, fmt.Errorf("failed to connect after 10 attempts: %w", err)
}
