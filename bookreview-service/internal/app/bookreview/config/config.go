package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StorageMongo  = "mongo"
	StorageMemory = "memory"
)

// Config содержит настройки API и воркера; каждый процесс читает только нужные секции
type Config struct {
	Server    ServerConfig
	Storage   string // mongo или memory (запуск без БД для локальной разработки)
	LogLevel  string
	Logstash  string
	MongoDB   MongoDBConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	JWT       JWTConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	Rating    RatingConfig
	Postgres  PostgresConfig
	Worker    WorkerConfig
}

type ServerConfig struct {
	Host string
	Port string
}

type MongoDBConfig struct {
	URI      string
	Database string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	GenreTTL time.Duration // время жизни кеша списка жанров
}

type KafkaConfig struct {
	Brokers []string // пустой список отключает публикацию событий
	Topic   string
	GroupID string
}

type JWTConfig struct {
	Secret string
	TTL    time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

// RateLimitConfig - ограничение частоты register/login по IP
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

type RatingConfig struct {
	MaxAttempts int           // попыток записи агрегата при временных ошибках
	Backoff     time.Duration // шаг линейной задержки между попытками
}

type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type WorkerConfig struct {
	Port           string
	ReconcileCron  string // формат с секундами: "0 */15 * * * *"
	ReconcileOnRun bool
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnv("SERVER_PORT", "5000"),
		},
		Storage:  strings.ToLower(getEnv("STORAGE_BACKEND", StorageMongo)),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Logstash: getEnv("LOGSTASH_ADDR", ""),
		MongoDB: MongoDBConfig{
			URI:      getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			Database: getEnv("MONGODB_DATABASE", "book-review-platform"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			GenreTTL: getEnvDuration("REDIS_GENRES_TTL", time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvList("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_TOPIC", "review_events"),
			GroupID: getEnv("KAFKA_GROUP_ID", "rating-worker"),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "your-secret-key-change-this-in-production"),
			TTL:    getEnvDuration("JWT_TTL", 7*24*time.Hour),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		RateLimit: RateLimitConfig{
			RPS:   getEnvFloat("AUTH_RATE_LIMIT_RPS", 1),
			Burst: getEnvInt("AUTH_RATE_LIMIT_BURST", 10),
		},
		Rating: RatingConfig{
			MaxAttempts: getEnvInt("RATING_MAX_ATTEMPTS", 3),
			Backoff:     getEnvDuration("RATING_RETRY_BACKOFF", 50*time.Millisecond),
		},
		Postgres: PostgresConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "bookreview_history"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Worker: WorkerConfig{
			Port:           getEnv("WORKER_PORT", "8080"),
			ReconcileCron:  getEnv("CRON_RECONCILE", "0 */15 * * * *"),
			ReconcileOnRun: getEnvBool("RECONCILE_ON_START", true),
		},
	}

	if cfg.Storage != StorageMongo && cfg.Storage != StorageMemory {
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.Storage)
	}
	if cfg.Rating.MaxAttempts < 1 {
		return nil, fmt.Errorf("RATING_MAX_ATTEMPTS must be positive, got %d", cfg.Rating.MaxAttempts)
	}

	return cfg, nil
}

func (c *ServerConfig) Address() string {
	return c.Host + ":" + c.Port
}

func (c *RedisConfig) Address() string {
	return c.Host + ":" + c.Port
}

// DSN возвращает строку подключения к PostgreSQL в формате libpq
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvList разбирает список через запятую, пустые элементы отбрасываются
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
