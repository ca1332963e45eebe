package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// RedisRepositoryTestSuite покрывает черный список токенов и кеш жанров
type RedisRepositoryTestSuite struct {
	suite.Suite
	miniRedis *miniredis.Miniredis
	client    *redis.Client
	tokens    TokenRepository
	genres    GenreCache
}

func TestRedisRepositorySuite(t *testing.T) {
	suite.Run(t, new(RedisRepositoryTestSuite))
}

func (s *RedisRepositoryTestSuite) SetupSuite() {
	var err error
	s.miniRedis, err = miniredis.Run()
	require.NoError(s.T(), err)

	s.client = redis.NewClient(&redis.Options{
		Addr: s.miniRedis.Addr(),
	})

	s.tokens = NewRedisTokenRepository(s.client)
	s.genres = NewRedisGenreCache(s.client, time.Hour)
}

func (s *RedisRepositoryTestSuite) SetupTest() {
	s.miniRedis.FlushAll()
}

func (s *RedisRepositoryTestSuite) TearDownSuite() {
	s.client.Close()
	s.miniRedis.Close()
}

// ===================== Blacklist Tests =====================

func (s *RedisRepositoryTestSuite) TestBlacklist_AddAndCheck() {
	ctx := context.Background()

	// Act
	err := s.tokens.AddToBlacklist(ctx, "token-a", time.Now().Add(time.Hour))

	// Assert
	s.NoError(err)

	blacklisted, err := s.tokens.IsBlacklisted(ctx, "token-a")
	s.NoError(err)
	s.True(blacklisted)

	blacklisted, err = s.tokens.IsBlacklisted(ctx, "token-b")
	s.NoError(err)
	s.False(blacklisted)
}

func (s *RedisRepositoryTestSuite) TestBlacklist_ExpiresWithToken() {
	ctx := context.Background()

	s.NoError(s.tokens.AddToBlacklist(ctx, "token-a", time.Now().Add(time.Minute)))

	s.miniRedis.FastForward(2 * time.Minute)

	blacklisted, err := s.tokens.IsBlacklisted(ctx, "token-a")
	s.NoError(err)
	s.False(blacklisted)
}

func (s *RedisRepositoryTestSuite) TestBlacklist_AlreadyExpiredTokenSkipped() {
	ctx := context.Background()

	err := s.tokens.AddToBlacklist(ctx, "old-token", time.Now().Add(-time.Minute))

	s.NoError(err)
	s.False(s.miniRedis.Exists("blacklist:old-token"))
}

// ===================== Genre Cache Tests =====================

func (s *RedisRepositoryTestSuite) TestGenres_MissReturnsNil() {
	genres, err := s.genres.GetGenres(context.Background())

	s.NoError(err)
	s.Nil(genres)
}

func (s *RedisRepositoryTestSuite) TestGenres_SetGetInvalidate() {
	ctx := context.Background()

	// Arrange
	s.NoError(s.genres.SetGenres(ctx, []string{"Fantasy", "Mystery"}))

	// Act
	genres, err := s.genres.GetGenres(ctx)

	// Assert
	s.NoError(err)
	s.Equal([]string{"Fantasy", "Mystery"}, genres)
	s.Equal(time.Hour, s.miniRedis.TTL("genres:all"))

	s.NoError(s.genres.InvalidateGenres(ctx))
	genres, err = s.genres.GetGenres(ctx)
	s.NoError(err)
	s.Nil(genres)
}

func (s *RedisRepositoryTestSuite) TestGenres_CorruptedValue() {
	ctx := context.Background()
	s.NoError(s.miniRedis.Set("genres:all", "not-json"))

	genres, err := s.genres.GetGenres(ctx)

	s.Error(err)
	s.Nil(genres)
}
