package cachestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mediascout/imagesearch/internal/logger"
)

// Config holds Redis connection configuration.
type Config struct {
	Address  string `yaml:"address" env:"REDIS_ADDRESS"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

// ErrEmptyAddress is returned when the Redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

const (
	connectionTimeout = 5 * time.Second
	scanBatchSize     = 100
)

// NewRedisClient creates a Redis client and verifies the connection.
func NewRedisClient(cfg Config) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}

// redisStore implements Store on top of a Redis client. Every transport
// failure is logged and reported as absent/fail, never as an error.
type redisStore struct {
	client redis.UniversalClient
	logger logger.Logger
}

// NewRedisStore wraps an existing Redis client as a Store.
func NewRedisStore(client redis.UniversalClient, log logger.Logger) Store {
	return &redisStore{client: client, logger: log}
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Error("redis get failed",
				logger.String("key", key),
				logger.Error(err),
			)
		}
		return nil, false
	}
	return val, true
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		s.logger.Error("redis set failed",
			logger.String("key", key),
			logger.Duration("ttl", ttl),
			logger.Error(err),
		)
		return false
	}
	return true
}

// DeleteMatching walks the keyspace with SCAN rather than KEYS so a large
// invalidation does not block the server.
func (s *redisStore) DeleteMatching(ctx context.Context, pattern string) int {
	var cursor uint64
	var deleted int

	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			s.logger.Error("redis scan failed",
				logger.String("pattern", pattern),
				logger.Error(err),
			)
			return deleted
		}

		if len(keys) > 0 {
			n, delErr := s.client.Del(ctx, keys...).Result()
			if delErr != nil {
				s.logger.Error("redis delete failed",
					logger.Int("key_count", len(keys)),
					logger.Error(delErr),
				)
				return deleted
			}
			deleted += int(n)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return deleted
}

func (s *redisStore) Ping(ctx context.Context) bool {
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.logger.Warn("redis ping failed", logger.Error(err))
		return false
	}
	return true
}
