package slot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the job under a redis key, so several API instances
// share it.
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisStore returns a store writing key on client. A zero ttl keeps the
// job until cleared.
func NewRedisStore(client *redis.Client, key string, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("slot: redis client is required")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("slot: key is required")
	}
	return &RedisStore{client: client, key: key, ttl: ttl}, nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("slot: redis ping: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context) (Job, error) {
	raw, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrEmpty
	}
	if err != nil {
		return Job{}, fmt.Errorf("slot: redis get: %w", err)
	}
	return decode(raw)
}

func (s *RedisStore) Save(ctx context.Context, job Job) error {
	value, err := encode(job)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("slot: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("slot: redis del: %w", err)
	}
	return nil
}
