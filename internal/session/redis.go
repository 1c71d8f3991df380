package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/calebthorne/bastion/internal/models"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "bastion:session:"

// RedisStore keeps sessions in a shared Redis so every worker sees the same
// session state. Records expire server-side a little after the idle timeout;
// the guard enforces the timeout itself, the TTL just bounds garbage.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore. ttl should exceed the guard's idle
// timeout so the guard, not Redis, decides when a session dies.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    ttl,
	}
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.SessionRecord, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("session store get: %w", err)
	}

	var record models.SessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("session store decode: %w", err)
	}

	return &record, nil
}

func (s *RedisStore) Put(ctx context.Context, record *models.SessionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("session store encode: %w", err)
	}

	if err := s.client.Set(ctx, redisKeyPrefix+record.ID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("session store put: %w", err)
	}

	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("session store delete: %w", err)
	}
	return nil
}
