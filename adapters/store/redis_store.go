package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/layer-3/barong-agent/core"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the token in Redis so that several agents on one host
// can share it
type RedisStore struct {
	client redis.UniversalClient
	keys   Keys
	clock  clockwork.Clock
}

// NewRedisStore creates a Redis backed store
func NewRedisStore(client redis.UniversalClient, keys Keys, clock clockwork.Clock) *RedisStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RedisStore{
		client: client,
		keys:   keys,
		clock:  clock,
	}
}

// Token returns the stored token
func (s *RedisStore) Token(ctx context.Context) (*core.Token, error) {
	value, err := s.client.Get(ctx, s.keys.Token()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token: %w", err)
	}
	return decodeToken(value)
}

// ExpiresAt returns the stored expiry instant
func (s *RedisStore) ExpiresAt(ctx context.Context) (time.Time, error) {
	value, err := s.client.Get(ctx, s.keys.ExpiresAt()).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read token expiry: %w", err)
	}
	return decodeInstant(value)
}

// TokenPair reads both keys with a single MGET
func (s *RedisStore) TokenPair(ctx context.Context) (*core.Token, time.Time, error) {
	keys := []string{s.keys.Token(), s.keys.ExpiresAt()}
	results, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to read token: %w", err)
	}

	values := make(map[string]string, len(keys))
	for i, result := range results {
		if value, ok := result.(string); ok {
			values[keys[i]] = value
		}
	}
	return s.keys.decodePair(values)
}

// StoreToken validates the token and writes both keys in one transaction
func (s *RedisStore) StoreToken(ctx context.Context, tok core.Token) (time.Time, error) {
	token, expiresAt, instant, err := encodeToken(tok, s.clock.Now())
	if err != nil {
		return time.Time{}, err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.keys.Token(), token, 0)
		pipe.Set(ctx, s.keys.ExpiresAt(), instant, 0)
		return nil
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to store token: %w", err)
	}

	return expiresAt, nil
}

// Clear deletes both keys
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.keys.Token(), s.keys.ExpiresAt()).Err(); err != nil {
		return fmt.Errorf("failed to clear token: %w", err)
	}
	return nil
}
