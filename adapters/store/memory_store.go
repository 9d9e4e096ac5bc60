package store

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/layer-3/barong-agent/core"
)

// MemoryStore keeps the token in process memory
type MemoryStore struct {
	keys   Keys
	clock  clockwork.Clock
	values map[string]string
	mu     sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(keys Keys, clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		keys:   keys,
		clock:  clock,
		values: make(map[string]string),
	}
}

// Token returns the stored token
func (s *MemoryStore) Token(ctx context.Context) (*core.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[s.keys.Token()]
	if !ok {
		return nil, nil
	}
	return decodeToken(value)
}

// ExpiresAt returns the stored expiry instant
func (s *MemoryStore) ExpiresAt(ctx context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[s.keys.ExpiresAt()]
	if !ok {
		return time.Time{}, nil
	}
	return decodeInstant(value)
}

// TokenPair returns the token and its expiry under one lock
func (s *MemoryStore) TokenPair(ctx context.Context) (*core.Token, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys.decodePair(s.values)
}

// StoreToken validates and stores the token with its expiry
func (s *MemoryStore) StoreToken(ctx context.Context, tok core.Token) (time.Time, error) {
	token, expiresAt, instant, err := encodeToken(tok, s.clock.Now())
	if err != nil {
		return time.Time{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[s.keys.Token()] = token
	s.values[s.keys.ExpiresAt()] = instant
	return expiresAt, nil
}

// Clear removes the token and its expiry
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, s.keys.Token())
	delete(s.values, s.keys.ExpiresAt())
	return nil
}

// Raw returns the stored value under key, for inspection.
func (s *MemoryStore) Raw(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}
