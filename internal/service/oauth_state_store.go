package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOAuthStateStore keeps login state nonces in redis so any instance can
// redeem a state minted by another. Consume uses GETDEL for single use.
type RedisOAuthStateStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisOAuthStateStore(client redis.UniversalClient, prefix string) *RedisOAuthStateStore {
	if prefix == "" {
		prefix = "oauth_state"
	}
	return &RedisOAuthStateStore{client: client, prefix: prefix}
}

func (s *RedisOAuthStateStore) Put(ctx context.Context, state string, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(state), "1", ttl).Err()
}

func (s *RedisOAuthStateStore) Consume(ctx context.Context, state string) (bool, error) {
	_, err := s.client.GetDel(ctx, s.key(state)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisOAuthStateStore) key(state string) string {
	return fmt.Sprintf("%s:%s", s.prefix, state)
}

// InMemoryOAuthStateStore serves the dev profile and tests.
type InMemoryOAuthStateStore struct {
	mu     sync.Mutex
	states map[string]time.Time
}

func NewInMemoryOAuthStateStore() *InMemoryOAuthStateStore {
	return &InMemoryOAuthStateStore{states: map[string]time.Time{}}
}

func (s *InMemoryOAuthStateStore) Put(_ context.Context, state string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state] = time.Now().Add(ttl)
	return nil
}

func (s *InMemoryOAuthStateStore) Consume(_ context.Context, state string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiresAt, ok := s.states[state]
	if !ok {
		return false, nil
	}
	delete(s.states, state)
	if time.Now().After(expiresAt) {
		return false, nil
	}
	return true, nil
}
