package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisLevelStore keeps the per-scope, per-period edge state in Redis so that
// alert dedup holds across all consumer instances sharing the group.
type RedisLevelStore struct {
	client *redis.Client
}

// NewRedisLevelStore creates a LevelStore on an existing client.
func NewRedisLevelStore(client *redis.Client) *RedisLevelStore {
	return &RedisLevelStore{client: client}
}

func levelKey(scope, period string) string {
	return fmt.Sprintf("alert:level:%s:%s", scope, period)
}

func (s *RedisLevelStore) LastLevel(ctx context.Context, scope, period string) (int, error) {
	level, err := s.client.Get(ctx, levelKey(scope, period)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get alert level: %w", err)
	}
	return level, nil
}

func (s *RedisLevelStore) SetLevel(ctx context.Context, scope, period string, level int) error {
	// Keys outlive their period by two months, then expire on their own.
	if err := s.client.Set(ctx, levelKey(scope, period), level, 62*24*time.Hour).Err(); err != nil {
		return fmt.Errorf("set alert level: %w", err)
	}
	return nil
}

// MemoryLevelStore is the in-process LevelStore used by tests.
type MemoryLevelStore struct {
	mu     sync.Mutex
	levels map[string]int
}

// NewMemoryLevelStore creates an empty MemoryLevelStore.
func NewMemoryLevelStore() *MemoryLevelStore {
	return &MemoryLevelStore{levels: make(map[string]int)}
}

func (s *MemoryLevelStore) LastLevel(_ context.Context, scope, period string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levels[levelKey(scope, period)], nil
}

func (s *MemoryLevelStore) SetLevel(_ context.Context, scope, period string, level int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels[levelKey(scope, period)] = level
	return nil
}
