package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each identity's window in a sorted set scored by
// millisecond timestamps, the same scheme the shared store uses for every
// API instance behind one limit.
type RedisStore struct {
	Client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{Client: client}
}

func (s *RedisStore) Prune(ctx context.Context, key string, cutoff time.Time) ([]time.Time, error) {
	cutoffMs := strconv.FormatInt(cutoff.UnixMilli(), 10)
	if err := s.Client.ZRemRangeByScore(ctx, key, "-inf", cutoffMs).Err(); err != nil {
		return nil, err
	}
	entries, err := s.Client.ZRangeWithScores(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		out = append(out, time.UnixMilli(int64(e.Score)))
	}
	return out, nil
}

func (s *RedisStore) Record(ctx context.Context, key string, ts time.Time, ttl time.Duration) error {
	ms := ts.UnixMilli()
	member := fmt.Sprintf("%d-%s", ms, uuid.NewString())
	if err := s.Client.ZAdd(ctx, key, redis.Z{Score: float64(ms), Member: member}).Err(); err != nil {
		return err
	}
	return s.Client.Expire(ctx, key, ttl).Err()
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.Client.Del(ctx, key).Err()
}

// MemoryStore is the in-process fallback when Redis is not configured.
// Windows are pruned lazily; empty identities are swept once the key count
// grows past a bound.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

const memorySweepThreshold = 1000

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string][]time.Time)}
}

func (s *MemoryStore) Prune(_ context.Context, key string, cutoff time.Time) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.windows[key][:0]
	for _, ts := range s.windows[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(s.windows, key)
	} else {
		s.windows[key] = kept
	}
	out := make([]time.Time, len(kept))
	copy(out, kept)
	return out, nil
}

func (s *MemoryStore) Record(_ context.Context, key string, ts time.Time, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[key] = append(s.windows[key], ts)
	if len(s.windows) > memorySweepThreshold {
		s.sweep(ts)
	}
	return nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}

// sweep drops identities whose newest entry is stale. Called with the lock
// held.
func (s *MemoryStore) sweep(now time.Time) {
	for key, window := range s.windows {
		if len(window) == 0 || now.Sub(window[len(window)-1]) > time.Hour {
			delete(s.windows, key)
		}
	}
}
