// Package cache provides the content-addressed response cache used for both
// market snapshots and aggregated quote results. Values are stored as JSON
// with a TTL; expired entries are logically absent. Concurrent writers for
// the same key follow last-writer-wins, which is safe because every cached
// value is idempotent derived data.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"time"

	"bridgequotes-service/internal/clock"
	"github.com/redis/go-redis/v9"
)

// Manager is the get/set/delete surface the aggregator and market source
// depend on. Get reports a miss (false, nil) for absent or expired keys.
type Manager interface {
	Get(ctx context.Context, key string, out any) (bool, error)
	// GetWithAge additionally reports how long ago the entry was stored,
	// in whole seconds.
	GetWithAge(ctx context.Context, key string, out any) (bool, int, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// envelope wraps stored values so age can be derived on read.
type envelope struct {
	StoredAt time.Time       `json:"storedAt"`
	Value    json.RawMessage `json:"value"`
}

// Redis is the shared-store implementation.
type Redis struct {
	Client    *redis.Client
	KeyPrefix string
	Clock     clock.Clock
}

func NewRedis(client *redis.Client, c clock.Clock) *Redis {
	if c == nil {
		c = clock.System{}
	}
	return &Redis{Client: client, KeyPrefix: "cache:", Clock: c}
}

func (r *Redis) Get(ctx context.Context, key string, out any) (bool, error) {
	ok, _, err := r.GetWithAge(ctx, key, out)
	return ok, err
}

func (r *Redis) GetWithAge(ctx context.Context, key string, out any) (bool, int, error) {
	raw, err := r.Client.Get(ctx, r.KeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false, 0, err
	}
	if err := json.Unmarshal(env.Value, out); err != nil {
		return false, 0, err
	}
	return true, age(r.Clock.Now(), env.StoredAt), nil
}

func (r *Redis) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	data, err := json.Marshal(envelope{StoredAt: r.Clock.Now(), Value: raw})
	if err != nil {
		return err
	}
	return r.Client.Set(ctx, r.KeyPrefix+key, data, ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.Client.Del(ctx, r.KeyPrefix+key).Err()
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

// Memory is the in-process fallback used when Redis is not configured.
type Memory struct {
	Clock clock.Clock

	mu      sync.Mutex
	entries map[string]memEntry
}

type memEntry struct {
	storedAt time.Time
	expiry   time.Time
	data     []byte
}

const memoryCleanupThreshold = 1000

func NewMemory(c clock.Clock) *Memory {
	if c == nil {
		c = clock.System{}
	}
	return &Memory{Clock: c, entries: make(map[string]memEntry)}
}

func (m *Memory) Get(ctx context.Context, key string, out any) (bool, error) {
	ok, _, err := m.GetWithAge(ctx, key, out)
	return ok, err
}

func (m *Memory) GetWithAge(_ context.Context, key string, out any) (bool, int, error) {
	now := m.Clock.Now()
	m.mu.Lock()
	e, ok := m.entries[key]
	if ok && !now.Before(e.expiry) {
		delete(m.entries, key)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return false, 0, nil
	}
	if err := json.Unmarshal(e.data, out); err != nil {
		return false, 0, err
	}
	return true, age(now, e.storedAt), nil
}

func (m *Memory) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	now := m.Clock.Now()
	m.mu.Lock()
	m.entries[key] = memEntry{storedAt: now, expiry: now.Add(ttl), data: data}
	if len(m.entries) > memoryCleanupThreshold {
		m.cleanup(now)
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

// cleanup removes expired entries; called with the lock held.
func (m *Memory) cleanup(now time.Time) {
	for key, e := range m.entries {
		if !now.Before(e.expiry) {
			delete(m.entries, key)
		}
	}
}

func age(now, storedAt time.Time) int {
	s := now.Sub(storedAt).Seconds()
	if s < 0 {
		return 0
	}
	return int(math.Floor(s))
}
