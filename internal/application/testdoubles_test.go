package application

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"bridgequotes-service/internal/domain"
)

type fakeProvider struct {
	name  string
	quote domain.Quote
	err   error
	delay time.Duration
	calls atomic.Int64
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Quote(ctx context.Context, _ domain.QuoteRequest, _ domain.MarketSnapshot) (domain.Quote, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return domain.Quote{}, ctx.Err()
		}
	}
	if f.err != nil {
		return domain.Quote{}, f.err
	}
	return f.quote, nil
}

type fakeMarket struct {
	snap  domain.MarketSnapshot
	calls atomic.Int64
}

func (f *fakeMarket) Snapshot(context.Context) domain.MarketSnapshot {
	f.calls.Add(1)
	return f.snap
}

type memEntry struct {
	data     []byte
	storedAt time.Time
}

// fakeCache is an in-process Cache with a controllable notion of age.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]memEntry
	age     int
	getErr  error
	setErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]memEntry)}
}

func (f *fakeCache) Get(ctx context.Context, key string, out any) (bool, error) {
	ok, _, err := f.GetWithAge(ctx, key, out)
	return ok, err
}

func (f *fakeCache) GetWithAge(_ context.Context, key string, out any) (bool, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return false, 0, f.getErr
	}
	e, ok := f.entries[key]
	if !ok {
		return false, 0, nil
	}
	if err := json.Unmarshal(e.data, out); err != nil {
		return false, 0, err
	}
	return true, f.age, nil
}

func (f *fakeCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.entries[key] = memEntry{data: data, storedAt: time.Now()}
	return nil
}

func (f *fakeCache) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, key)
	return nil
}

func (f *fakeCache) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

type fakeLimiter struct {
	decision RateDecision
	lastID   string
}

func (f *fakeLimiter) Check(_ context.Context, identity string) RateDecision {
	f.lastID = identity
	return f.decision
}

func allowAll() *fakeLimiter {
	return &fakeLimiter{decision: RateDecision{Allowed: true, Remaining: 59}}
}

var errUpstreamDown = errors.New("connection refused")
