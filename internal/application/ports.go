package application

import (
	"context"
	"time"

	"bridgequotes-service/internal/domain"
)

// BridgeProvider is one upstream bridge adapter. Quote returns a normalized
// quote or a *domain.ProviderError; the adapter owns its own circuit breaker
// and retry policy.
type BridgeProvider interface {
	Name() string
	Quote(ctx context.Context, req domain.QuoteRequest, snap domain.MarketSnapshot) (domain.Quote, error)
}

// MarketSource supplies the shared market snapshot. It degrades internally
// and never fails the caller.
type MarketSource interface {
	Snapshot(ctx context.Context) domain.MarketSnapshot
}

// Cache is the TTL'd response cache. Get reports a miss for absent or
// expired keys.
type Cache interface {
	Get(ctx context.Context, key string, out any) (bool, error)
	GetWithAge(ctx context.Context, key string, out any) (bool, int, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RateDecision is the outcome of one admission check. Remaining is -1 when
// the limiter's store was unreachable and the limiter failed open.
type RateDecision struct {
	Allowed           bool
	Remaining         int
	RetryAfterSeconds int
	ResetAt           time.Time
}

// RateLimiter gates requests per client identity.
type RateLimiter interface {
	Check(ctx context.Context, identity string) RateDecision
}
