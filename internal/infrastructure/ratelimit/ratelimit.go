// Package ratelimit implements sliding-window admission control per client
// identity. The window state lives in a pluggable store (Redis in
// production, in-process otherwise); on store failure the limiter fails
// open so infrastructure trouble never blocks legitimate traffic.
package ratelimit

import (
	"context"
	"math"
	"net"
	"strings"
	"time"

	"bridgequotes-service/internal/clock"
	"go.uber.org/zap"
)

// Decision is the outcome of one admission check. Remaining is -1 when the
// store was unreachable and the true count is unknown.
type Decision struct {
	Allowed           bool
	Remaining         int
	RetryAfterSeconds int
	ResetAt           time.Time
}

// Store holds per-identity request timestamps inside the trailing window.
type Store interface {
	// Prune drops timestamps at or before cutoff and returns the survivors
	// in ascending order.
	Prune(ctx context.Context, key string, cutoff time.Time) ([]time.Time, error)
	// Record appends a request timestamp. ttl bounds the key's lifetime in
	// shared stores.
	Record(ctx context.Context, key string, ts time.Time, ttl time.Duration) error
	// Reset forgets an identity entirely.
	Reset(ctx context.Context, key string) error
}

type Options struct {
	Window      time.Duration
	MaxRequests int
	KeyPrefix   string
	Clock       clock.Clock
	Log         *zap.Logger
}

type Limiter struct {
	store  Store
	window time.Duration
	max    int
	prefix string
	clock  clock.Clock
	log    *zap.Logger
}

func New(store Store, opts Options) *Limiter {
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}
	if opts.MaxRequests <= 0 {
		opts.MaxRequests = 60
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "ratelimit:"
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Limiter{
		store:  store,
		window: opts.Window,
		max:    opts.MaxRequests,
		prefix: opts.KeyPrefix,
		clock:  opts.Clock,
		log:    opts.Log,
	}
}

// Check admits or denies one request for an identity. Identities are fully
// independent; there is no cross-identity state.
func (l *Limiter) Check(ctx context.Context, identity string) Decision {
	now := l.clock.Now()
	key := l.prefix + identity

	survivors, err := l.store.Prune(ctx, key, now.Add(-l.window))
	if err != nil {
		return l.failOpen(now, err)
	}

	if len(survivors) >= l.max {
		resetAt := survivors[0].Add(l.window)
		retry := int(math.Ceil(resetAt.Sub(now).Seconds()))
		if retry < 1 {
			retry = 1
		}
		return Decision{Allowed: false, Remaining: 0, RetryAfterSeconds: retry, ResetAt: resetAt}
	}

	if err := l.store.Record(ctx, key, now, l.window); err != nil {
		return l.failOpen(now, err)
	}
	return Decision{
		Allowed:   true,
		Remaining: l.max - len(survivors) - 1,
		ResetAt:   now.Add(l.window),
	}
}

// Reset clears an identity's window.
func (l *Limiter) Reset(ctx context.Context, identity string) error {
	return l.store.Reset(ctx, l.prefix+identity)
}

func (l *Limiter) failOpen(now time.Time, err error) Decision {
	l.log.Warn("rate limiter store unavailable, failing open", zap.Error(err))
	return Decision{Allowed: true, Remaining: -1, ResetAt: now.Add(l.window)}
}

// MaskIdentity coarsens a client network address for privacy before it is
// used as a rate-limit identity: IPv4 loses its last octet, IPv6 keeps only
// its /64 prefix. Non-IP input passes through unchanged.
func MaskIdentity(addr string) string {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	ip := net.ParseIP(strings.TrimSpace(host))
	if ip == nil {
		return host
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(24, 32)).String()
	}
	return ip.Mask(net.CIDRMask(64, 128)).String()
}
