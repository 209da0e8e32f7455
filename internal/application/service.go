package application

import (
	"context"
	"errors"
	"time"

	"bridgequotes-service/internal/clock"
	"bridgequotes-service/internal/domain"
	"go.uber.org/zap"
)

// QuoteService aggregates bridge quotes: admission check, cache lookup,
// one shared market snapshot, concurrent fan-out to every provider, and a
// deterministic ranking of whatever survived.
type QuoteService struct {
	providers []BridgeProvider
	market    MarketSource
	cache     Cache
	limiter   RateLimiter

	cacheTTL        time.Duration
	providerTimeout time.Duration
	clock           clock.Clock
	log             *zap.Logger
}

type Option func(*QuoteService)

func WithClock(c clock.Clock) Option {
	return func(s *QuoteService) { s.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *QuoteService) { s.log = l }
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(s *QuoteService) { s.cacheTTL = ttl }
}

func WithProviderTimeout(d time.Duration) Option {
	return func(s *QuoteService) { s.providerTimeout = d }
}

func NewQuoteService(providers []BridgeProvider, market MarketSource, cache Cache, limiter RateLimiter, opts ...Option) *QuoteService {
	s := &QuoteService{
		providers:       providers,
		market:          market,
		cache:           cache,
		limiter:         limiter,
		cacheTTL:        5 * time.Minute,
		providerTimeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = clock.System{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

// GetQuotes runs one aggregation. It returns a *RateLimitError or a
// *domain.ValidationError before any upstream work; otherwise the result is
// a valid terminal state even when every provider failed.
func (s *QuoteService) GetQuotes(ctx context.Context, fromChain, toChain string, amount float64, token, clientIdentity string) (domain.QuoteResult, error) {
	if d := s.limiter.Check(ctx, clientIdentity); !d.Allowed {
		s.log.Info("request rate limited",
			zap.String("identity", clientIdentity),
			zap.Int("retry_after", d.RetryAfterSeconds))
		return domain.QuoteResult{}, &RateLimitError{
			RetryAfterSeconds: d.RetryAfterSeconds,
			Remaining:         d.Remaining,
			ResetAt:           d.ResetAt,
		}
	}

	req, err := domain.NewQuoteRequest(fromChain, toChain, amount, token)
	if err != nil {
		return domain.QuoteResult{}, err
	}

	key := CacheKey(s.providerNames(), req)
	var cached domain.QuoteResult
	if ok, cacheAge, err := s.cache.GetWithAge(ctx, key, &cached); err != nil {
		// A sick cache store degrades to a live aggregation.
		s.log.Warn("quote cache read failed", zap.Error(err))
	} else if ok {
		for i := range cached.Quotes {
			cached.Quotes[i].Source = domain.SourceCached
		}
		cached.Metadata.Cached = true
		cached.Metadata.CacheAge = cacheAge
		s.log.Info("quote cache hit",
			zap.String("route", string(req.FromChain)+"->"+string(req.ToChain)),
			zap.Int("cache_age", cacheAge))
		return cached, nil
	}

	snap := s.market.Snapshot(ctx)
	quotes, provErrors := s.fanOut(ctx, req, snap)
	domain.SortQuotes(quotes)

	result := domain.QuoteResult{
		Quotes: quotes,
		Errors: provErrors,
		Metadata: domain.Metadata{
			QuotesFound: len(quotes),
			ErrorsCount: len(provErrors),
			Timestamp:   s.clock.Now(),
		},
	}

	// An empty result is never cached: a transient all-down state should be
	// retried on the next request instead of sticking for a TTL.
	if len(quotes) > 0 {
		if err := s.cache.Set(ctx, key, result, s.cacheTTL); err != nil {
			s.log.Warn("quote cache store failed", zap.Error(err))
		}
	}

	s.log.Info("aggregation finished",
		zap.String("route", string(req.FromChain)+"->"+string(req.ToChain)),
		zap.Float64("amount", req.Amount),
		zap.Int("quotes", len(quotes)),
		zap.Int("errors", len(provErrors)))
	return result, nil
}

func (s *QuoteService) providerNames() []string {
	names := make([]string, len(s.providers))
	for i, p := range s.providers {
		names[i] = p.Name()
	}
	return names
}

type outcome struct {
	name  string
	quote domain.Quote
	err   error
}

// fanOut invokes every provider concurrently and waits for all of them to
// settle; one provider's failure or slowness never cancels the others. Each
// call carries its own deadline, so a hung upstream converts to a timeout
// outcome instead of blocking the join.
func (s *QuoteService) fanOut(ctx context.Context, req domain.QuoteRequest, snap domain.MarketSnapshot) ([]domain.Quote, []domain.ProviderError) {
	results := make(chan outcome, len(s.providers))
	for _, p := range s.providers {
		go func(p BridgeProvider) {
			pctx, cancel := context.WithTimeout(ctx, s.providerTimeout)
			defer cancel()
			q, err := p.Quote(pctx, req, snap)
			results <- outcome{name: p.Name(), quote: q, err: err}
		}(p)
	}

	var (
		quotes     []domain.Quote
		provErrors []domain.ProviderError
	)
	for range s.providers {
		out := <-results
		if out.err == nil {
			quotes = append(quotes, out.quote)
			continue
		}
		provErrors = append(provErrors, s.normalizeError(out.name, out.err))
	}
	return quotes, provErrors
}

// normalizeError guarantees every collected failure has the ProviderError
// shape, even if an adapter leaked a raw error.
func (s *QuoteService) normalizeError(name string, err error) domain.ProviderError {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return *pe
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return *domain.NewProviderError(name, domain.ReasonTimeout, "provider call timed out", err)
	}
	return *domain.NewProviderError(name, domain.ReasonUpstream, err.Error(), err)
}
