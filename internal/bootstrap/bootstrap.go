// Package bootstrap assembles the aggregation service from configuration:
// cache backend, rate limiter, market source, one breaker-guarded adapter
// per bridge, and the application service on top.
package bootstrap

import (
	"context"
	"net/http"

	"bridgequotes-service/internal/application"
	"bridgequotes-service/internal/config"
	"bridgequotes-service/internal/infrastructure/breaker"
	"bridgequotes-service/internal/infrastructure/cache"
	"bridgequotes-service/internal/infrastructure/httpx"
	"bridgequotes-service/internal/infrastructure/logx"
	"bridgequotes-service/internal/infrastructure/market"
	"bridgequotes-service/internal/infrastructure/provider"
	"bridgequotes-service/internal/infrastructure/ratelimit"

	"github.com/redis/go-redis/v9"
)

// App is the wired object graph the API process runs.
type App struct {
	Service *application.QuoteService
	// Ping reports backing-store health for the readiness probe.
	Ping func(ctx context.Context) error
	// BreakerStatus snapshots every provider's breaker for health reporting.
	BreakerStatus func() []provider.BreakerStatus
}

// Build wires the full graph. The returned cleanup closes shared resources
// and is safe to call exactly once.
func Build(cfg config.Config) (*App, func(), error) {
	log := logx.L()

	var (
		rdb      *redis.Client
		cacheMgr cache.Manager
		store    ratelimit.Store
	)
	switch cfg.CacheBackend {
	case "redis":
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		cacheMgr = cache.NewRedis(rdb, nil)
		store = ratelimit.NewRedisStore(rdb)
	default:
		cacheMgr = cache.NewMemory(nil)
		store = ratelimit.NewMemoryStore()
	}
	cleanup := func() {
		if rdb != nil {
			log.Info("closing redis")
			_ = rdb.Close()
		}
	}

	limiter := ratelimit.New(store, ratelimit.Options{
		Window:      cfg.RateWindow,
		MaxRequests: cfg.RateMaxRequests,
		Log:         log,
	})

	fetcher := &httpx.Client{
		HTTP:             &http.Client{},
		BaseTimeout:      cfg.FetchBaseTimeout,
		TimeoutIncrement: cfg.FetchTimeoutIncrement,
		BaseDelay:        cfg.FetchBaseDelay,
		MaxRetries:       cfg.FetchMaxRetries,
	}

	marketSrc := market.New(fetcher, market.Options{
		CoinGeckoBase:    cfg.CoinGeckoBase,
		CoinbaseBase:     cfg.CoinbaseBase,
		BinanceBase:      cfg.BinanceBase,
		EtherscanBase:    cfg.EtherscanBase,
		EtherscanAPIKey:  cfg.EtherscanAPIKey,
		TTL:              cfg.MarketCacheTTL,
		EthPriceFallback: cfg.EthPriceFallback,
		GasPriceFallback: cfg.GasPriceFallback,
		Cache:            cacheMgr,
		Log:              log,
	})

	providers, breakerStatus := buildProviders(cfg, fetcher)

	svc := application.NewQuoteService(providers, marketSrc, cacheMgr, limiterAdapter{limiter},
		application.WithLogger(log),
		application.WithCacheTTL(cfg.QuoteCacheTTL),
		application.WithProviderTimeout(cfg.ProviderTimeout),
	)

	return &App{Service: svc, Ping: cacheMgr.Ping, BreakerStatus: breakerStatus}, cleanup, nil
}

// buildProviders creates one adapter per bridge, each with its own breaker
// so one failing upstream never trips the others.
func buildProviders(cfg config.Config, fetcher *httpx.Client) ([]application.BridgeProvider, func() []provider.BreakerStatus) {
	log := logx.L()
	deps := func(name string) provider.Deps {
		return provider.Deps{
			Fetcher: fetcher,
			Breaker: breaker.New(name, breaker.Options{
				Threshold:        cfg.BreakerThreshold,
				Timeout:          cfg.BreakerTimeout,
				HalfOpenRequests: cfg.BreakerHalfOpen,
				Log:              log,
			}),
			Log:        log,
			MinFeeRate: cfg.MinFeeRate,
		}
	}
	stargate := provider.NewStargate(cfg.StargateBase, deps("stargate"))
	across := provider.NewAcross(cfg.AcrossBase, deps("across"))
	hop := provider.NewHop(cfg.HopBase, deps("hop"))

	providers := []application.BridgeProvider{stargate, across, hop}
	status := func() []provider.BreakerStatus {
		return []provider.BreakerStatus{
			stargate.BreakerStatus(),
			across.BreakerStatus(),
			hop.BreakerStatus(),
		}
	}
	return providers, status
}

// limiterAdapter narrows the limiter to the application port.
type limiterAdapter struct {
	l *ratelimit.Limiter
}

func (a limiterAdapter) Check(ctx context.Context, identity string) application.RateDecision {
	d := a.l.Check(ctx, identity)
	return application.RateDecision{
		Allowed:           d.Allowed,
		Remaining:         d.Remaining,
		RetryAfterSeconds: d.RetryAfterSeconds,
		ResetAt:           d.ResetAt,
	}
}
