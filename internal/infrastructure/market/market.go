// Package market fetches and medianizes external price signals. A snapshot
// is cached with a TTL; on a miss at least three independent ETH/USD sources
// are queried concurrently and the median of the successes is used, so a
// single anomalous source cannot skew fee normalization. Total failure
// degrades to the last good snapshot or to conservative defaults — market
// trouble never fails an aggregation.
package market

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"bridgequotes-service/internal/clock"
	"bridgequotes-service/internal/domain"
	"bridgequotes-service/internal/infrastructure/cache"
	"bridgequotes-service/internal/infrastructure/httpx"
	"go.uber.org/zap"
)

const snapshotCacheKey = "market:snapshot"

// Conservative per-chain gas defaults in gwei, used whenever the oracle is
// unavailable.
func defaultGasByChain() map[domain.Chain]float64 {
	return map[domain.Chain]float64{
		domain.ChainEthereum:  30,
		domain.ChainPolygon:   100,
		domain.ChainArbitrum:  0.1,
		domain.ChainOptimism:  0.1,
		domain.ChainAvalanche: 25,
	}
}

type Options struct {
	CoinGeckoBase   string
	CoinbaseBase    string
	BinanceBase     string
	EtherscanBase   string
	EtherscanAPIKey string

	TTL time.Duration
	// DegradedTTL bounds how long a degraded snapshot is served from cache,
	// so an outage is re-probed well before the normal TTL.
	DegradedTTL   time.Duration
	SourceTimeout time.Duration

	EthPriceFallback float64
	GasPriceFallback float64

	Cache cache.Manager
	Clock clock.Clock
	Log   *zap.Logger
}

type priceSource struct {
	name  string
	fetch func(ctx context.Context) (float64, error)
}

// Source implements the aggregator's market-data port.
type Source struct {
	opts    Options
	fetcher *httpx.Client
	sources []priceSource

	mu       sync.Mutex
	lastGood *domain.MarketSnapshot
}

func New(fetcher *httpx.Client, opts Options) *Source {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.DegradedTTL <= 0 {
		opts.DegradedTTL = 30 * time.Second
	}
	if opts.SourceTimeout <= 0 {
		opts.SourceTimeout = 5 * time.Second
	}
	if opts.EthPriceFallback <= 0 {
		opts.EthPriceFallback = 3000
	}
	if opts.GasPriceFallback <= 0 {
		opts.GasPriceFallback = 30
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	s := &Source{opts: opts, fetcher: fetcher}
	s.sources = []priceSource{
		{name: "coingecko", fetch: s.fetchCoinGecko},
		{name: "coinbase", fetch: s.fetchCoinbase},
		{name: "binance", fetch: s.fetchBinance},
	}
	return s
}

// Snapshot returns the current market snapshot, from cache when fresh.
// It never returns an error: degraded data is flagged, not propagated.
func (s *Source) Snapshot(ctx context.Context) domain.MarketSnapshot {
	if s.opts.Cache != nil {
		var cached domain.MarketSnapshot
		if ok, _ := s.opts.Cache.Get(ctx, snapshotCacheKey, &cached); ok {
			return cached
		}
	}

	snap := s.rebuild(ctx)

	s.mu.Lock()
	if !snap.Degraded {
		copied := snap
		s.lastGood = &copied
	}
	s.mu.Unlock()

	if s.opts.Cache != nil {
		ttl := s.opts.TTL
		if snap.Degraded {
			ttl = s.opts.DegradedTTL
		}
		if err := s.opts.Cache.Set(ctx, snapshotCacheKey, snap, ttl); err != nil {
			s.opts.Log.Warn("market snapshot cache store failed", zap.Error(err))
		}
	}
	return snap
}

func (s *Source) rebuild(ctx context.Context) domain.MarketSnapshot {
	prices := s.collectPrices(ctx)

	snap := domain.MarketSnapshot{
		GasPriceGwei:    s.opts.GasPriceFallback,
		GasPriceByChain: defaultGasByChain(),
		FetchedAt:       s.opts.Clock.Now(),
	}

	if len(prices) > 0 {
		sort.Float64s(prices)
		snap.EthUSDPrice = prices[len(prices)/2]
	} else {
		s.mu.Lock()
		last := s.lastGood
		s.mu.Unlock()
		if last != nil {
			s.opts.Log.Warn("all price sources failed, reusing last good snapshot")
			degraded := *last
			degraded.Degraded = true
			return degraded
		}
		s.opts.Log.Warn("all price sources failed, using default ETH price",
			zap.Float64("eth_usd", s.opts.EthPriceFallback))
		snap.EthUSDPrice = s.opts.EthPriceFallback
		snap.Degraded = true
	}

	if gas, err := s.fetchGasOracle(ctx); err == nil {
		snap.GasPriceGwei = gas
		snap.GasPriceByChain[domain.ChainEthereum] = gas
	} else {
		s.opts.Log.Debug("gas oracle unavailable, keeping defaults", zap.Error(err))
	}
	return snap
}

// collectPrices queries every source concurrently with an individual
// timeout; failures are dropped, not propagated.
func (s *Source) collectPrices(ctx context.Context) []float64 {
	var (
		mu     sync.Mutex
		prices []float64
		wg     sync.WaitGroup
	)
	for _, src := range s.sources {
		wg.Add(1)
		go func(src priceSource) {
			defer wg.Done()
			srcCtx, cancel := context.WithTimeout(ctx, s.opts.SourceTimeout)
			defer cancel()
			price, err := src.fetch(srcCtx)
			if err != nil || price <= 0 {
				s.opts.Log.Debug("price source failed",
					zap.String("source", src.name), zap.Error(err))
				return
			}
			mu.Lock()
			prices = append(prices, price)
			mu.Unlock()
		}(src)
	}
	wg.Wait()
	return prices
}

func (s *Source) fetchCoinGecko(ctx context.Context) (float64, error) {
	var body struct {
		Ethereum struct {
			USD float64 `json:"usd"`
		} `json:"ethereum"`
	}
	u := s.opts.CoinGeckoBase + "/api/v3/simple/price?ids=ethereum&vs_currencies=usd"
	if err := s.fetcher.GetJSON(ctx, u, &body); err != nil {
		return 0, err
	}
	return body.Ethereum.USD, nil
}

func (s *Source) fetchCoinbase(ctx context.Context) (float64, error) {
	var body struct {
		Data struct {
			Rates map[string]string `json:"rates"`
		} `json:"data"`
	}
	u := s.opts.CoinbaseBase + "/v2/exchange-rates?currency=ETH"
	if err := s.fetcher.GetJSON(ctx, u, &body); err != nil {
		return 0, err
	}
	usd, ok := body.Data.Rates["USD"]
	if !ok {
		return 0, fmt.Errorf("coinbase: missing USD rate")
	}
	return strconv.ParseFloat(usd, 64)
}

func (s *Source) fetchBinance(ctx context.Context) (float64, error) {
	var body struct {
		Price string `json:"price"`
	}
	u := s.opts.BinanceBase + "/api/v3/ticker/price?symbol=ETHUSDT"
	if err := s.fetcher.GetJSON(ctx, u, &body); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(body.Price, 64)
}

// fetchGasOracle is best-effort: a single source with its own fallback.
func (s *Source) fetchGasOracle(ctx context.Context) (float64, error) {
	if s.opts.EtherscanAPIKey == "" {
		return 0, fmt.Errorf("etherscan: no API key configured")
	}
	gasCtx, cancel := context.WithTimeout(ctx, s.opts.SourceTimeout)
	defer cancel()

	var body struct {
		Result struct {
			SafeGasPrice    string `json:"SafeGasPrice"`
			ProposeGasPrice string `json:"ProposeGasPrice"`
			FastGasPrice    string `json:"FastGasPrice"`
		} `json:"result"`
	}
	u := s.opts.EtherscanBase + "/api?" + url.Values{
		"module": {"gastracker"},
		"action": {"gasoracle"},
		"apikey": {s.opts.EtherscanAPIKey},
	}.Encode()
	if err := s.fetcher.GetJSON(gasCtx, u, &body); err != nil {
		return 0, err
	}
	gas, err := strconv.ParseFloat(body.Result.ProposeGasPrice, 64)
	if err != nil || gas <= 0 {
		return 0, fmt.Errorf("etherscan: bad gas price %q", body.Result.ProposeGasPrice)
	}
	return gas, nil
}
