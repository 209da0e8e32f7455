package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Common
	Env      string
	LogLevel string
	// API
	Port string
	// Redis (cache + rate limiter); empty CacheBackend falls back to memory
	CacheBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// Rate limiter
	RateWindow      time.Duration
	RateMaxRequests int
	// Circuit breaker (per provider)
	BreakerThreshold int
	BreakerTimeout   time.Duration
	BreakerHalfOpen  int
	// Retrying fetcher
	FetchBaseTimeout      time.Duration
	FetchTimeoutIncrement time.Duration
	FetchBaseDelay        time.Duration
	FetchMaxRetries       int
	// Caching
	QuoteCacheTTL  time.Duration
	MarketCacheTTL time.Duration
	// Aggregation
	ProviderTimeout time.Duration
	// Market data
	EtherscanAPIKey  string
	CoinGeckoBase    string
	CoinbaseBase     string
	BinanceBase      string
	EtherscanBase    string
	// Provider endpoints (overridable for tests/staging)
	StargateBase string
	AcrossBase   string
	HopBase      string
	// Fee heuristics carried over from the original comparison site;
	// reproduced, not derived.
	EthPriceFallback float64
	GasPriceFallback float64
	MinFeeRate       float64
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoiDef(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func atofDef(s string, def float64) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}

func durMS(key string, defMS int) time.Duration {
	return time.Duration(atoiDef(getEnv(key, strconv.Itoa(defMS)), defMS)) * time.Millisecond
}

// Load reads environment variables and applies defaults.
func Load() Config {
	return Config{
		Env:      getEnv("ENV", "local"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnv("PORT", "8080"),

		CacheBackend:  getEnv("CACHE_BACKEND", "memory"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       atoiDef(getEnv("REDIS_DB", "0"), 0),

		RateWindow:      durMS("RATE_WINDOW_MS", 60_000),
		RateMaxRequests: atoiDef(getEnv("RATE_MAX_REQUESTS", "60"), 60),

		BreakerThreshold: atoiDef(getEnv("BREAKER_THRESHOLD", "5"), 5),
		BreakerTimeout:   durMS("BREAKER_TIMEOUT_MS", 60_000),
		BreakerHalfOpen:  atoiDef(getEnv("BREAKER_HALF_OPEN", "1"), 1),

		FetchBaseTimeout:      durMS("FETCH_BASE_TIMEOUT_MS", 10_000),
		FetchTimeoutIncrement: durMS("FETCH_TIMEOUT_INCREMENT_MS", 5_000),
		FetchBaseDelay:        durMS("FETCH_BASE_DELAY_MS", 1_000),
		FetchMaxRetries:       atoiDef(getEnv("FETCH_MAX_RETRIES", "2"), 2),

		QuoteCacheTTL:  durMS("QUOTE_CACHE_TTL_MS", 5*60_000),
		MarketCacheTTL: durMS("MARKET_CACHE_TTL_MS", 5*60_000),

		ProviderTimeout: durMS("PROVIDER_TIMEOUT_MS", 15_000),

		EtherscanAPIKey: getEnv("ETHERSCAN_API_KEY", ""),
		CoinGeckoBase:   getEnv("COINGECKO_BASE", "https://api.coingecko.com"),
		CoinbaseBase:    getEnv("COINBASE_BASE", "https://api.coinbase.com"),
		BinanceBase:     getEnv("BINANCE_BASE", "https://api.binance.com"),
		EtherscanBase:   getEnv("ETHERSCAN_BASE", "https://api.etherscan.io"),

		StargateBase: getEnv("STARGATE_BASE", "https://api.stargate.finance"),
		AcrossBase:   getEnv("ACROSS_BASE", "https://app.across.to"),
		HopBase:      getEnv("HOP_BASE", "https://api.hop.exchange"),

		EthPriceFallback: atofDef(getEnv("ETH_PRICE_FALLBACK", "3000"), 3000),
		GasPriceFallback: atofDef(getEnv("GAS_PRICE_FALLBACK_GWEI", "30"), 30),
		MinFeeRate:       atofDef(getEnv("MIN_FEE_RATE", "0.003"), 0.003),
	}
}
