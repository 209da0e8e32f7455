// Package provider contains one adapter per upstream bridge. Every adapter
// owns its static route table, talks to its bridge through the shared
// retrying fetcher guarded by its own circuit breaker, and normalizes both
// the response and every failure into the domain shapes.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"

	"bridgequotes-service/internal/clock"
	"bridgequotes-service/internal/domain"
	"bridgequotes-service/internal/infrastructure/breaker"
	"bridgequotes-service/internal/infrastructure/httpx"
	"go.uber.org/zap"
)

// Deps are the collaborators shared by all adapters. The breaker instance is
// per adapter; the fetcher is shared.
type Deps struct {
	Fetcher *httpx.Client
	Breaker *breaker.Breaker
	Clock   clock.Clock
	Log     *zap.Logger
	// MinFeeRate is the floor fee policy: when a provider's fee cannot be
	// computed, fee = amount * MinFeeRate. Heuristic carried over from the
	// original comparison site.
	MinFeeRate float64
}

func (d *Deps) defaults() {
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.MinFeeRate <= 0 {
		d.MinFeeRate = 0.003
	}
}

// base carries the route table and failure normalization common to every
// adapter.
type base struct {
	name         string // short id, used in errors and breaker logs
	display      string // human name surfaced in quotes
	affiliateURL string
	reliability  float64
	chains       map[domain.Chain]bool
	tokens       map[string]bool
	deps         Deps
}

func (b *base) Name() string { return b.name }

// checkRoute fails fast on unsupported chain/token pairs: a local decision,
// no upstream call, no breaker involvement.
func (b *base) checkRoute(req domain.QuoteRequest) *domain.ProviderError {
	if !b.chains[req.FromChain] || !b.chains[req.ToChain] {
		return domain.NewProviderError(b.name, domain.ReasonUnsupportedRoute,
			b.display+" does not support this chain pair", nil)
	}
	if !b.tokens[req.Token] {
		return domain.NewProviderError(b.name, domain.ReasonUnsupportedRoute,
			b.display+" does not support token "+req.Token, nil)
	}
	return nil
}

// fetch runs one guarded upstream call: breaker around the whole retry
// sequence, so the breaker sees only terminal outcomes.
func (b *base) fetch(ctx context.Context, url string, out any) *domain.ProviderError {
	err := b.deps.Breaker.Execute(ctx, func(ctx context.Context) error {
		return b.deps.Fetcher.GetJSON(ctx, url, out)
	})
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, breaker.ErrOpen):
		pe := domain.NewProviderError(b.name, domain.ReasonBreakerOpen,
			b.display+" is temporarily unavailable", err)
		pe.RetryAfterSeconds = b.deps.Breaker.RetryAfter()
		return pe
	case errors.Is(err, breaker.ErrTooManyTrials):
		pe := domain.NewProviderError(b.name, domain.ReasonBreakerTesting,
			b.display+" is recovering, retry shortly", err)
		pe.RetryAfterSeconds = 1
		return pe
	case errors.Is(err, httpx.ErrMalformed):
		return domain.NewProviderError(b.name, domain.ReasonMalformedResponse,
			"invalid "+b.display+" API response", err)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return domain.NewProviderError(b.name, domain.ReasonTimeout,
			b.display+" request timed out", err)
	default:
		return domain.NewProviderError(b.name, domain.ReasonUpstream,
			b.display+" request failed: "+err.Error(), err)
	}
}

func (b *base) malformed(msg string) *domain.ProviderError {
	return domain.NewProviderError(b.name, domain.ReasonMalformedResponse, msg, nil)
}

// quote assembles the normalized Quote. A non-finite or negative fee is
// replaced by the floor policy rather than surfaced; the result is then
// tagged as a fallback value.
func (b *base) quote(req domain.QuoteRequest, snap domain.MarketSnapshot, fee, gasFactor float64, estTime string) domain.Quote {
	q := domain.Quote{
		Provider:      b.display,
		EstimatedTime: estTime,
		Reliability:   b.reliability,
		AffiliateURL:  b.affiliateURL,
		Source:        domain.SourceLive,
		Timestamp:     b.deps.Clock.Now(),
	}
	if !isFinite(fee) || fee < 0 {
		b.deps.Log.Warn("provider fee not computable, applying floor",
			zap.String("provider", b.name), zap.Float64("amount", req.Amount))
		q.Fee = round4(req.Amount * b.deps.MinFeeRate)
		q.GasEstimate = round4(snap.GasCostUSD(req.FromChain))
		q.Source = domain.SourceFallback
		return q
	}
	q.Fee = round4(fee)
	gas := fee * gasFactor
	if !isFinite(gas) || gas < 0 {
		gas = snap.GasCostUSD(req.FromChain)
	}
	q.GasEstimate = round4(gas)
	return q
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}

// parseAmount reads a JSON number that bridges encode either as a bare
// number or as a decimal string.
func parseAmount(raw json.RawMessage) (float64, bool) {
	s := string(bytes.Trim(bytes.TrimSpace(raw), `"`))
	if s == "" || s == "null" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Snapshot exposes the adapter's breaker state for health reporting.
type BreakerStatus struct {
	Provider string          `json:"provider"`
	State    breaker.State   `json:"state"`
	Metrics  breaker.Metrics `json:"metrics"`
	// RetryAfterSeconds is non-zero only while the breaker is open.
	RetryAfterSeconds int `json:"retryAfterSeconds,omitempty"`
}

func (b *base) BreakerStatus() BreakerStatus {
	state, metrics := b.deps.Breaker.Snapshot()
	return BreakerStatus{
		Provider:          b.name,
		State:             state,
		Metrics:           metrics,
		RetryAfterSeconds: b.deps.Breaker.RetryAfter(),
	}
}
