package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bridgequotes-service/internal/application"
	"bridgequotes-service/internal/domain"
	"bridgequotes-service/internal/infrastructure/breaker"
	"bridgequotes-service/internal/infrastructure/provider"

	"github.com/stretchr/testify/require"
)

type fakeAggregator struct {
	result   domain.QuoteResult
	err      error
	identity string
	amount   float64
	from, to string
	token    string
}

func (f *fakeAggregator) GetQuotes(_ context.Context, fromChain, toChain string, amount float64, token, clientIdentity string) (domain.QuoteResult, error) {
	f.from, f.to, f.amount, f.token, f.identity = fromChain, toChain, amount, token, clientIdentity
	if f.err != nil {
		return domain.QuoteResult{}, f.err
	}
	return f.result, nil
}

func newTestRouter(agg *fakeAggregator, ping func(context.Context) error) http.Handler {
	return NewRouter(NewServer(agg, ping, nil))
}

func TestGetQuotes_OK(t *testing.T) {
	agg := &fakeAggregator{result: domain.QuoteResult{
		Quotes: []domain.Quote{{Provider: "Across Protocol", Fee: 1.25, GasEstimate: 0.25, Reliability: 99.9, Source: domain.SourceLive}},
		Metadata: domain.Metadata{
			QuotesFound: 1,
			Timestamp:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		},
	}}
	srv := httptest.NewServer(newTestRouter(agg, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/quotes?fromChain=ethereum&toChain=polygon&amount=100&token=usdc")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var out struct {
		Success bool `json:"success"`
		domain.QuoteResult
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.True(t, out.Success)
	require.Len(t, out.Quotes, 1)
	require.Equal(t, "Across Protocol", out.Quotes[0].Provider)

	require.Equal(t, "ethereum", agg.from)
	require.Equal(t, "polygon", agg.to)
	require.InDelta(t, 100.0, agg.amount, 1e-9)
	require.Equal(t, "usdc", agg.token)
}

func TestGetQuotes_MissingAmountBecomesNaN(t *testing.T) {
	agg := &fakeAggregator{err: &domain.ValidationError{Problems: []string{"amount must be a number"}}}
	srv := httptest.NewServer(newTestRouter(agg, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/quotes?fromChain=ethereum&toChain=polygon")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.True(t, math.IsNaN(agg.amount))
}

func TestGetQuotes_ValidationErrorsReturnAllDetails(t *testing.T) {
	agg := &fakeAggregator{err: &domain.ValidationError{Problems: []string{
		"source and destination chains must be different",
		"minimum amount is 1",
	}}}
	srv := httptest.NewServer(newTestRouter(agg, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/quotes?fromChain=ethereum&toChain=ethereum&amount=0.5")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body struct {
		Error   string   `json:"error"`
		Details []string `json:"details"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "invalid request", body.Error)
	require.Len(t, body.Details, 2)
}

func TestGetQuotes_RateLimitedSetsHeaders(t *testing.T) {
	agg := &fakeAggregator{err: &application.RateLimitError{
		RetryAfterSeconds: 42,
		Remaining:         0,
		ResetAt:           time.Date(2025, 6, 1, 12, 1, 0, 0, time.UTC),
	}}
	srv := httptest.NewServer(newTestRouter(agg, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/quotes?fromChain=ethereum&toChain=polygon&amount=100")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "42", resp.Header.Get("Retry-After"))
	require.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))
	require.NotEmpty(t, resp.Header.Get("X-RateLimit-Reset"))
}

func TestGetQuotes_UnexpectedErrorIs500(t *testing.T) {
	agg := &fakeAggregator{err: errors.New("boom")}
	srv := httptest.NewServer(newTestRouter(agg, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/quotes?fromChain=ethereum&toChain=polygon&amount=100")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestGetQuotes_ForwardedForWinsOverPeer(t *testing.T) {
	agg := &fakeAggregator{result: domain.QuoteResult{}}
	srv := httptest.NewServer(newTestRouter(agg, nil))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/quotes?fromChain=ethereum&toChain=polygon&amount=100", nil)
	require.NoError(t, err)
	req.Header.Set("X-Forwarded-For", "203.0.113.77, 10.0.0.1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, "203.0.113.0", agg.identity, "first forwarded hop, masked to /24")
}

func TestGetQuotes_PeerAddressIsMasked(t *testing.T) {
	agg := &fakeAggregator{result: domain.QuoteResult{}}
	srv := httptest.NewServer(newTestRouter(agg, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/quotes?fromChain=ethereum&toChain=polygon&amount=100")
	require.NoError(t, err)
	defer resp.Body.Close()

	// httptest connects over loopback; the masked /24 keeps the prefix.
	require.Equal(t, "127.0.0.0", agg.identity)
}

func TestGetHealth_ReportsBreakers(t *testing.T) {
	reporter := func() []provider.BreakerStatus {
		return []provider.BreakerStatus{
			{Provider: "stargate", State: breaker.StateClosed},
			{Provider: "across", State: breaker.StateOpen, RetryAfterSeconds: 30},
		}
	}
	srv := httptest.NewServer(NewRouter(NewServer(&fakeAggregator{}, nil, reporter)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status   string                   `json:"status"`
		Breakers []provider.BreakerStatus `json:"breakers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body.Status)
	require.Len(t, body.Breakers, 2)
	require.Equal(t, breaker.StateOpen, body.Breakers[1].State)
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(newTestRouter(&fakeAggregator{}, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadyz_ReportsCacheOutage(t *testing.T) {
	down := func(context.Context) error { return errors.New("dial tcp: connection refused") }
	srv := httptest.NewServer(newTestRouter(&fakeAggregator{}, down))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestReadyz_OKWhenCacheResponds(t *testing.T) {
	up := func(context.Context) error { return nil }
	srv := httptest.NewServer(newTestRouter(&fakeAggregator{}, up))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
