package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"bridgequotes-service/internal/clock"
	"bridgequotes-service/internal/domain"
	"bridgequotes-service/internal/infrastructure/breaker"
	"bridgequotes-service/internal/infrastructure/httpx"

	"github.com/stretchr/testify/require"
)

func testSnapshot() domain.MarketSnapshot {
	return domain.MarketSnapshot{
		EthUSDPrice:  3000,
		GasPriceGwei: 30,
		GasPriceByChain: map[domain.Chain]float64{
			domain.ChainEthereum: 30,
			domain.ChainPolygon:  100,
		},
		FetchedAt: time.Now(),
	}
}

func testRequest(t *testing.T, from, to string) domain.QuoteRequest {
	t.Helper()
	req, err := domain.NewQuoteRequest(from, to, 100, "usdc")
	require.NoError(t, err)
	return req
}

type bridgeServer struct {
	srv   *httptest.Server
	calls atomic.Int64
	body  string
	code  int
}

func newBridgeServer(t *testing.T, body string, code int) *bridgeServer {
	t.Helper()
	bs := &bridgeServer{body: body, code: code}
	bs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bs.calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(bs.code)
		w.Write([]byte(bs.body))
	}))
	t.Cleanup(bs.srv.Close)
	return bs
}

func testDeps(t *testing.T, name string) Deps {
	t.Helper()
	return Deps{
		Fetcher: &httpx.Client{
			BaseTimeout: 2 * time.Second,
			BaseDelay:   time.Millisecond,
			MaxRetries:  2,
		},
		Breaker: breaker.New(name, breaker.Options{Threshold: 2, Timeout: time.Minute}),
		Clock:   clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
}

func TestStargate_HappyPath(t *testing.T) {
	bs := newBridgeServer(t, `{"quotes":[{"fees":[{"amount":"1000000000000000"},{"amount":"500000000000000"}]}]}`, 200)
	p := NewStargate(bs.srv.URL, testDeps(t, "stargate"))

	q, err := p.Quote(context.Background(), testRequest(t, "ethereum", "polygon"), testSnapshot())
	require.NoError(t, err)
	// 1.5e15 wei = 0.0015 ETH at $3000 = $4.50.
	require.InDelta(t, 4.5, q.Fee, 1e-9)
	require.InDelta(t, 1.35, q.GasEstimate, 1e-9)
	require.Equal(t, "Stargate Finance", q.Provider)
	require.Equal(t, "2-3 min", q.EstimatedTime)
	require.InDelta(t, 99.8, q.Reliability, 1e-9)
	require.Equal(t, domain.SourceLive, q.Source)
	require.EqualValues(t, 1, bs.calls.Load())
}

func TestStargate_NoRoutesIsMalformed(t *testing.T) {
	bs := newBridgeServer(t, `{"quotes":[]}`, 200)
	p := NewStargate(bs.srv.URL, testDeps(t, "stargate"))

	_, err := p.Quote(context.Background(), testRequest(t, "ethereum", "polygon"), testSnapshot())
	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, domain.ReasonMalformedResponse, pe.Reason)
	require.False(t, pe.Retryable())
}

func TestAcross_HappyPath(t *testing.T) {
	bs := newBridgeServer(t, `{"totalRelayFee":{"total":"1250000"}}`, 200)
	p := NewAcross(bs.srv.URL, testDeps(t, "across"))

	q, err := p.Quote(context.Background(), testRequest(t, "arbitrum", "optimism"), testSnapshot())
	require.NoError(t, err)
	require.InDelta(t, 1.25, q.Fee, 1e-9)
	require.InDelta(t, 0.25, q.GasEstimate, 1e-9)
	require.Equal(t, "30 sec", q.EstimatedTime)
}

func TestAcross_UnsupportedChainFailsFast(t *testing.T) {
	bs := newBridgeServer(t, `{}`, 200)
	p := NewAcross(bs.srv.URL, testDeps(t, "across"))

	_, err := p.Quote(context.Background(), testRequest(t, "avalanche", "polygon"), testSnapshot())
	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, domain.ReasonUnsupportedRoute, pe.Reason)
	require.EqualValues(t, 0, bs.calls.Load(), "unsupported routes never reach the network")
}

func TestAcross_MissingFeeFieldIsMalformed(t *testing.T) {
	bs := newBridgeServer(t, `{"timestamp":123}`, 200)
	p := NewAcross(bs.srv.URL, testDeps(t, "across"))

	_, err := p.Quote(context.Background(), testRequest(t, "ethereum", "polygon"), testSnapshot())
	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, domain.ReasonMalformedResponse, pe.Reason)
	require.EqualValues(t, 1, bs.calls.Load(), "structural failures are not retried")
}

func TestHop_TimeDependsOnMainnet(t *testing.T) {
	bs := newBridgeServer(t, `{"bonderFee":"2000000"}`, 200)
	p := NewHop(bs.srv.URL, testDeps(t, "hop"))

	q, err := p.Quote(context.Background(), testRequest(t, "ethereum", "polygon"), testSnapshot())
	require.NoError(t, err)
	require.Equal(t, "7-10 min", q.EstimatedTime)
	require.InDelta(t, 2.0, q.Fee, 1e-9)
	require.InDelta(t, 0.8, q.GasEstimate, 1e-9)

	q, err = p.Quote(context.Background(), testRequest(t, "polygon", "arbitrum"), testSnapshot())
	require.NoError(t, err)
	require.Equal(t, "3-5 min", q.EstimatedTime)
}

func TestHop_NegativeFeeGetsFloor(t *testing.T) {
	bs := newBridgeServer(t, `{"bonderFee":"-500000"}`, 200)
	p := NewHop(bs.srv.URL, testDeps(t, "hop"))

	req := testRequest(t, "polygon", "arbitrum")
	q, err := p.Quote(context.Background(), req, testSnapshot())
	require.NoError(t, err)
	require.Equal(t, domain.SourceFallback, q.Source)
	require.InDelta(t, req.Amount*0.003, q.Fee, 1e-9)
	require.GreaterOrEqual(t, q.GasEstimate, 0.5, "gas floor comes from the snapshot estimate")
}

func TestAcross_UnparseableFeeGetsFloor(t *testing.T) {
	bs := newBridgeServer(t, `{"totalRelayFee":{"total":"garbage"}}`, 200)
	p := NewAcross(bs.srv.URL, testDeps(t, "across"))

	req := testRequest(t, "ethereum", "polygon")
	q, err := p.Quote(context.Background(), req, testSnapshot())
	require.NoError(t, err)
	require.Equal(t, domain.SourceFallback, q.Source)
	require.InDelta(t, req.Amount*0.003, q.Fee, 1e-9)
	require.GreaterOrEqual(t, q.GasEstimate, 0.5)
}

func TestHop_UnparseableFeeGetsFloor(t *testing.T) {
	bs := newBridgeServer(t, `{"bonderFee":"not-a-number"}`, 200)
	p := NewHop(bs.srv.URL, testDeps(t, "hop"))

	req := testRequest(t, "polygon", "arbitrum")
	q, err := p.Quote(context.Background(), req, testSnapshot())
	require.NoError(t, err)
	require.Equal(t, domain.SourceFallback, q.Source)
	require.InDelta(t, req.Amount*0.003, q.Fee, 1e-9)
	require.Greater(t, q.Fee, 0.0, "unparseable fee must never surface as a free quote")
}

func TestStargate_UnparseableFeeComponentPoisonsSum(t *testing.T) {
	bs := newBridgeServer(t, `{"quotes":[{"fees":[{"amount":"1000000000000000"},{"amount":"oops"}]}]}`, 200)
	p := NewStargate(bs.srv.URL, testDeps(t, "stargate"))

	req := testRequest(t, "ethereum", "polygon")
	q, err := p.Quote(context.Background(), req, testSnapshot())
	require.NoError(t, err)
	// A partial sum would understate the fee, so the whole total is discarded.
	require.Equal(t, domain.SourceFallback, q.Source)
	require.InDelta(t, req.Amount*0.003, q.Fee, 1e-9)
}

func TestUpstreamFailureExhaustsRetriesThenTripsBreaker(t *testing.T) {
	bs := newBridgeServer(t, `oops`, 500)
	deps := testDeps(t, "stargate")
	p := NewStargate(bs.srv.URL, deps)
	req := testRequest(t, "ethereum", "polygon")

	// Threshold 2, two attempts per call: breaker sees one terminal failure
	// per Quote call.
	_, err := p.Quote(context.Background(), req, testSnapshot())
	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, domain.ReasonUpstream, pe.Reason)
	require.EqualValues(t, 2, bs.calls.Load(), "both retry attempts used")

	_, err = p.Quote(context.Background(), req, testSnapshot())
	require.Error(t, err)
	require.Equal(t, breaker.StateOpen, deps.Breaker.State())

	// Third call fast-fails without hitting the server.
	callsBefore := bs.calls.Load()
	_, err = p.Quote(context.Background(), req, testSnapshot())
	require.ErrorAs(t, err, &pe)
	require.Equal(t, domain.ReasonBreakerOpen, pe.Reason)
	require.Greater(t, pe.RetryAfterSeconds, 0)
	require.Equal(t, callsBefore, bs.calls.Load())
}

func TestBreakerStatusSnapshot(t *testing.T) {
	bs := newBridgeServer(t, `{"totalRelayFee":{"total":"1000000"}}`, 200)
	p := NewAcross(bs.srv.URL, testDeps(t, "across"))

	_, err := p.Quote(context.Background(), testRequest(t, "ethereum", "polygon"), testSnapshot())
	require.NoError(t, err)

	st := p.BreakerStatus()
	require.Equal(t, "across", st.Provider)
	require.Equal(t, breaker.StateClosed, st.State)
	require.EqualValues(t, 1, st.Metrics.TotalSuccesses)
}
