package provider

import (
	"context"
	"encoding/json"
	"math"
	"net/url"
	"strings"

	"bridgequotes-service/internal/domain"
)

// Hop quotes through the Hop Protocol API. The bonder fee comes back in the
// token's 6-decimal base units; transfers touching mainnet settle slower.
type Hop struct {
	base
	baseURL string
}

func NewHop(baseURL string, deps Deps) *Hop {
	deps.defaults()
	return &Hop{
		base: base{
			name:         "hop",
			display:      "Hop Protocol",
			affiliateURL: "https://app.hop.exchange/send?ref=bridgecompare",
			reliability:  99.2,
			chains: map[domain.Chain]bool{
				domain.ChainEthereum: true,
				domain.ChainPolygon:  true,
				domain.ChainArbitrum: true,
				domain.ChainOptimism: true,
			},
			tokens: map[string]bool{"usdc": true, "usdt": true, "dai": true},
			deps:   deps,
		},
		baseURL: baseURL,
	}
}

type hopResp struct {
	BonderFee json.RawMessage `json:"bonderFee"`
}

func (p *Hop) Quote(ctx context.Context, req domain.QuoteRequest, snap domain.MarketSnapshot) (domain.Quote, error) {
	if perr := p.checkRoute(req); perr != nil {
		return domain.Quote{}, perr
	}

	u := p.baseURL + "/v1/quote?" + url.Values{
		"amount":    {req.BaseUnits()},
		"token":     {strings.ToUpper(req.Token)},
		"fromChain": {string(req.FromChain)},
		"toChain":   {string(req.ToChain)},
		"slippage":  {"0.5"},
	}.Encode()

	var body hopResp
	if perr := p.fetch(ctx, u, &body); perr != nil {
		return domain.Quote{}, perr
	}
	if len(body.BonderFee) == 0 {
		return domain.Quote{}, p.malformed("invalid Hop API response: missing bonderFee")
	}

	// NaN routes an unparseable bonder fee into the floor policy.
	feeUSD := math.NaN()
	if bonderUnits, ok := parseAmount(body.BonderFee); ok {
		feeUSD = bonderUnits / 1e6
	}

	estTime := "3-5 min"
	if req.FromChain == domain.ChainEthereum || req.ToChain == domain.ChainEthereum {
		estTime = "7-10 min"
	}
	return p.quote(req, snap, feeUSD, 0.4, estTime), nil
}
