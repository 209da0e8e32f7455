package provider

import (
	"context"
	"encoding/json"
	"math"
	"net/url"
	"strconv"

	"bridgequotes-service/internal/domain"
)

// Across quotes through the Across Protocol suggested-fees API. Relay fees
// are returned in the token's own 6-decimal base units.
type Across struct {
	base
	baseURL string
}

func NewAcross(baseURL string, deps Deps) *Across {
	deps.defaults()
	return &Across{
		base: base{
			name:         "across",
			display:      "Across Protocol",
			affiliateURL: "https://across.to?ref=bridgecompare",
			reliability:  99.9,
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

type acrossResp struct {
	TotalRelayFee *struct {
		Total json.RawMessage `json:"total"`
	} `json:"totalRelayFee"`
}

func (p *Across) Quote(ctx context.Context, req domain.QuoteRequest, snap domain.MarketSnapshot) (domain.Quote, error) {
	if perr := p.checkRoute(req); perr != nil {
		return domain.Quote{}, perr
	}

	inputToken, _ := domain.TokenAddress(req.FromChain, req.Token)
	outputToken, _ := domain.TokenAddress(req.ToChain, req.Token)
	u := p.baseURL + "/api/suggested-fees?" + url.Values{
		"inputToken":         {inputToken},
		"outputToken":        {outputToken},
		"originChainId":      {strconv.FormatInt(domain.ChainID(req.FromChain), 10)},
		"destinationChainId": {strconv.FormatInt(domain.ChainID(req.ToChain), 10)},
		"amount":             {req.BaseUnits()},
	}.Encode()

	var body acrossResp
	if perr := p.fetch(ctx, u, &body); perr != nil {
		return domain.Quote{}, perr
	}
	if body.TotalRelayFee == nil {
		return domain.Quote{}, p.malformed("invalid Across API response: missing totalRelayFee")
	}

	// An unparseable fee value flows through as NaN so the floor policy in
	// quote() fires instead of a fabricated zero fee.
	feeUSD := math.NaN()
	if totalUnits, ok := parseAmount(body.TotalRelayFee.Total); ok {
		feeUSD = totalUnits / 1e6
	}

	return p.quote(req, snap, feeUSD, 0.2, "30 sec"), nil
}
