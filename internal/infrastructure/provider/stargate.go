package provider

import (
	"context"
	"encoding/json"
	"math"
	"net/url"

	"bridgequotes-service/internal/domain"
)

// Stargate quotes bridge transfers through the Stargate Finance API.
// Stargate fees come back denominated in wei of native gas token; they are
// converted to USD with the snapshot's ETH price.
type Stargate struct {
	base
	baseURL string
}

func NewStargate(baseURL string, deps Deps) *Stargate {
	deps.defaults()
	return &Stargate{
		base: base{
			name:         "stargate",
			display:      "Stargate Finance",
			affiliateURL: "https://stargate.finance/transfer?ref=bridgecompare",
			reliability:  99.8,
			chains: map[domain.Chain]bool{
				domain.ChainEthereum:  true,
				domain.ChainPolygon:   true,
				domain.ChainArbitrum:  true,
				domain.ChainOptimism:  true,
				domain.ChainAvalanche: true,
			},
			tokens: map[string]bool{"usdc": true, "usdt": true},
			deps:   deps,
		},
		baseURL: baseURL,
	}
}

type stargateResp struct {
	Quotes []struct {
		Fees []struct {
			Amount json.RawMessage `json:"amount"`
		} `json:"fees"`
	} `json:"quotes"`
}

func (p *Stargate) Quote(ctx context.Context, req domain.QuoteRequest, snap domain.MarketSnapshot) (domain.Quote, error) {
	if perr := p.checkRoute(req); perr != nil {
		return domain.Quote{}, perr
	}

	srcToken, _ := domain.TokenAddress(req.FromChain, req.Token)
	dstToken, _ := domain.TokenAddress(req.ToChain, req.Token)
	u := p.baseURL + "/api/v1/quotes?" + url.Values{
		"srcToken":    {srcToken},
		"dstToken":    {dstToken},
		"srcChainKey": {string(req.FromChain)},
		"dstChainKey": {string(req.ToChain)},
		"srcAmount":   {req.BaseUnits()},
	}.Encode()

	var body stargateResp
	if perr := p.fetch(ctx, u, &body); perr != nil {
		return domain.Quote{}, perr
	}
	if len(body.Quotes) == 0 {
		return domain.Quote{}, p.malformed("no Stargate routes available for this pair")
	}

	// Any unparseable component poisons the sum: a partial total would
	// understate the fee, so the floor policy takes over via NaN.
	var totalWei float64
	for _, fee := range body.Quotes[0].Fees {
		v, ok := parseAmount(fee.Amount)
		if !ok {
			totalWei = math.NaN()
			break
		}
		totalWei += v
	}
	feeUSD := totalWei / 1e18 * snap.EthUSDPrice

	return p.quote(req, snap, feeUSD, 0.3, "2-3 min"), nil
}
