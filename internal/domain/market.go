package domain

import "time"

// MarketSnapshot carries the external price signals needed to normalize
// provider fees into USD. Read-only after construction and shared across all
// adapters of one aggregation.
type MarketSnapshot struct {
	EthUSDPrice     float64           `json:"ethUsdPrice"`
	GasPriceGwei    float64           `json:"gasPriceGwei"`
	GasPriceByChain map[Chain]float64 `json:"gasPriceByChain"`
	Degraded        bool              `json:"degraded"`
	FetchedAt       time.Time         `json:"fetchedAt"`
}

// Base gas units of a bridge transaction per chain; mainnet pays more.
var bridgeGasUnits = map[Chain]float64{
	ChainEthereum:  120_000,
	ChainPolygon:   80_000,
	ChainArbitrum:  60_000,
	ChainOptimism:  60_000,
	ChainAvalanche: 80_000,
}

const minGasCostUSD = 0.50

// GasCostUSD estimates the USD cost of a bridge transaction on a chain from
// the snapshot's gas price and ETH price, floored at $0.50.
func (s MarketSnapshot) GasCostUSD(chain Chain) float64 {
	units, ok := bridgeGasUnits[chain]
	if !ok {
		units = 100_000
	}
	gwei := s.GasPriceGwei
	if v, ok := s.GasPriceByChain[chain]; ok {
		gwei = v
	}
	costETH := units * gwei / 1e9
	costUSD := costETH * s.EthUSDPrice
	if costUSD < minGasCostUSD {
		return minGasCostUSD
	}
	return costUSD
}
