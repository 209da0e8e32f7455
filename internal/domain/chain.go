package domain

// Chain is a normalized (lower-case) chain name.
type Chain string

const (
	ChainEthereum  Chain = "ethereum"
	ChainPolygon   Chain = "polygon"
	ChainArbitrum  Chain = "arbitrum"
	ChainOptimism  Chain = "optimism"
	ChainAvalanche Chain = "avalanche"
)

var chainIDs = map[Chain]int64{
	ChainEthereum:  1,
	ChainPolygon:   137,
	ChainArbitrum:  42161,
	ChainOptimism:  10,
	ChainAvalanche: 43114,
}

// tokenAddresses maps chain -> token symbol -> contract address.
var tokenAddresses = map[Chain]map[string]string{
	ChainEthereum: {
		"usdc": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		"usdt": "0xdAC17F958D2ee523a2206206994597C13D831ec7",
		"dai":  "0x6B175474E89094C44Da98b954EedeAC495271d0F",
	},
	ChainPolygon: {
		"usdc": "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
		"usdt": "0xc2132D05D31c914a87C6611C10748AEb04B58e8F",
		"dai":  "0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063",
	},
	ChainArbitrum: {
		"usdc": "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
		"usdt": "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9",
		"dai":  "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1",
	},
	ChainOptimism: {
		"usdc": "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85",
		"usdt": "0x94b008aA00579c1307B0EF2c499aD98a8ce58e58",
		"dai":  "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1",
	},
	ChainAvalanche: {
		"usdc": "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
		"usdt": "0x9702230A8Ea53601f5cD2dc00fDBc13d4dF4A8c7",
		"dai":  "0xd586E7F844cEa2F87f50152665BCbc2C279D8d70",
	},
}

func IsSupportedChain(c Chain) bool {
	_, ok := chainIDs[c]
	return ok
}

// ChainID returns the EVM chain ID, 0 when the chain is unknown.
func ChainID(c Chain) int64 { return chainIDs[c] }

// TokenAddress resolves a token symbol to its contract address on a chain.
func TokenAddress(c Chain, token string) (string, bool) {
	addrs, ok := tokenAddresses[c]
	if !ok {
		return "", false
	}
	addr, ok := addrs[token]
	return addr, ok
}

func IsSupportedToken(token string) bool {
	switch token {
	case "usdc", "usdt", "dai":
		return true
	}
	return false
}
