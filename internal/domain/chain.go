package domain

import (
	"strconv"

	"github.com/ethereum/go-ethereum/params"
)

// ChainName resolves a chain ID to the human-readable network name
// go-ethereum ships for well-known networks, falling back to "chain-<id>"
// for anything it doesn't recognize (L2s and app-chains arbitrage routes
// commonly touch).
func ChainName(chainID int64) string {
	if name, ok := params.NetworkNames[strconv.FormatInt(chainID, 10)]; ok {
		return name
	}
	return "chain-" + strconv.FormatInt(chainID, 10)
}

// BuyChainName resolves the name of the chain the opportunity buys on.
func (o Opportunity) BuyChainName() string { return ChainName(o.BuyChainID) }

// SellChainName resolves the name of the chain the opportunity sells on.
func (o Opportunity) SellChainName() string { return ChainName(o.SellChainID) }
