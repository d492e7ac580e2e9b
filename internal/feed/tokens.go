package feed

import (
	"sort"

	"yieldagg/pkg/contracts"
	"yieldagg/pkg/models"

	"github.com/rs/zerolog/log"
)

// stablecoinDenylist holds symbols never taken from the external token list.
// The internal definitions of these tokens are authoritative.
var stablecoinDenylist = map[string]struct{}{
	"DAI":  {},
	"USDC": {},
	"USDT": {},
	"TUSD": {},
	"BUSD": {},
	"bUSD": {},
	"sUSD": {},
	"SUSD": {},
	"mUSD": {},
}

// internalTokenDefs is the fixed set of tokens built at startup.
var internalTokenDefs = []struct {
	symbol   string
	address  string
	name     string
	decimals int
}{
	{"DAI", "0x6b175474e89094c44da98b954eedeac495271d0f", "Dai Stablecoin", 18},
	{"USDC", "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", "USD Coin", 6},
	{"USDT", "0xdac17f958d2ee523a2206206994597c13d831ec7", "Tether USD", 6},
	{"TUSD", "0x0000000000085d4780b73119b644ae5ecd22b376", "TrueUSD", 18},
	{"BUSD", "0x4Fabb145d64652a948d72533023f6E7A623C7C53", "Binance USD", 18},
	{"sUSD", "0x57ab1ec28d129707052df4df418d58a2d46d5f51", "sUSD", 18},
	{"mUSD", "0xe2f2a5c287993345a840db3b0845fbc70f5935a5", "mStable USD", 18},
}

// InternalTokens builds the fixed internal token set bound to caller.
func InternalTokens(caller contracts.Caller) map[string]models.TokenInfo {
	tokens := make(map[string]models.TokenInfo, len(internalTokenDefs))
	for _, def := range internalTokenDefs {
		tok, err := models.NewTokenInfo(def.symbol, def.address, def.name, def.decimals, caller)
		if err != nil {
			panic("invalid internal token: " + err.Error())
		}
		tokens[def.symbol] = tok
	}
	return tokens
}

// tokenRecord is one entry of the external token list.
type tokenRecord struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
}

// mergeTokens combines the internal set with fetched records. Fetched records
// are applied in symbol order; denylisted symbols, symbols defined
// internally, and invalid records are skipped.
func mergeTokens(internal map[string]models.TokenInfo, records []tokenRecord, caller contracts.Caller) (map[string]models.TokenInfo, int) {
	sorted := make([]tokenRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Symbol < sorted[j].Symbol
	})

	merged := make(map[string]models.TokenInfo, len(internal)+len(sorted))
	for symbol, tok := range internal {
		merged[symbol] = tok
	}

	skipped := 0
	for _, rec := range sorted {
		if _, denied := stablecoinDenylist[rec.Symbol]; denied {
			continue
		}
		if _, isInternal := internal[rec.Symbol]; isInternal {
			continue
		}
		tok, err := models.NewTokenInfo(rec.Symbol, rec.Address, rec.Name, rec.Decimals, caller)
		if err != nil {
			log.Debug().Err(err).Msg("Skipping invalid token list record")
			skipped++
			continue
		}
		merged[rec.Symbol] = tok
	}

	return merged, skipped
}
