package pool

import (
	"fmt"

	"yieldagg/internal/subpool"
)

// Definition names a pool's currencies and member subpools.
type Definition struct {
	Name       string
	Currencies []string
	Members    []string
}

// Stable is the multi-stablecoin pool.
var Stable = Definition{
	Name:       "stable",
	Currencies: []string{"DAI", "USDC", "USDT", "TUSD", "BUSD", "sUSD", "mUSD"},
	Members: []string{
		"dYdX", "Compound", "Aave", "mStable",
		"Fuse2", "Fuse3", "Fuse7", "Fuse11", "Fuse13", "Fuse14", "Fuse15", "Fuse16", "Fuse18", "Fuse6",
	},
}

// DAI is the DAI-only pool.
var DAI = Definition{
	Name:       "dai",
	Currencies: []string{"DAI"},
	Members:    []string{"dYdX", "Compound", "Aave", "mStable", "Fuse6", "Fuse7", "Fuse18"},
}

// Definitions returns the pools the aggregator serves.
func Definitions() []Definition {
	return []Definition{Stable, DAI}
}

// Build resolves a definition's member names against subpools.
func Build(def Definition, subpools map[string]subpool.YieldSource, tokens TokenResolver) (*Pool, error) {
	members := make([]subpool.YieldSource, 0, len(def.Members))
	for _, name := range def.Members {
		src, ok := subpools[name]
		if !ok {
			return nil, fmt.Errorf("pool %s: unknown subpool %q", def.Name, name)
		}
		members = append(members, src)
	}
	return New(def.Name, def.Currencies, members, tokens), nil
}
