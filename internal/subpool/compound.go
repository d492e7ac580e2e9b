package subpool

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"yieldagg/pkg/contracts"
	"yieldagg/pkg/models"

	"github.com/ethereum/go-ethereum/common"
)

// CompoundMarkets are the mainnet cToken markets read by the Compound subpool.
var CompoundMarkets = map[string]common.Address{
	"DAI":  common.HexToAddress("0x5d3a536E4D6DbD6114cc1Ead35777bAB948E3643"),
	"USDC": common.HexToAddress("0x39AA39c021dfc3794ccD9d7bc87D2a60C5A5e57B"),
	"USDT": common.HexToAddress("0xf650C3d88D12dB855b8bf7D11Be6C55A4e07dCC9"),
}

var wadFloat = new(big.Float).SetInt(models.Wad)

// Compound reads supplyRatePerBlock from cToken markets and compounds it
// daily. Fuse pools expose the same interface and use this type too.
type Compound struct {
	name         string
	markets      map[string]common.Address
	caller       contracts.Caller
	blocksPerDay float64
}

// NewCompound returns the Compound subpool over the given markets
// (currency code to cToken address).
func NewCompound(caller contracts.Caller, markets map[string]common.Address, blocksPerDay int) *Compound {
	return newCToken("Compound", caller, markets, blocksPerDay)
}

// NewFuse returns a Fuse pool subpool named "Fuse<n>".
func NewFuse(n int, caller contracts.Caller, markets map[string]common.Address, blocksPerDay int) *Compound {
	return newCToken(fmt.Sprintf("Fuse%d", n), caller, markets, blocksPerDay)
}

func newCToken(name string, caller contracts.Caller, markets map[string]common.Address, blocksPerDay int) *Compound {
	if blocksPerDay <= 0 {
		blocksPerDay = DefaultBlocksPerDay
	}
	copied := make(map[string]common.Address, len(markets))
	for currency, addr := range markets {
		copied[currency] = addr
	}
	return &Compound{
		name:         name,
		markets:      copied,
		caller:       caller,
		blocksPerDay: float64(blocksPerDay),
	}
}

func (c *Compound) Name() string {
	return c.name
}

// CurrencyAPYs reads all markets in one multicall.
func (c *Compound) CurrencyAPYs(ctx context.Context) (map[string]models.Rate, error) {
	currencies := make([]string, 0, len(c.markets))
	for currency := range c.markets {
		currencies = append(currencies, currency)
	}
	sort.Strings(currencies)

	targets := make([]common.Address, len(currencies))
	for i, currency := range currencies {
		targets[i] = c.markets[currency]
	}

	results, failed, err := contracts.BatchCall(ctx, c.caller, contracts.CTokenABI, "supplyRatePerBlock", targets, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: reading supply rates: %w", c.name, err)
	}
	if len(failed) > 0 {
		return nil, fmt.Errorf("%s: supplyRatePerBlock failed for %d of %d markets", c.name, len(failed), len(targets))
	}

	apys := make(map[string]models.Rate, len(currencies))
	for i, currency := range currencies {
		perBlock, ok := results[i][0].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("%s: unexpected supplyRatePerBlock type %T", c.name, results[i][0])
		}
		apy, err := compound(ratio(perBlock, wadFloat)*c.blocksPerDay, 365)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", c.name, currency, err)
		}
		apys[currency] = apy
	}
	return apys, nil
}
