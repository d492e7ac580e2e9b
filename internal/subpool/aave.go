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

// AaveDataProvider is the mainnet Aave V2 protocol data provider.
var AaveDataProvider = common.HexToAddress("0x057835Ad21a177dbdd3090bB1CAE03EaCF78Fc6d")

// liquidityRate is the fourth output of getReserveData.
const liquidityRateIndex = 3

// Aave reads reserve liquidity rates (ray, per year) and compounds them per second.
type Aave struct {
	provider common.Address
	assets   map[string]common.Address
	caller   contracts.Caller
}

// NewAave returns the Aave subpool reading the given reserves (currency code
// to underlying token address).
func NewAave(caller contracts.Caller, provider common.Address, assets map[string]common.Address) *Aave {
	copied := make(map[string]common.Address, len(assets))
	for currency, addr := range assets {
		copied[currency] = addr
	}
	return &Aave{provider: provider, assets: copied, caller: caller}
}

func (a *Aave) Name() string {
	return "Aave"
}

func (a *Aave) CurrencyAPYs(ctx context.Context) (map[string]models.Rate, error) {
	currencies := make([]string, 0, len(a.assets))
	for currency := range a.assets {
		currencies = append(currencies, currency)
	}
	sort.Strings(currencies)

	targets := make([]common.Address, len(currencies))
	for i := range targets {
		targets[i] = a.provider
	}

	results, failed, err := contracts.BatchCall(ctx, a.caller, contracts.AaveDataProviderABI, "getReserveData", targets,
		func(i int) []interface{} { return []interface{}{a.assets[currencies[i]]} })
	if err != nil {
		return nil, fmt.Errorf("Aave: reading reserve data: %w", err)
	}
	if len(failed) > 0 {
		return nil, fmt.Errorf("Aave: getReserveData failed for %d of %d reserves", len(failed), len(targets))
	}

	apys := make(map[string]models.Rate, len(currencies))
	for i, currency := range currencies {
		rate, ok := results[i][liquidityRateIndex].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("Aave: unexpected liquidityRate type %T", results[i][liquidityRateIndex])
		}
		apy, err := compound(ratio(rate, ray)/secondsPerYear, secondsPerYear)
		if err != nil {
			return nil, fmt.Errorf("Aave %s: %w", currency, err)
		}
		apys[currency] = apy
	}
	return apys, nil
}
