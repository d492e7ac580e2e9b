package subpool

import (
	"context"

	"yieldagg/pkg/models"
)

// YVault reports zero yield for its supported stablecoins.
type YVault struct{}

func NewYVault() *YVault {
	return &YVault{}
}

func (y *YVault) Name() string {
	return "yVault"
}

func (y *YVault) CurrencyAPYs(ctx context.Context) (map[string]models.Rate, error) {
	return map[string]models.Rate{
		"DAI":  models.ZeroRate(),
		"USDC": models.ZeroRate(),
		"USDT": models.ZeroRate(),
		"TUSD": models.ZeroRate(),
	}, nil
}
