// Package subpool reads current supply APYs from individual lending
// protocols behind a single interface.
package subpool

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"yieldagg/pkg/models"
)

// YieldSource reports the current annual percentage yield per currency.
type YieldSource interface {
	Name() string
	CurrencyAPYs(ctx context.Context) (map[string]models.Rate, error)
}

// Getter fetches a URL and decodes its JSON body. *client.HTTPClient implements it.
type Getter interface {
	Get(ctx context.Context, url string, response interface{}) error
}

// Poster sends a JSON body and decodes the JSON reply. *client.HTTPClient implements it.
type Poster interface {
	Post(ctx context.Context, url string, body, response interface{}) error
}

const (
	// DefaultBlocksPerDay approximates mainnet blocks per day at 13s blocks.
	DefaultBlocksPerDay = 6570

	secondsPerYear = 365 * 24 * 60 * 60
)

var ray = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil))

// ratio returns n/d as a float64.
func ratio(n *big.Int, d *big.Float) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(n), d).Float64()
	return f
}

// compound returns (1+rate)^periods - 1 as a Rate.
func compound(ratePerPeriod float64, periods float64) (models.Rate, error) {
	apy := math.Pow(1+ratePerPeriod, periods) - 1
	if math.IsNaN(apy) || math.IsInf(apy, 0) {
		return models.Rate{}, fmt.Errorf("apy out of range for rate %g over %g periods", ratePerPeriod, periods)
	}
	return models.RateFromFloat(apy), nil
}
