package subpool

import (
	"context"
	"fmt"

	"yieldagg/pkg/client"
	"yieldagg/pkg/models"

	"github.com/shopspring/decimal"
)

// DefaultDYDXMarketsURL is the dYdX solo markets endpoint.
const DefaultDYDXMarketsURL = "https://api.dydx.exchange/v0/markets"

// dydxCurrencies are the markets the aggregator reports.
var dydxCurrencies = map[string]struct{}{
	"DAI":  {},
	"USDC": {},
	"USDT": {},
}

type dydxMarketsResponse struct {
	Markets *[]struct {
		Symbol         string           `json:"symbol"`
		TotalSupplyAPY *decimal.Decimal `json:"totalSupplyAPY"`
	} `json:"markets"`
}

// DYDX reads supply APYs from the dYdX markets API.
type DYDX struct {
	url  string
	http Getter
}

func NewDYDX(httpClient Getter, url string) *DYDX {
	if url == "" {
		url = DefaultDYDXMarketsURL
	}
	return &DYDX{url: url, http: httpClient}
}

func (d *DYDX) Name() string {
	return "dYdX"
}

func (d *DYDX) CurrencyAPYs(ctx context.Context) (map[string]models.Rate, error) {
	var resp dydxMarketsResponse
	if err := d.http.Get(ctx, d.url, &resp); err != nil {
		return nil, fmt.Errorf("dYdX: fetching markets: %w", err)
	}
	if resp.Markets == nil {
		return nil, fmt.Errorf("dYdX: %w: missing markets", client.ErrMalformedResponse)
	}

	apys := make(map[string]models.Rate)
	for _, m := range *resp.Markets {
		if _, ok := dydxCurrencies[m.Symbol]; !ok {
			continue
		}
		if m.TotalSupplyAPY == nil {
			return nil, fmt.Errorf("dYdX: %w: market %s has no totalSupplyAPY", client.ErrMalformedResponse, m.Symbol)
		}
		apys[m.Symbol] = models.RateFromDecimal(*m.TotalSupplyAPY)
	}
	return apys, nil
}
