package subpool

import (
	"context"
	"fmt"

	"yieldagg/pkg/client"
	"yieldagg/pkg/models"

	"github.com/shopspring/decimal"
)

// DefaultMStableURL is the mStable protocol subgraph.
const DefaultMStableURL = "https://api.thegraph.com/subgraphs/name/mstable/mstable-protocol"

const mStableSavingsQuery = `{
  savingsContracts(where: { active: true }, first: 1) {
    dailyAPY
  }
}`

type graphQLRequest struct {
	Query string `json:"query"`
}

type mStableResponse struct {
	Data *struct {
		SavingsContracts []struct {
			DailyAPY *decimal.Decimal `json:"dailyAPY"`
		} `json:"savingsContracts"`
	} `json:"data"`
}

// MStable reads the mUSD savings rate from the mStable subgraph.
type MStable struct {
	url  string
	http Poster
}

func NewMStable(httpClient Poster, url string) *MStable {
	if url == "" {
		url = DefaultMStableURL
	}
	return &MStable{url: url, http: httpClient}
}

func (m *MStable) Name() string {
	return "mStable"
}

// CurrencyAPYs reports the savings APY for mUSD. The subgraph returns percent.
func (m *MStable) CurrencyAPYs(ctx context.Context) (map[string]models.Rate, error) {
	var resp mStableResponse
	if err := m.http.Post(ctx, m.url, graphQLRequest{Query: mStableSavingsQuery}, &resp); err != nil {
		return nil, fmt.Errorf("mStable: querying savings: %w", err)
	}
	if resp.Data == nil || len(resp.Data.SavingsContracts) == 0 || resp.Data.SavingsContracts[0].DailyAPY == nil {
		return nil, fmt.Errorf("mStable: %w: missing dailyAPY", client.ErrMalformedResponse)
	}

	pct := *resp.Data.SavingsContracts[0].DailyAPY
	return map[string]models.Rate{
		"mUSD": models.RateFromDecimal(pct.Shift(-2)),
	}, nil
}
