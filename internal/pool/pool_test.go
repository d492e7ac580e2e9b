package pool

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"yieldagg/internal/subpool"
	"yieldagg/pkg/contracts"
	"yieldagg/pkg/contracts/contractstest"
	"yieldagg/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	name string
	apys map[string]float64
	err  error
}

func (s staticSource) Name() string { return s.name }

func (s staticSource) CurrencyAPYs(ctx context.Context) (map[string]models.Rate, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]models.Rate, len(s.apys))
	for c, f := range s.apys {
		out[c] = models.RateFromFloat(f)
	}
	return out, nil
}

type staticTokens map[string]models.TokenInfo

func (s staticTokens) Token(ctx context.Context, symbol string) (models.TokenInfo, bool, error) {
	tok, ok := s[symbol]
	return tok, ok, nil
}

func TestAPYsPicksBestAndFilters(t *testing.T) {
	p := New("stable", []string{"DAI", "USDC"}, []subpool.YieldSource{
		staticSource{name: "Compound", apys: map[string]float64{"DAI": 0.03, "USDC": 0.05, "ETH": 0.9}},
		staticSource{name: "Aave", apys: map[string]float64{"DAI": 0.04, "USDC": 0.02}},
	}, nil)

	snap, err := p.APYs(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "stable", snap.Pool)
	assert.NotContains(t, snap.APYs["Compound"], "ETH")
	assert.Equal(t, "Aave", snap.Best["DAI"].Subpool)
	assert.Equal(t, "0.04", snap.Best["DAI"].APY.String())
	assert.Equal(t, "Compound", snap.Best["USDC"].Subpool)
	assert.Empty(t, snap.Failed)
	assert.False(t, snap.Timestamp.IsZero())
}

func TestAPYsKeepsPartialResults(t *testing.T) {
	p := New("dai", []string{"DAI"}, []subpool.YieldSource{
		staticSource{name: "Compound", apys: map[string]float64{"DAI": 0.03}},
		staticSource{name: "dYdX", err: errors.New("api down")},
	}, nil)

	snap, err := p.APYs(context.Background())
	require.NoError(t, err)
	assert.Contains(t, snap.APYs, "Compound")
	assert.NotContains(t, snap.APYs, "dYdX")
	assert.Equal(t, "api down", snap.Failed["dYdX"])
	assert.Equal(t, "Compound", snap.Best["DAI"].Subpool)
}

func TestAPYsAllFailed(t *testing.T) {
	p := New("dai", []string{"DAI"}, []subpool.YieldSource{
		staticSource{name: "Compound", err: errors.New("x")},
		staticSource{name: "dYdX", err: errors.New("y")},
	}, nil)

	_, err := p.APYs(context.Background())
	assert.ErrorIs(t, err, ErrNoData)
}

func TestAPYsTieBreaksByName(t *testing.T) {
	p := New("dai", []string{"DAI"}, []subpool.YieldSource{
		staticSource{name: "Fuse7", apys: map[string]float64{"DAI": 0.05}},
		staticSource{name: "Aave", apys: map[string]float64{"DAI": 0.05}},
	}, nil)

	snap, err := p.APYs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Aave", snap.Best["DAI"].Subpool)
}

func TestAPYsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := New("dai", []string{"DAI"}, []subpool.YieldSource{
		staticSource{name: "Compound", apys: map[string]float64{"DAI": 0.03}},
	}, nil)

	_, err := p.APYs(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTokens(t *testing.T) {
	dai, err := models.NewTokenInfo("DAI", "0x6b175474e89094c44da98b954eedeac495271d0f", "Dai Stablecoin", 18, nil)
	require.NoError(t, err)

	p := New("dai", []string{"DAI"}, nil, staticTokens{"DAI": dai})
	tokens, err := p.Tokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dai.Address, tokens["DAI"].Address)

	p = New("stable", []string{"DAI", "USDC"}, nil, staticTokens{"DAI": dai})
	_, err = p.Tokens(context.Background())
	assert.ErrorContains(t, err, "unknown token USDC")
}

func TestBalances(t *testing.T) {
	chain := contractstest.New()
	dai, err := models.NewTokenInfo("DAI", "0x6b175474e89094c44da98b954eedeac495271d0f", "Dai Stablecoin", 18, chain)
	require.NoError(t, err)
	usdc, err := models.NewTokenInfo("USDC", "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", "USD Coin", 6, chain)
	require.NoError(t, err)

	holder := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	chain.Handle(dai.Address, contracts.ERC20ABI, "balanceOf", func(args []interface{}) ([]interface{}, error) {
		if args[0].(common.Address) != holder {
			return []interface{}{big.NewInt(0)}, nil
		}
		return []interface{}{new(big.Int).Mul(big.NewInt(5), models.Wad)}, nil
	})
	chain.Returns(usdc.Address, contracts.ERC20ABI, "balanceOf", big.NewInt(2_500_000))

	p := New("stable", []string{"DAI", "USDC"}, nil, staticTokens{"DAI": dai, "USDC": usdc})
	balances, err := p.Balances(context.Background(), holder)
	require.NoError(t, err)
	assert.Equal(t, "5", balances["DAI"].String())
	assert.Equal(t, uint8(18), balances["DAI"].Decimals())
	assert.Equal(t, "2.5", balances["USDC"].String())
	assert.Equal(t, uint8(6), balances["USDC"].Decimals())
}

func TestBalancesFailsOnAnyRead(t *testing.T) {
	chain := contractstest.New()
	dai, err := models.NewTokenInfo("DAI", "0x6b175474e89094c44da98b954eedeac495271d0f", "Dai Stablecoin", 18, chain)
	require.NoError(t, err)
	usdc, err := models.NewTokenInfo("USDC", "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", "USD Coin", 6, chain)
	require.NoError(t, err)
	chain.Returns(dai.Address, contracts.ERC20ABI, "balanceOf", big.NewInt(1))

	p := New("stable", []string{"DAI", "USDC"}, nil, staticTokens{"DAI": dai, "USDC": usdc})
	_, err = p.Balances(context.Background(), common.Address{})
	require.Error(t, err)
	assert.ErrorContains(t, err, "reading USDC balance")
}

func TestBuildDefinitions(t *testing.T) {
	subpools := make(map[string]subpool.YieldSource)
	for _, def := range Definitions() {
		for _, name := range def.Members {
			subpools[name] = staticSource{name: name}
		}
	}

	stable, err := Build(Stable, subpools, nil)
	require.NoError(t, err)
	assert.Len(t, stable.Members, 14)
	assert.Len(t, stable.Currencies, 7)

	dai, err := Build(DAI, subpools, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"DAI"}, dai.Currencies)
	assert.Len(t, dai.Members, 7)

	delete(subpools, "Fuse6")
	_, err = Build(DAI, subpools, nil)
	assert.ErrorContains(t, err, "Fuse6")
}
