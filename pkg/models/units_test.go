package models

import (
	"context"
	"math/big"
	"testing"

	"yieldagg/pkg/contracts"
	"yieldagg/pkg/contracts/contractstest"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func wad(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad integer " + s)
	}
	return n
}

func TestParseUSDPrice(t *testing.T) {
	p, err := ParseUSDPrice("3000.00")
	require.NoError(t, err)
	require.Equal(t, wad("3000000000000000000000"), p.Wad())
	require.Equal(t, "3000", p.String())

	p, err = ParseUSDPrice("1234.5678")
	require.NoError(t, err)
	require.Equal(t, wad("1234567800000000000000"), p.Wad())

	// Digits past 18 decimals are dropped.
	p, err = ParseUSDPrice("0.1234567890123456789")
	require.NoError(t, err)
	require.Equal(t, wad("123456789012345678"), p.Wad())

	// The smallest representable price survives.
	p, err = ParseUSDPrice("0.000000000000000001")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1), p.Wad())

	for _, bad := range []string{"", "abc", "0", "-5", "1e-19", "0.0000000000000000009"} {
		_, err := ParseUSDPrice(bad)
		require.Error(t, err, bad)
	}
}

func TestUSDPriceIsImmutable(t *testing.T) {
	src := wad("1000000000000000000")
	p := NewUSDPrice(src)
	src.SetInt64(0)
	p.Wad().SetInt64(0)
	require.Equal(t, wad("1000000000000000000"), p.Wad())
	require.True(t, USDPrice{}.IsZero())
}

func TestTokenAmountValueUSD(t *testing.T) {
	price, err := ParseUSDPrice("3000")
	require.NoError(t, err)

	// 1.5 tokens with 6 decimals.
	usdc := NewTokenAmount(big.NewInt(1_500_000), 6)
	require.Equal(t, "1.5", usdc.String())
	require.Equal(t, wad("4500000000000000000000"), usdc.ValueUSD(price).Wad())

	// 0.25 tokens with 18 decimals.
	eth := NewTokenAmount(wad("250000000000000000"), 18)
	require.Equal(t, wad("750000000000000000000"), eth.ValueUSD(price).Wad())

	// 7 tokens with 0 decimals.
	whole := NewTokenAmount(big.NewInt(7), 0)
	require.Equal(t, wad("21000000000000000000000"), whole.ValueUSD(price).Wad())
}

func TestRateConversions(t *testing.T) {
	r := RateFromDecimal(decimal.RequireFromString("0.0525"))
	require.Equal(t, wad("52500000000000000"), r.Wad())
	require.Equal(t, "0.0525", r.String())

	text, err := r.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "0.0525", string(text))

	require.Equal(t, 1, r.Cmp(ZeroRate()))
	require.Equal(t, 0, ZeroRate().Cmp(Rate{}))
	require.InDelta(t, 0.1, RateFromFloat(0.1).Float64(), 1e-12)
}

func TestUnmarshalText(t *testing.T) {
	var p USDPrice
	require.NoError(t, p.UnmarshalText([]byte("2471.35")))
	require.Equal(t, wad("2471350000000000000000"), p.Wad())
	require.Error(t, p.UnmarshalText([]byte("-1")))

	var r Rate
	require.NoError(t, r.UnmarshalText([]byte("0.07")))
	require.Equal(t, wad("70000000000000000"), r.Wad())
	require.Error(t, r.UnmarshalText([]byte("seven")))
}

func TestNewTokenInfo(t *testing.T) {
	tok, err := NewTokenInfo("DAI", "0x6b175474e89094c44da98b954eedeac495271d0f", "Dai Stablecoin", 18, nil)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"), tok.Address)
	require.NotNil(t, tok.Contract)

	_, err = NewTokenInfo("BAD", "0x1234", "", 18, nil)
	require.Error(t, err)
	_, err = NewTokenInfo("BIG", "0x6b175474e89094c44da98b954eedeac495271d0f", "", 19, nil)
	require.Error(t, err)
	_, err = NewTokenInfo("", "0x6b175474e89094c44da98b954eedeac495271d0f", "", 18, nil)
	require.Error(t, err)
}

func TestTokenInfoBalanceOf(t *testing.T) {
	addr := "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	owner := common.HexToAddress("0x2222222222222222222222222222222222222222")

	fake := contractstest.New()
	fake.Returns(common.HexToAddress(addr), contracts.ERC20ABI, "balanceOf", big.NewInt(2_000_000))

	tok, err := NewTokenInfo("USDC", addr, "USD Coin", 6, fake)
	require.NoError(t, err)

	amount, err := tok.BalanceOf(context.Background(), owner)
	require.NoError(t, err)
	require.Equal(t, uint8(6), amount.Decimals())
	require.Equal(t, "2", amount.String())
}
