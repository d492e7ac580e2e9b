package contracts_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"yieldagg/pkg/contracts"
	"yieldagg/pkg/contracts/contractstest"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	usdcAddr = common.HexToAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	holder   = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func TestERC20Reads(t *testing.T) {
	fake := contractstest.New()
	fake.Returns(usdcAddr, contracts.ERC20ABI, "decimals", uint8(6))
	fake.Returns(usdcAddr, contracts.ERC20ABI, "symbol", "USDC")
	fake.Returns(usdcAddr, contracts.ERC20ABI, "totalSupply", big.NewInt(42_000_000))
	fake.Handle(usdcAddr, contracts.ERC20ABI, "balanceOf", func(args []interface{}) ([]interface{}, error) {
		require.Equal(t, holder, args[0].(common.Address))
		return []interface{}{big.NewInt(1_500_000)}, nil
	})

	token := contracts.NewERC20(usdcAddr, fake)
	ctx := context.Background()

	decimals, err := token.Decimals(ctx)
	require.NoError(t, err)
	require.Equal(t, uint8(6), decimals)

	symbol, err := token.Symbol(ctx)
	require.NoError(t, err)
	require.Equal(t, "USDC", symbol)

	supply, err := token.TotalSupply(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(42_000_000), supply.Int64())

	balance, err := token.BalanceOf(ctx, holder)
	require.NoError(t, err)
	require.Equal(t, int64(1_500_000), balance.Int64())
}

func TestERC20Errors(t *testing.T) {
	_, err := contracts.NewERC20(usdcAddr, nil).Decimals(context.Background())
	require.Error(t, err)

	fake := contractstest.New()
	fake.Err = errors.New("connection refused")
	_, err = contracts.NewERC20(usdcAddr, fake).TotalSupply(context.Background())
	require.ErrorIs(t, err, fake.Err)
}

func TestBatchCallReportsFailedTargets(t *testing.T) {
	good := common.HexToAddress("0x01")
	bad := common.HexToAddress("0x02")

	fake := contractstest.New()
	fake.Returns(good, contracts.CTokenABI, "supplyRatePerBlock", big.NewInt(7))

	results, failed, err := contracts.BatchCall(context.Background(), fake, contracts.CTokenABI,
		"supplyRatePerBlock", []common.Address{good, bad}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, fake.Calls())
	require.Equal(t, []common.Address{bad}, failed)
	require.Equal(t, int64(7), results[0][0].(*big.Int).Int64())
	require.Nil(t, results[1])
}
