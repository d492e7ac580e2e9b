package subpool

import (
	"context"
	"fmt"
	"math/big"

	"yieldagg/pkg/contracts"
	"yieldagg/pkg/models"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// AlphaBank is the mainnet Alpha Homora ETH bank.
var AlphaBank = common.HexToAddress("0x67B66C99D3Eb37Fa76Aa3Ed1ff33E8e39F0b9c7A")

const bpsDenominator = 10000

// Alpha computes the ETH lending APY of Alpha Homora from the bank's
// utilisation, the borrow rate per second and the reserve pool share.
type Alpha struct {
	bank   common.Address
	caller contracts.Caller
}

func NewAlpha(caller contracts.Caller, bank common.Address) *Alpha {
	return &Alpha{bank: bank, caller: caller}
}

func (a *Alpha) Name() string {
	return "Alpha"
}

func (a *Alpha) CurrencyAPYs(ctx context.Context) (map[string]models.Rate, error) {
	totalETH, err := a.readUint(ctx, contracts.AlphaBankABI, a.bank, "totalETH")
	if err != nil {
		return nil, err
	}
	debt, err := a.readUint(ctx, contracts.AlphaBankABI, a.bank, "glbDebtVal")
	if err != nil {
		return nil, err
	}
	if totalETH.Sign() == 0 {
		return map[string]models.Rate{"ETH": models.ZeroRate()}, nil
	}
	if debt.Cmp(totalETH) > 0 {
		return nil, fmt.Errorf("Alpha: debt %s exceeds total %s", debt, totalETH)
	}

	out, err := contracts.Call(ctx, a.caller, contracts.AlphaBankABI, a.bank, "config")
	if err != nil {
		return nil, fmt.Errorf("Alpha: %w", err)
	}
	config, ok := out[0].(common.Address)
	if !ok {
		return nil, fmt.Errorf("Alpha: unexpected config type %T", out[0])
	}

	floating := new(big.Int).Sub(totalETH, debt)
	borrowPerSecond, err := a.readUint(ctx, contracts.AlphaConfigABI, config, "getInterestRate", debt, floating)
	if err != nil {
		return nil, err
	}
	reserveBps, err := a.readUint(ctx, contracts.AlphaConfigABI, config, "getReservePoolBps")
	if err != nil {
		return nil, err
	}
	if reserveBps.Cmp(big.NewInt(bpsDenominator)) > 0 {
		return nil, fmt.Errorf("Alpha: reserve pool bps %s out of range", reserveBps)
	}

	// lender rate = borrow rate * utilisation * (1 - reserve share)
	lender := new(big.Int).Mul(borrowPerSecond, debt)
	lender.Mul(lender, new(big.Int).Sub(big.NewInt(bpsDenominator), reserveBps))
	lender.Quo(lender, totalETH)
	lender.Quo(lender, big.NewInt(bpsDenominator))

	apy, err := compound(ratio(lender, wadFloat), secondsPerYear)
	if err != nil {
		return nil, fmt.Errorf("Alpha: %w", err)
	}
	return map[string]models.Rate{"ETH": apy}, nil
}

func (a *Alpha) readUint(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) (*big.Int, error) {
	out, err := contracts.Call(ctx, a.caller, contract, to, method, args...)
	if err != nil {
		return nil, fmt.Errorf("Alpha: %w", err)
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("Alpha: unexpected %s type %T", method, out[0])
	}
	return v, nil
}
