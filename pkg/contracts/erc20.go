package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ERC20 is a read-only handle on an ERC20 token contract.
type ERC20 struct {
	Address common.Address
	caller  Caller
}

// NewERC20 binds a token address to a caller.
func NewERC20(address common.Address, caller Caller) *ERC20 {
	return &ERC20{Address: address, caller: caller}
}

func (t *ERC20) call(ctx context.Context, method string, args ...interface{}) (interface{}, error) {
	if t.caller == nil {
		return nil, fmt.Errorf("token %s has no chain client", t.Address.Hex())
	}
	out, err := Call(ctx, t.caller, ERC20ABI, t.Address, method, args...)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s returned %d values", method, len(out))
	}
	return out[0], nil
}

// Decimals reads decimals().
func (t *ERC20) Decimals(ctx context.Context) (uint8, error) {
	v, err := t.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := v.(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals returned %T", v)
	}
	return d, nil
}

// Symbol reads symbol().
func (t *ERC20) Symbol(ctx context.Context) (string, error) {
	v, err := t.call(ctx, "symbol")
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("symbol returned %T", v)
	}
	return s, nil
}

// TotalSupply reads totalSupply() as a raw integer.
func (t *ERC20) TotalSupply(ctx context.Context) (*big.Int, error) {
	return t.bigCall(ctx, "totalSupply")
}

// BalanceOf reads balanceOf(owner) as a raw integer.
func (t *ERC20) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	return t.bigCall(ctx, "balanceOf", owner)
}

func (t *ERC20) bigCall(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	v, err := t.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	n, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s returned %T", method, v)
	}
	return n, nil
}
