package models

import (
	"context"
	"fmt"

	"yieldagg/pkg/contracts"

	"github.com/ethereum/go-ethereum/common"
)

// MaxTokenDecimals is the largest number of decimals a token may declare.
const MaxTokenDecimals = 18

// TokenInfo describes an ERC20 token known to the aggregator.
type TokenInfo struct {
	Symbol   string           `json:"symbol"`
	Address  common.Address   `json:"address"`
	Name     string           `json:"name"`
	Decimals uint8            `json:"decimals"`
	Contract *contracts.ERC20 `json:"-"`
}

// NewTokenInfo validates the fields and binds a contract handle on caller.
// The address may be given with or without checksum casing.
func NewTokenInfo(symbol, address, name string, decimals int, caller contracts.Caller) (TokenInfo, error) {
	if symbol == "" {
		return TokenInfo{}, fmt.Errorf("token %s: empty symbol", address)
	}
	if !common.IsHexAddress(address) {
		return TokenInfo{}, fmt.Errorf("token %s: invalid address %q", symbol, address)
	}
	if decimals < 0 || decimals > MaxTokenDecimals {
		return TokenInfo{}, fmt.Errorf("token %s: decimals %d out of range", symbol, decimals)
	}

	addr := common.HexToAddress(address)
	return TokenInfo{
		Symbol:   symbol,
		Address:  addr,
		Name:     name,
		Decimals: uint8(decimals),
		Contract: contracts.NewERC20(addr, caller),
	}, nil
}

// BalanceOf reads the balance of owner, tagged with this token's decimals.
func (t TokenInfo) BalanceOf(ctx context.Context, owner common.Address) (TokenAmount, error) {
	if t.Contract == nil {
		return TokenAmount{}, fmt.Errorf("token %s has no contract handle", t.Symbol)
	}
	raw, err := t.Contract.BalanceOf(ctx, owner)
	if err != nil {
		return TokenAmount{}, fmt.Errorf("reading %s balance: %w", t.Symbol, err)
	}
	return NewTokenAmount(raw, t.Decimals), nil
}
