// Package contracts holds the ABIs of the contracts we read and thin helpers
// for calling them through a shared, read-only chain client.
package contracts

import (
	"context"
	"fmt"

	"yieldagg/pkg/chain/mainnet"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Caller performs read-only contract calls. *mainnet.Client implements it.
type Caller interface {
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	BatchCallContract(ctx context.Context, calls []mainnet.ContractCall) ([]mainnet.CallResult, error)
}

// Call packs method with args, calls it on to and unpacks the outputs.
func Call(ctx context.Context, caller Caller, contract abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", method, err)
	}

	result, err := caller.CallContract(ctx, to, data)
	if err != nil {
		return nil, fmt.Errorf("calling %s on %s: %w", method, to.Hex(), err)
	}

	out, err := contract.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("unpacking %s: %w", method, err)
	}
	return out, nil
}

// BatchCall runs the same method against several targets in one multicall.
// Per-target arguments are given by args(i). A failed sub-call yields a nil
// entry and is reported through the returned failed slice.
func BatchCall(ctx context.Context, caller Caller, contract abi.ABI, method string, targets []common.Address, args func(i int) []interface{}) (results [][]interface{}, failed []common.Address, err error) {
	calls := make([]mainnet.ContractCall, len(targets))
	for i, target := range targets {
		var callArgs []interface{}
		if args != nil {
			callArgs = args(i)
		}
		data, err := contract.Pack(method, callArgs...)
		if err != nil {
			return nil, nil, fmt.Errorf("packing %s for %s: %w", method, target.Hex(), err)
		}
		calls[i] = mainnet.ContractCall{Target: target, CallData: data}
	}

	raw, err := caller.BatchCallContract(ctx, calls)
	if err != nil {
		return nil, nil, err
	}
	if len(raw) != len(targets) {
		return nil, nil, fmt.Errorf("batch %s returned %d results for %d calls", method, len(raw), len(targets))
	}

	results = make([][]interface{}, len(targets))
	for i, r := range raw {
		if !r.Success {
			failed = append(failed, targets[i])
			continue
		}
		out, err := contract.Unpack(method, r.Data)
		if err != nil {
			failed = append(failed, targets[i])
			continue
		}
		results[i] = out
	}
	return results, failed, nil
}
