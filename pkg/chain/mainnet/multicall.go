package mainnet

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Multicall3 contract address (same on all EVM chains)
var Multicall3Address = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

// Multicall3 ABI for aggregate3
const Multicall3ABIJSON = `[
	{
		"inputs": [
			{
				"components": [
					{"internalType": "address", "name": "target", "type": "address"},
					{"internalType": "bool", "name": "allowFailure", "type": "bool"},
					{"internalType": "bytes", "name": "callData", "type": "bytes"}
				],
				"internalType": "struct Multicall3.Call3[]",
				"name": "calls",
				"type": "tuple[]"
			}
		],
		"name": "aggregate3",
		"outputs": [
			{
				"components": [
					{"internalType": "bool", "name": "success", "type": "bool"},
					{"internalType": "bytes", "name": "returnData", "type": "bytes"}
				],
				"internalType": "struct Multicall3.Result[]",
				"name": "returnData",
				"type": "tuple[]"
			}
		],
		"stateMutability": "payable",
		"type": "function"
	}
]`

var Multicall3ABI abi.ABI

func init() {
	var err error
	Multicall3ABI, err = abi.JSON(strings.NewReader(Multicall3ABIJSON))
	if err != nil {
		panic("failed to parse Multicall3 ABI: " + err.Error())
	}
}

// ContractCall represents a single call to be batched
type ContractCall struct {
	Target   common.Address
	CallData []byte
}

// CallResult represents the result of a single call
type CallResult struct {
	Success bool
	Data    []byte
}

// call3 mirrors the Multicall3.Call3 tuple.
type call3 struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// result3 mirrors the Multicall3.Result tuple.
type result3 struct {
	Success    bool
	ReturnData []byte
}

// PackAggregate3 encodes calls as an aggregate3 call. Individual calls are
// allowed to fail.
func PackAggregate3(calls []ContractCall) ([]byte, error) {
	call3s := make([]call3, len(calls))
	for i, call := range calls {
		call3s[i] = call3{
			Target:       call.Target,
			AllowFailure: true,
			CallData:     call.CallData,
		}
	}

	data, err := Multicall3ABI.Pack("aggregate3", call3s)
	if err != nil {
		return nil, fmt.Errorf("failed to pack aggregate3 call: %w", err)
	}
	return data, nil
}

// UnpackAggregate3 decodes the return data of an aggregate3 call.
func UnpackAggregate3(data []byte) ([]CallResult, error) {
	var results []result3
	if err := Multicall3ABI.UnpackIntoInterface(&results, "aggregate3", data); err != nil {
		return nil, fmt.Errorf("failed to unpack aggregate3 result: %w", err)
	}

	callResults := make([]CallResult, len(results))
	for i, r := range results {
		callResults[i] = CallResult{
			Success: r.Success,
			Data:    r.ReturnData,
		}
	}
	return callResults, nil
}

// BatchCallContract executes multiple contract calls in a single RPC request
// using Multicall3. The request is attempted once.
func (c *Client) BatchCallContract(ctx context.Context, calls []ContractCall) ([]CallResult, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	data, err := PackAggregate3(calls)
	if err != nil {
		return nil, err
	}

	result, err := c.CallContract(ctx, Multicall3Address, data)
	if err != nil {
		return nil, fmt.Errorf("multicall failed: %w", err)
	}

	results, err := UnpackAggregate3(result)
	if err != nil {
		return nil, err
	}
	if len(results) != len(calls) {
		return nil, fmt.Errorf("multicall returned %d results for %d calls", len(results), len(calls))
	}
	return results, nil
}
