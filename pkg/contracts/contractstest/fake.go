// Package contractstest provides an in-memory Caller that answers contract
// calls from registered handlers, encoding results with the real ABIs.
package contractstest

import (
	"context"
	"fmt"
	"sync"

	"yieldagg/pkg/chain/mainnet"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Handler receives the decoded call arguments and returns output values.
type Handler func(args []interface{}) ([]interface{}, error)

type methodKey struct {
	to       common.Address
	selector [4]byte
}

type registered struct {
	method  abi.Method
	handler Handler
}

// FakeCaller implements contracts.Caller.
type FakeCaller struct {
	mu      sync.Mutex
	methods map[methodKey]registered
	calls   int

	// Err, when set, fails every call as if the node were unreachable.
	Err error
}

func New() *FakeCaller {
	return &FakeCaller{methods: make(map[methodKey]registered)}
}

// Handle registers h for method of contract deployed at to.
func (f *FakeCaller) Handle(to common.Address, contract abi.ABI, method string, h Handler) {
	m, ok := contract.Methods[method]
	if !ok {
		panic("contractstest: unknown method " + method)
	}
	var sel [4]byte
	copy(sel[:], m.ID)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.methods[methodKey{to: to, selector: sel}] = registered{method: m, handler: h}
}

// Returns registers a handler that always answers with out.
func (f *FakeCaller) Returns(to common.Address, contract abi.ABI, method string, out ...interface{}) {
	f.Handle(to, contract, method, func([]interface{}) ([]interface{}, error) {
		return out, nil
	})
}

// Calls returns the number of eth_call requests served, counting a batch once.
func (f *FakeCaller) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeCaller) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.call(to, data)
}

func (f *FakeCaller) BatchCallContract(ctx context.Context, calls []mainnet.ContractCall) ([]mainnet.CallResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.Err != nil {
		return nil, fmt.Errorf("multicall failed: %w", f.Err)
	}

	results := make([]mainnet.CallResult, len(calls))
	for i, c := range calls {
		data, err := f.call(c.Target, c.CallData)
		results[i] = mainnet.CallResult{Success: err == nil, Data: data}
	}
	return results, nil
}

func (f *FakeCaller) call(to common.Address, data []byte) ([]byte, error) {
	if f.Err != nil {
		return nil, fmt.Errorf("contract call failed: %w", f.Err)
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("calldata too short")
	}
	var sel [4]byte
	copy(sel[:], data[:4])

	f.mu.Lock()
	r, ok := f.methods[methodKey{to: to, selector: sel}]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("execution reverted: no handler for %x on %s", sel, to.Hex())
	}

	args, err := r.method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("decoding %s args: %w", r.method.Name, err)
	}
	out, err := r.handler(args)
	if err != nil {
		return nil, err
	}
	return r.method.Outputs.Pack(out...)
}
