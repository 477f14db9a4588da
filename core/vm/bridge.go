package vm

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dexchain/dex-geth/core/dexvm"
)

// BridgeResult is the outcome of a counter precompile invocation.
type BridgeResult struct {
	Success    bool
	GasUsed    uint64
	Output     []byte
	OldCounter uint64
	NewCounter uint64
	Err        error
}

// CounterBridge is the stateless adapter behind the precompile address. It
// turns the 9-byte operation payload into a mutation of the DexVM pending
// overlay on behalf of the EVM caller. Callers must hold exclusive access to
// both VM states for the duration of the enclosing transaction.
type CounterBridge struct{}

// NewCounterBridge returns the bridge adapter.
func NewCounterBridge() *CounterBridge {
	return &CounterBridge{}
}

// Execute dispatches on the first calldata byte. Increment and query cannot
// fail; decrement fails on underflow without mutating the overlay. Malformed
// payloads fail with zero gas.
func (b *CounterBridge) Execute(caller common.Address, input []byte, pending *dexvm.Executor) *BridgeResult {
	op, err := dexvm.DecodeCalldata(input)
	if err != nil {
		current := pending.PendingCounter(caller)
		return &BridgeResult{Success: false, GasUsed: 0, OldCounter: current, NewCounter: current, Err: err}
	}
	res := pending.ExecuteOperation(caller, op)
	out := &BridgeResult{
		Success:    res.Success,
		GasUsed:    res.GasUsed,
		OldCounter: res.OldCounter,
		NewCounter: res.NewCounter,
		Err:        res.Err,
	}
	if res.Success {
		var enc [8]byte
		binary.BigEndian.PutUint64(enc[:], res.NewCounter)
		out.Output = enc[:]
	}
	return out
}
