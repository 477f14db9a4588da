package types

import (
	"github.com/ethereum/go-ethereum/common"
)

// DexVmReceipt records the outcome of a counter operation, whether it
// reached the VM through the native router or the bridge precompile.
type DexVmReceipt struct {
	TxHash     common.Hash
	From       common.Address
	Success    bool
	OldCounter uint64
	NewCounter uint64
	GasUsed    uint64
	Error      string
}

// ExecutionResult is what the dual-VM processor hands back for one block.
type ExecutionResult struct {
	EvmReceipts   []*StoredReceipt
	DexVmReceipts []*DexVmReceipt
	TotalGasUsed  uint64
	EvmRoot       common.Hash
	DexVmRoot     common.Hash
	CombinedRoot  common.Hash
}

// StoredReceipt is the EVM-side receipt kept for RPC lookups. It carries the
// block placement so eth_getTransactionReceipt can answer without a second
// index read.
type StoredReceipt struct {
	TxHash            common.Hash
	From              common.Address
	To                *common.Address
	Status            uint64
	GasUsed           uint64
	CumulativeGasUsed uint64
	BlockNumber       uint64
	BlockHash         common.Hash
	TxIndex           uint64
}
