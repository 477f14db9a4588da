package core

import (
	"github.com/ethereum/go-ethereum/core/types"

	dxtypes "github.com/dexchain/dex-geth/core/types"
)

// Processor is an abstraction over the block execution backend. It hides the
// engine split (EVM, DexVM, bridge) behind a single interface that the
// consensus layer can drive without branching on transaction kind.
//
// Process executes the proposal's transactions in order and returns the
// execution result together with the transactions that were actually
// included: transactions failing their EVM preconditions are skipped, so the
// included list may be shorter than the input.
type Processor interface {
	Process(txs []*types.Transaction) (*dxtypes.ExecutionResult, []*types.Transaction, error)
}
