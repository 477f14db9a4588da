package core

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/dexchain/dex-geth/core/dexvm"
	"github.com/dexchain/dex-geth/core/state"
	dxtypes "github.com/dexchain/dex-geth/core/types"
	"github.com/dexchain/dex-geth/core/vm"
)

// StateProcessor is the dual-VM block executor. It routes every transaction
// of a proposal to one of the three execution paths, collects receipts, and
// derives the per-block state roots.
//
// StateProcessor implements Processor.
type StateProcessor struct {
	evm   *EvmExecutor
	dex   *dexvm.Executor
	state *state.StateStore

	// mu serializes block execution. The main loop is the only caller in
	// steady state, but cross-VM transactions require exclusive ownership
	// of both state structures for their full duration, and the read-only
	// RPC surface shares the same executor.
	mu sync.Mutex

	logger log.Logger
}

// NewStateProcessor initialises a processor over the shared state store and
// the counter executor.
func NewStateProcessor(chainID *big.Int, statedb *state.StateStore, dex *dexvm.Executor) *StateProcessor {
	return &StateProcessor{
		evm:    NewEvmExecutor(chainID, statedb),
		dex:    dex,
		state:  statedb,
		logger: log.New("module", "dualvm"),
	}
}

// Evm exposes the EVM executor, used by the RPC surface for read-only calls.
func (p *StateProcessor) Evm() *EvmExecutor { return p.evm }

// Dex exposes the counter executor.
func (p *StateProcessor) Dex() *dexvm.Executor { return p.dex }

// Process executes the transactions in proposal order. Transactions that
// fail their EVM preconditions are skipped entirely; everything else is
// included with a receipt, successful or not. A state-store write error
// aborts the block and is returned. After the last transaction the
// pending counter overlay is promoted, the touched counters are persisted,
// and both state roots plus their combination are computed.
func (p *StateProcessor) Process(txs []*types.Transaction) (*dxtypes.ExecutionResult, []*types.Transaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var (
		evmReceipts []*dxtypes.StoredReceipt
		dexReceipts []*dxtypes.DexVmReceipt
		included    = make([]*types.Transaction, 0, len(txs))
		evmGas      uint64
		dexGas      uint64
	)
	for _, tx := range txs {
		from, err := p.evm.Sender(tx)
		if err != nil {
			p.logger.Warn("Dropping transaction with unrecoverable sender", "hash", tx.Hash(), "err", err)
			continue
		}
		switch vm.RouteOf(tx) {
		case vm.RouteDexVm:
			res := p.dex.ExecuteCalldata(from, tx.Data())
			receipt := &dxtypes.DexVmReceipt{
				TxHash:     tx.Hash(),
				From:       from,
				Success:    res.Success,
				OldCounter: res.OldCounter,
				NewCounter: res.NewCounter,
				GasUsed:    res.GasUsed,
			}
			if res.Err != nil {
				receipt.Error = res.Err.Error()
			}
			dexGas += res.GasUsed
			dexReceipts = append(dexReceipts, receipt)
			included = append(included, tx)

		case vm.RouteBridge:
			receipt, res, err := p.evm.ExecuteBridge(from, tx, p.dex)
			if err != nil {
				if !isPreconditionFailure(err) {
					return nil, nil, err
				}
				p.logger.Warn("Skipping bridge transaction", "hash", tx.Hash(), "from", from, "err", err)
				continue
			}
			evmGas += receipt.GasUsed
			receipt.CumulativeGasUsed = evmGas
			evmReceipts = append(evmReceipts, receipt)
			included = append(included, tx)
			if !res.Success {
				p.logger.Debug("Bridge transaction included with failed status", "hash", tx.Hash(), "err", res.Err)
			}

		default:
			receipt, err := p.evm.ExecuteTransfer(from, tx)
			if err != nil {
				if !isPreconditionFailure(err) {
					return nil, nil, err
				}
				p.logger.Warn("Skipping transaction", "hash", tx.Hash(), "from", from, "err", err)
				continue
			}
			evmGas += receipt.GasUsed
			receipt.CumulativeGasUsed = evmGas
			evmReceipts = append(evmReceipts, receipt)
			included = append(included, tx)
		}
	}

	// Promote the pending overlay and mirror the touched counters into the
	// persistent store before deriving roots, so the on-disk scan and the
	// in-memory digest agree.
	changed := p.dex.SyncPendingToState()
	for addr, value := range changed {
		if err := p.state.PutCounter(addr, value); err != nil {
			return nil, nil, err
		}
	}

	evmRoot := p.state.AccountsRoot()
	dexRoot := p.dex.StateRoot()
	result := &dxtypes.ExecutionResult{
		EvmReceipts:   evmReceipts,
		DexVmReceipts: dexReceipts,
		TotalGasUsed:  evmGas + dexGas,
		EvmRoot:       evmRoot,
		DexVmRoot:     dexRoot,
		CombinedRoot:  dxtypes.CombineRoots(evmRoot, dexRoot),
	}
	return result, included, nil
}

// isPreconditionFailure reports whether err rejects a single transaction
// rather than the whole block.
func isPreconditionFailure(err error) bool {
	return errors.Is(err, ErrNonceMismatch) || errors.Is(err, ErrInsufficientFunds)
}
