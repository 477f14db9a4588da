// Package core wires the two execution engines into the block pipeline: the
// EVM value-transfer executor, the dual-VM state processor, and the chain
// bookkeeping around them.
package core

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/dexchain/dex-geth/core/dexvm"
	"github.com/dexchain/dex-geth/core/state"
	"github.com/dexchain/dex-geth/core/tracing"
	dxtypes "github.com/dexchain/dex-geth/core/types"
	"github.com/dexchain/dex-geth/core/vm"
	"github.com/dexchain/dex-geth/params"
)

var (
	// ErrNonceMismatch fails a transaction whose nonce does not equal the
	// sender's current account nonce.
	ErrNonceMismatch = errors.New("nonce mismatch")

	// ErrInsufficientFunds fails a transaction whose sender cannot cover
	// gas_limit·gas_price + value.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidSender fails a transaction whose signature cannot be
	// recovered.
	ErrInvalidSender = errors.New("invalid sender")
)

// EvmExecutor applies EVM-routed transactions to the persistent account
// state. Only value transfers, nonce tracking and the counter precompile are
// modeled; a transfer burns the flat transfer cost, a bridge call burns the
// gas reported by the precompile, and a malformed bridge payload burns none.
type EvmExecutor struct {
	chainID *big.Int
	signer  types.Signer
	state   *state.StateStore
	bridge  *vm.CounterBridge
	logger  log.Logger
}

// NewEvmExecutor creates an executor over the given state store.
func NewEvmExecutor(chainID *big.Int, statedb *state.StateStore) *EvmExecutor {
	return &EvmExecutor{
		chainID: chainID,
		signer:  types.LatestSignerForChainID(chainID),
		state:   statedb,
		bridge:  vm.NewCounterBridge(),
		logger:  log.New("module", "evm"),
	}
}

// Signer returns the signer used for sender recovery.
func (e *EvmExecutor) Signer() types.Signer { return e.signer }

// Sender recovers the transaction sender.
func (e *EvmExecutor) Sender(tx *types.Transaction) (common.Address, error) {
	from, err := types.Sender(e.signer, tx)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSender, err)
	}
	return from, nil
}

// checkPreconditions verifies the nonce and balance rules shared by the
// transfer and bridge paths, returning the sender account on success.
func (e *EvmExecutor) checkPreconditions(from common.Address, tx *types.Transaction) (*state.Account, *uint256.Int, error) {
	acct := e.state.GetAccount(from)
	if tx.Nonce() != acct.Nonce {
		return nil, nil, fmt.Errorf("%w: account %d, tx %d", ErrNonceMismatch, acct.Nonce, tx.Nonce())
	}
	gasPrice, overflow := uint256.FromBig(tx.GasPrice())
	if overflow {
		return nil, nil, ErrInsufficientFunds
	}
	value, overflow := uint256.FromBig(tx.Value())
	if overflow {
		return nil, nil, ErrInsufficientFunds
	}
	cost := new(uint256.Int).Mul(gasPrice, uint256.NewInt(tx.Gas()))
	cost.Add(cost, value)
	if acct.Balance.Lt(cost) {
		return nil, nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, acct.Balance, cost)
	}
	return acct, gasPrice, nil
}

// ExecuteTransfer applies a plain value transfer. ErrNonceMismatch or
// ErrInsufficientFunds means the transaction failed its preconditions and
// must be skipped, leaving no trace in the block; any other error comes from
// the state store.
func (e *EvmExecutor) ExecuteTransfer(from common.Address, tx *types.Transaction) (*dxtypes.StoredReceipt, error) {
	acct, gasPrice, err := e.checkPreconditions(from, tx)
	if err != nil {
		return nil, err
	}
	gasUsed := params.TxGas
	value, _ := uint256.FromBig(tx.Value())
	debit := new(uint256.Int).Mul(gasPrice, uint256.NewInt(gasUsed))
	debit.Add(debit, value)

	acct.Balance = new(uint256.Int).Sub(acct.Balance, debit)
	acct.Nonce++
	if err := e.state.PutAccount(from, acct); err != nil {
		return nil, err
	}
	if to := tx.To(); to != nil && !value.IsZero() {
		recipient := e.state.GetAccount(*to)
		recipient.Balance = new(uint256.Int).Add(recipient.Balance, value)
		if err := e.state.PutAccount(*to, recipient); err != nil {
			return nil, err
		}
	}
	e.logger.Debug("Executed transfer", "from", from, "to", tx.To(), "value", value,
		"gasUsed", gasUsed, "nonce", acct.Nonce, "reason", tracing.BalanceChangeTransfer)

	return &dxtypes.StoredReceipt{
		TxHash:  tx.Hash(),
		From:    from,
		To:      tx.To(),
		Status:  types.ReceiptStatusSuccessful,
		GasUsed: gasUsed,
	}, nil
}

// ExecuteBridge runs a counter precompile call under EVM rules. The caller
// holds exclusive access to both the account state and the DexVM pending
// overlay for the duration of the call. A bridge failure keeps the gas
// debit and the nonce bump; a malformed payload leaves no trace beyond the
// failed receipt.
func (e *EvmExecutor) ExecuteBridge(from common.Address, tx *types.Transaction, dex *dexvm.Executor) (*dxtypes.StoredReceipt, *vm.BridgeResult, error) {
	acct, gasPrice, err := e.checkPreconditions(from, tx)
	if err != nil {
		return nil, nil, err
	}
	res := e.bridge.Execute(from, tx.Data(), dex)
	if errors.Is(res.Err, dexvm.ErrMalformedCalldata) {
		e.logger.Warn("Malformed bridge calldata", "from", from, "len", len(tx.Data()))
		receipt := &dxtypes.StoredReceipt{
			TxHash: tx.Hash(),
			From:   from,
			To:     tx.To(),
			Status: types.ReceiptStatusFailed,
		}
		return receipt, res, nil
	}
	debit := new(uint256.Int).Mul(gasPrice, uint256.NewInt(res.GasUsed))
	acct.Balance = new(uint256.Int).Sub(acct.Balance, debit)
	acct.Nonce++
	if err := e.state.PutAccount(from, acct); err != nil {
		return nil, nil, err
	}
	status := types.ReceiptStatusSuccessful
	if !res.Success {
		status = types.ReceiptStatusFailed
		e.logger.Debug("Bridge call failed, gas consumed", "from", from, "err", res.Err,
			"reason", tracing.BalanceChangeBridgeGas)
	}
	receipt := &dxtypes.StoredReceipt{
		TxHash:  tx.Hash(),
		From:    from,
		To:      tx.To(),
		Status:  status,
		GasUsed: res.GasUsed,
	}
	return receipt, res, nil
}
