// Package ethapi implements the JSON-RPC services exposed on the EVM port:
// the eth, net and web3 namespaces, backed by the node's stores and mempool.
package ethapi

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/dexchain/dex-geth/core/dexvm"
	"github.com/dexchain/dex-geth/core/state"
	dxtypes "github.com/dexchain/dex-geth/core/types"
)

// Backend is the node surface the RPC services read from. All reads are
// point-in-time snapshots of committed state; admission checks are advisory.
type Backend interface {
	ChainID() *big.Int
	ClientVersion() string

	CurrentBlock() *dxtypes.Block
	BlockByNumber(number uint64) *dxtypes.Block
	BlockByHash(hash common.Hash) *dxtypes.Block

	StateStore() *state.StateStore
	DexExecutor() *dexvm.Executor

	// SendTransaction validates and enqueues a signed transaction.
	SendTransaction(tx *types.Transaction) error

	// Receipt returns the EVM-side receipt for an executed transaction.
	Receipt(hash common.Hash) *dxtypes.StoredReceipt

	// DexReceipt returns the counter receipt for a DexVM-native
	// transaction.
	DexReceipt(hash common.Hash) *dxtypes.DexVmReceipt

	PeerCount() int
}

// rpcError carries a JSON-RPC error code from the -32000 family.
type rpcError struct {
	code int
	msg  string
}

func (e *rpcError) Error() string  { return e.msg }
func (e *rpcError) ErrorCode() int { return e.code }

func invalidInput(msg string) error { return &rpcError{code: -32000, msg: msg} }
