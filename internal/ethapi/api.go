package ethapi

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/dexchain/dex-geth/core/dexvm"
	dxtypes "github.com/dexchain/dex-geth/core/types"
	"github.com/dexchain/dex-geth/params"
)

// EthAPI implements the eth namespace.
type EthAPI struct {
	b      Backend
	logger log.Logger
}

// NewEthAPI creates the eth service.
func NewEthAPI(b Backend) *EthAPI {
	return &EthAPI{b: b, logger: log.New("module", "rpc")}
}

// ChainId returns the configured chain id.
func (api *EthAPI) ChainId() *hexutil.Big {
	return (*hexutil.Big)(api.b.ChainID())
}

// BlockNumber returns the latest block height.
func (api *EthAPI) BlockNumber() hexutil.Uint64 {
	return hexutil.Uint64(api.b.CurrentBlock().Number)
}

// GetBalance returns the committed balance of an account. Only the latest
// state is addressable; historical tags resolve to it.
func (api *EthAPI) GetBalance(address common.Address, _ string) *hexutil.Big {
	return (*hexutil.Big)(api.b.StateStore().GetBalance(address).ToBig())
}

// GetTransactionCount returns the committed nonce of an account.
func (api *EthAPI) GetTransactionCount(address common.Address, _ string) hexutil.Uint64 {
	return hexutil.Uint64(api.b.StateStore().GetNonce(address))
}

// GasPrice returns the fixed gas price.
func (api *EthAPI) GasPrice() *hexutil.Big {
	return (*hexutil.Big)(new(big.Int).SetUint64(params.GasPrice))
}

// GetCode returns the code stored at an address; this chain holds no
// deployable code, so the answer is empty for everything but never errors.
func (api *EthAPI) GetCode(address common.Address, _ string) hexutil.Bytes {
	return hexutil.Bytes{}
}

// GetStorageAt returns the storage slot value; contract storage is not
// modeled, so slots read as zero.
func (api *EthAPI) GetStorageAt(address common.Address, slot string, _ string) hexutil.Bytes {
	return make(hexutil.Bytes, 32)
}

// Accounts returns no managed accounts: the node holds no user keys.
func (api *EthAPI) Accounts() []common.Address {
	return []common.Address{}
}

// SendRawTransaction decodes a signed transaction and admits it to the
// mempool. Contract creations are rejected here; execution happens at the
// next block.
func (api *EthAPI) SendRawTransaction(input hexutil.Bytes) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(input); err != nil {
		return common.Hash{}, invalidInput(fmt.Sprintf("failed to decode transaction: %v", err))
	}
	if err := api.b.SendTransaction(tx); err != nil {
		return common.Hash{}, invalidInput(err.Error())
	}
	api.logger.Debug("Accepted transaction", "hash", tx.Hash())
	return tx.Hash(), nil
}

// resolveBlockNumber maps a tag or hex quantity onto a height.
func (api *EthAPI) resolveBlockNumber(tag string) (uint64, error) {
	switch tag {
	case "latest", "pending", "safe", "finalized", "":
		return api.b.CurrentBlock().Number, nil
	case "earliest":
		return 0, nil
	}
	value := strings.TrimPrefix(tag, "0x")
	number, err := strconv.ParseUint(value, 16, 64)
	if err != nil {
		return 0, invalidInput(fmt.Sprintf("invalid block number %q", tag))
	}
	return number, nil
}

// GetBlockByNumber returns the block summary at a height or tag.
func (api *EthAPI) GetBlockByNumber(tag string, fullTx bool) (map[string]interface{}, error) {
	number, err := api.resolveBlockNumber(tag)
	if err != nil {
		return nil, err
	}
	block := api.b.BlockByNumber(number)
	if block == nil {
		return nil, nil
	}
	return marshalBlock(block), nil
}

// GetBlockByHash returns the block summary for a hash.
func (api *EthAPI) GetBlockByHash(hash common.Hash, fullTx bool) (map[string]interface{}, error) {
	block := api.b.BlockByHash(hash)
	if block == nil {
		return nil, nil
	}
	return marshalBlock(block), nil
}

// marshalBlock renders the stored block; the combined root travels under the
// standard stateRoot key, with the split roots alongside.
func marshalBlock(block *dxtypes.Block) map[string]interface{} {
	txs := make([]common.Hash, len(block.TxHashes))
	copy(txs, block.TxHashes)
	return map[string]interface{}{
		"number":           hexutil.Uint64(block.Number),
		"hash":             block.Hash,
		"parentHash":       block.ParentHash,
		"timestamp":        hexutil.Uint64(block.Time),
		"gasLimit":         hexutil.Uint64(block.GasLimit),
		"gasUsed":          hexutil.Uint64(block.GasUsed),
		"miner":            block.Coinbase,
		"stateRoot":        block.CombinedRoot,
		"evmStateRoot":     block.EvmRoot,
		"dexvmStateRoot":   block.DexVmRoot,
		"transactionsRoot": dxtypes.EmptyListHash,
		"receiptsRoot":     dxtypes.EmptyListHash,
		"sha3Uncles":       dxtypes.EmptyListHash,
		"logsBloom":        types.Bloom{},
		"difficulty":       hexutil.Uint64(0),
		"extraData":        hexutil.Bytes(block.Seal),
		"nonce":            types.BlockNonce{},
		"mixHash":          common.Hash{},
		"baseFeePerGas":    hexutil.Uint64(0),
		"transactions":     txs,
	}
}

// GetTransactionReceipt returns the receipt for an executed transaction,
// whichever VM produced it.
func (api *EthAPI) GetTransactionReceipt(hash common.Hash) (map[string]interface{}, error) {
	if receipt := api.b.Receipt(hash); receipt != nil {
		fields := map[string]interface{}{
			"transactionHash":   receipt.TxHash,
			"transactionIndex":  hexutil.Uint64(receipt.TxIndex),
			"blockHash":         receipt.BlockHash,
			"blockNumber":       hexutil.Uint64(receipt.BlockNumber),
			"from":              receipt.From,
			"to":                receipt.To,
			"gasUsed":           hexutil.Uint64(receipt.GasUsed),
			"cumulativeGasUsed": hexutil.Uint64(receipt.CumulativeGasUsed),
			"contractAddress":   nil,
			"logs":              []interface{}{},
			"logsBloom":         types.Bloom{},
			"status":            hexutil.Uint64(receipt.Status),
			"type":              hexutil.Uint64(0),
		}
		return fields, nil
	}
	if receipt := api.b.DexReceipt(hash); receipt != nil {
		status := hexutil.Uint64(0)
		if receipt.Success {
			status = 1
		}
		fields := map[string]interface{}{
			"transactionHash": receipt.TxHash,
			"from":            receipt.From,
			"to":              params.DexVmRouterAddress,
			"gasUsed":         hexutil.Uint64(receipt.GasUsed),
			"oldCounter":      hexutil.Uint64(receipt.OldCounter),
			"newCounter":      hexutil.Uint64(receipt.NewCounter),
			"status":          status,
		}
		if receipt.Error != "" {
			fields["error"] = receipt.Error
		}
		return fields, nil
	}
	return nil, nil
}

// TransactionArgs is the call/estimate request shape.
type TransactionArgs struct {
	From     *common.Address `json:"from"`
	To       *common.Address `json:"to"`
	Gas      *hexutil.Uint64 `json:"gas"`
	GasPrice *hexutil.Big    `json:"gasPrice"`
	Value    *hexutil.Big    `json:"value"`
	Data     *hexutil.Bytes  `json:"data"`
	Input    *hexutil.Bytes  `json:"input"`
}

func (args *TransactionArgs) data() []byte {
	if args.Input != nil {
		return *args.Input
	}
	if args.Data != nil {
		return *args.Data
	}
	return nil
}

// Call executes a read-only request against committed state. Counter
// queries through the router or the bridge return the caller's counter as
// an 8-byte big-endian value; plain transfers return no data.
func (api *EthAPI) Call(args TransactionArgs, _ string) (hexutil.Bytes, error) {
	if args.To == nil {
		return nil, invalidInput("contract creation is not supported")
	}
	if *args.To == params.DexVmRouterAddress || *args.To == params.CounterPrecompileAddress {
		op, err := dexvm.DecodeCalldata(args.data())
		if err != nil {
			return nil, invalidInput(err.Error())
		}
		if op.Op != params.OpQuery {
			return nil, invalidInput("only counter queries are supported in eth_call")
		}
		var caller common.Address
		if args.From != nil {
			caller = *args.From
		}
		counter := api.b.DexExecutor().CommittedCounter(caller)
		out := make([]byte, 8)
		binary.BigEndian.PutUint64(out, counter)
		return out, nil
	}
	return hexutil.Bytes{}, nil
}

// EstimateGas returns the flat transfer cost; counter calls report their
// fixed surcharge on top.
func (api *EthAPI) EstimateGas(args TransactionArgs) (hexutil.Uint64, error) {
	if args.To != nil && (*args.To == params.DexVmRouterAddress || *args.To == params.CounterPrecompileAddress) {
		if op, err := dexvm.DecodeCalldata(args.data()); err == nil {
			switch op.Op {
			case params.OpQuery:
				return hexutil.Uint64(params.TxGas + params.CounterQueryGas), nil
			default:
				return hexutil.Uint64(params.TxGas + params.CounterIncrementGas), nil
			}
		}
	}
	return hexutil.Uint64(params.TxGas), nil
}

// Web3API implements the web3 namespace.
type Web3API struct {
	b Backend
}

// NewWeb3API creates the web3 service.
func NewWeb3API(b Backend) *Web3API {
	return &Web3API{b: b}
}

// ClientVersion returns the node identity string.
func (api *Web3API) ClientVersion() string {
	return api.b.ClientVersion()
}

// Sha3 applies keccak-256 to the given data.
func (api *Web3API) Sha3(input hexutil.Bytes) hexutil.Bytes {
	return crypto.Keccak256(input)
}

// NetAPI implements the net namespace.
type NetAPI struct {
	b Backend
}

// NewNetAPI creates the net service.
func NewNetAPI(b Backend) *NetAPI {
	return &NetAPI{b: b}
}

// Version returns the network id.
func (api *NetAPI) Version() string {
	return api.b.ChainID().String()
}

// Listening reports whether the node accepts network connections.
func (api *NetAPI) Listening() bool {
	return true
}

// PeerCount returns the number of connected peers.
func (api *NetAPI) PeerCount() hexutil.Uint {
	return hexutil.Uint(api.b.PeerCount())
}
