package params

import "github.com/ethereum/go-ethereum/common"

// Protocol constants for the dual-VM chain. The EVM side only models value
// transfers, so every transaction is charged the base transfer cost; the
// counter precompile adds a fixed surcharge on top.
const (
	// DefaultChainID is used when no genesis file overrides it.
	DefaultChainID uint64 = 13337

	// TxGas is the flat cost of any EVM-routed transaction.
	TxGas uint64 = 21000

	// Counter precompile surcharges, added to TxGas.
	CounterIncrementGas uint64 = 5000
	CounterDecrementGas uint64 = 5000
	CounterQueryGas     uint64 = 3000

	// DexVM native operation costs, accounted in receipts only.
	DexVmBaseGas uint64 = 21000

	// BlockGasLimit is fixed; there is no fee market.
	BlockGasLimit uint64 = 30_000_000

	// GasPrice is the fixed price reported by eth_gasPrice (1 gwei).
	GasPrice uint64 = 1_000_000_000

	// DefaultBlockIntervalMs is the PoA proposer cadence.
	DefaultBlockIntervalMs uint64 = 500

	// MaxBlockTxs bounds how many mempool transactions a single proposal
	// drains.
	MaxBlockTxs = 256

	// MaxHeadersServe caps GetBlockHeaders responses and sync batches.
	MaxHeadersServe = 512
)

var (
	// DexVmRouterAddress routes a transaction to the counter VM: anything
	// sent to this address is executed against the counter state only.
	DexVmRouterAddress = common.HexToAddress("0xddddddddddddddddddddddddddddddddddddddd1")

	// CounterPrecompileAddress is the cross-VM bridge: an EVM transaction
	// sent here mutates the counter state atomically with the EVM side.
	CounterPrecompileAddress = common.HexToAddress("0x0000000000000000000000000000000000000100")
)

// CalldataLen is the exact length of a DexVM operation payload:
// one opcode byte followed by a big-endian u64 amount.
const CalldataLen = 9

// DexVM opcodes, dispatched on the first calldata byte.
const (
	OpIncrement byte = 0x00
	OpDecrement byte = 0x01
	OpQuery     byte = 0x02
)
