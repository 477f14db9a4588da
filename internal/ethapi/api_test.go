package ethapi

import (
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrawdb "github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/dexchain/dex-geth/core/dexvm"
	"github.com/dexchain/dex-geth/core/state"
	dxtypes "github.com/dexchain/dex-geth/core/types"
	"github.com/dexchain/dex-geth/params"
)

// testBackend is a minimal in-memory Backend.
type testBackend struct {
	chainID *big.Int
	head    *dxtypes.Block
	blocks  map[uint64]*dxtypes.Block
	state   *state.StateStore
	dex     *dexvm.Executor
	sent    []*types.Transaction
}

func newTestBackend() *testBackend {
	head := &dxtypes.Block{
		Number:       3,
		Time:         1234,
		GasLimit:     params.BlockGasLimit,
		EvmRoot:      common.HexToHash("0x0a"),
		DexVmRoot:    common.HexToHash("0x0b"),
		CombinedRoot: dxtypes.CombineRoots(common.HexToHash("0x0a"), common.HexToHash("0x0b")),
		Seal:         make([]byte, dxtypes.SealLength),
	}
	head.Hash = head.SealHash()
	return &testBackend{
		chainID: new(big.Int).SetUint64(params.DefaultChainID),
		head:    head,
		blocks:  map[uint64]*dxtypes.Block{3: head},
		state:   state.New(gethrawdb.NewMemoryDatabase()),
		dex:     dexvm.NewExecutor(dexvm.NewState()),
	}
}

func (b *testBackend) ChainID() *big.Int            { return b.chainID }
func (b *testBackend) ClientVersion() string        { return "dex-geth/test" }
func (b *testBackend) CurrentBlock() *dxtypes.Block { return b.head }
func (b *testBackend) BlockByNumber(n uint64) *dxtypes.Block {
	return b.blocks[n]
}
func (b *testBackend) BlockByHash(h common.Hash) *dxtypes.Block {
	for _, block := range b.blocks {
		if block.Hash == h {
			return block
		}
	}
	return nil
}
func (b *testBackend) StateStore() *state.StateStore { return b.state }
func (b *testBackend) DexExecutor() *dexvm.Executor  { return b.dex }
func (b *testBackend) SendTransaction(tx *types.Transaction) error {
	b.sent = append(b.sent, tx)
	return nil
}
func (b *testBackend) Receipt(common.Hash) *dxtypes.StoredReceipt   { return nil }
func (b *testBackend) DexReceipt(common.Hash) *dxtypes.DexVmReceipt { return nil }
func (b *testBackend) PeerCount() int                               { return 2 }

func TestChainIdAndBlockNumber(t *testing.T) {
	api := NewEthAPI(newTestBackend())
	if api.ChainId().ToInt().Uint64() != params.DefaultChainID {
		t.Fatalf("chain id mismatch")
	}
	if uint64(api.BlockNumber()) != 3 {
		t.Fatalf("block number %d", api.BlockNumber())
	}
}

func TestGasPriceFixed(t *testing.T) {
	api := NewEthAPI(newTestBackend())
	if api.GasPrice().ToInt().Uint64() != params.GasPrice {
		t.Fatalf("gas price %s", api.GasPrice().ToInt())
	}
}

func TestGetBlockByNumberTags(t *testing.T) {
	api := NewEthAPI(newTestBackend())

	block, err := api.GetBlockByNumber("latest", false)
	if err != nil || block == nil {
		t.Fatalf("latest lookup failed: %v", err)
	}
	// The combined root is the advertised state root.
	backend := newTestBackend()
	if block["stateRoot"] != backend.head.CombinedRoot {
		t.Fatalf("stateRoot is not the combined root")
	}
	if _, err := api.GetBlockByNumber("0x3", false); err != nil {
		t.Fatalf("hex height rejected: %v", err)
	}
	if _, err := api.GetBlockByNumber("nonsense", false); err == nil {
		t.Fatalf("garbage tag accepted")
	}
	missing, err := api.GetBlockByNumber("0x9", false)
	if err != nil || missing != nil {
		t.Fatalf("missing block should yield null")
	}
}

func TestCallCounterQuery(t *testing.T) {
	backend := newTestBackend()
	caller := common.HexToAddress("0x1111111111111111111111111111111111111111")
	backend.dex.ExecuteOperation(caller, dexvm.Operation{Op: params.OpIncrement, Amount: 99})
	backend.dex.SyncPendingToState()

	api := NewEthAPI(backend)
	query := make(hexutil.Bytes, params.CalldataLen)
	query[0] = params.OpQuery

	to := params.CounterPrecompileAddress
	out, err := api.Call(TransactionArgs{From: &caller, To: &to, Data: &query}, "latest")
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if binary.BigEndian.Uint64(out) != 99 {
		t.Fatalf("counter query returned %x", out)
	}
}

func TestCallRejectsCreation(t *testing.T) {
	api := NewEthAPI(newTestBackend())
	if _, err := api.Call(TransactionArgs{}, "latest"); err == nil {
		t.Fatalf("creation call accepted")
	}
}

func TestEstimateGas(t *testing.T) {
	api := NewEthAPI(newTestBackend())
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	got, err := api.EstimateGas(TransactionArgs{To: &to})
	if err != nil || uint64(got) != params.TxGas {
		t.Fatalf("estimate %d, err %v", got, err)
	}
}

func TestSendRawTransactionRejectsGarbage(t *testing.T) {
	api := NewEthAPI(newTestBackend())
	if _, err := api.SendRawTransaction([]byte{0x01, 0x02}); err == nil {
		t.Fatalf("garbage transaction accepted")
	}
}

func TestNetAndWeb3(t *testing.T) {
	backend := newTestBackend()
	netAPI := NewNetAPI(backend)
	if netAPI.Version() != "13337" {
		t.Fatalf("net version %s", netAPI.Version())
	}
	if int(netAPI.PeerCount()) != 2 {
		t.Fatalf("peer count %d", netAPI.PeerCount())
	}
	web3API := NewWeb3API(backend)
	if web3API.ClientVersion() != "dex-geth/test" {
		t.Fatalf("client version %s", web3API.ClientVersion())
	}
}
