package eth

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/common"
	gethrawdb "github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/dexchain/dex-geth/consensus/poa"
	"github.com/dexchain/dex-geth/core/state"
	"github.com/dexchain/dex-geth/core/txpool"
	dxtypes "github.com/dexchain/dex-geth/core/types"
	"github.com/dexchain/dex-geth/params"
)

func newTestHandler(t *testing.T) (*Handler, *poa.Engine) {
	t.Helper()
	key, _ := crypto.GenerateKey()
	engine := poa.New(common.Address{}, key)
	chain := newTestChain(t)
	pool := txpool.New(big.NewInt(13337), state.New(gethrawdb.NewMemoryDatabase()))
	handler := NewHandler(HandlerConfig{
		NetworkID: 13337,
		Chain:     chain,
		Pool:      pool,
		Engine:    engine,
		MaxPeers:  4,
	})
	return handler, engine
}

func TestServeHeadersAscending(t *testing.T) {
	handler, engine := newTestHandler(t)
	blocks := extendChain(t, handler.chain, engine, 5)

	headers := handler.serveHeaders(&GetBlockHeadersPacket{
		Origin: HashOrNumber{Number: 1},
		Amount: 3,
	})
	require.Len(t, headers, 3)
	for i, header := range headers {
		require.Equal(t, blocks[i].Number, header.Number.Uint64())
		require.Equal(t, blocks[i].Hash, header.Hash())
	}
	// Runs past the head are truncated, not padded.
	headers = handler.serveHeaders(&GetBlockHeadersPacket{
		Origin: HashOrNumber{Number: 4},
		Amount: 10,
	})
	require.Len(t, headers, 2)
}

func TestServeHeadersByHash(t *testing.T) {
	handler, engine := newTestHandler(t)
	blocks := extendChain(t, handler.chain, engine, 3)

	headers := handler.serveHeaders(&GetBlockHeadersPacket{
		Origin: HashOrNumber{Hash: blocks[1].Hash},
		Amount: 2,
	})
	require.Len(t, headers, 2)
	require.Equal(t, blocks[1].Hash, headers[0].Hash())

	// Unknown hash yields an empty answer.
	headers = handler.serveHeaders(&GetBlockHeadersPacket{
		Origin: HashOrNumber{Hash: common.HexToHash("0xdead")},
		Amount: 2,
	})
	require.Empty(t, headers)
}

func TestServeBodies(t *testing.T) {
	handler, engine := newTestHandler(t)

	// Seal a block that carries one transaction blob.
	key, _ := crypto.GenerateKey()
	signer := types.LatestSignerForChainID(big.NewInt(13337))
	to := common.HexToAddress("0x1234567890123456789012345678901234567890")
	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce: 0, To: &to, Value: big.NewInt(1), Gas: params.TxGas, GasPrice: big.NewInt(1),
	}), signer, key)
	require.NoError(t, err)
	blob, err := tx.MarshalBinary()
	require.NoError(t, err)

	parent := handler.chain.CurrentBlock()
	block := &dxtypes.Block{
		Number:       parent.Number + 1,
		ParentHash:   parent.Hash,
		Time:         parent.Time + 1,
		GasLimit:     parent.GasLimit,
		Coinbase:     engine.Validator(),
		EvmRoot:      common.HexToHash("0x0a"),
		DexVmRoot:    common.HexToHash("0x0b"),
		CombinedRoot: dxtypes.CombineRoots(common.HexToHash("0x0a"), common.HexToHash("0x0b")),
		TxHashes:     []common.Hash{tx.Hash()},
	}
	seal, err := engine.Seal(block.Number, block.ParentHash, block.Time)
	require.NoError(t, err)
	block.Seal = seal
	block.Hash = block.SealHash()
	require.NoError(t, handler.chain.WriteBlock(block, [][]byte{blob}))

	bodies := handler.serveBodies([]common.Hash{block.Hash, common.HexToHash("0xdead")})
	require.Len(t, bodies, 2)
	require.Len(t, bodies[0].Transactions, 1)
	require.Equal(t, tx.Hash(), bodies[0].Transactions[0].Hash())
	require.Equal(t, block.EvmRoot, bodies[0].EvmRoot)
	require.Equal(t, block.DexVmRoot, bodies[0].DexVmRoot)
	// Unknown hashes keep the response aligned with empty bodies.
	require.Empty(t, bodies[1].Transactions)
}

func TestRegisterEnforcesMaxPeers(t *testing.T) {
	handler, _ := newTestHandler(t)
	handler.maxPeers = 1

	first, _ := fakePeer(t)
	require.NoError(t, handler.register(first))
	second, _ := fakePeer(t)
	require.Error(t, handler.register(second))

	handler.unregister(first)
	require.NoError(t, handler.register(second))
}
