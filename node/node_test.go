package node

import (
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/dexchain/dex-geth/core"
	dxtypes "github.com/dexchain/dex-geth/core/types"
	"github.com/dexchain/dex-geth/miner"
	"github.com/dexchain/dex-geth/params"
)

var (
	validatorKey, _ = crypto.HexToECDSA("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	validatorAddr   = crypto.PubkeyToAddress(validatorKey.PublicKey)
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	config := DefaultConfig()
	config.DataDir = ""
	config.EnableConsensus = true
	config.ValidatorKey = validatorKey
	config.Genesis = &core.Genesis{
		Config: core.GenesisConfig{ChainID: params.DefaultChainID},
		Alloc: map[common.Address]core.GenesisAccount{
			validatorAddr: {Balance: "10000000000000000000"},
		},
	}
	n, err := New(config)
	if err != nil {
		t.Fatalf("assemble node: %v", err)
	}
	t.Cleanup(func() {
		if err := n.db.Close(); err != nil {
			t.Errorf("close db: %v", err)
		}
	})
	return n
}

// produceBlock drives one proposal through the node's finalization path.
func produceBlock(t *testing.T, n *Node, txs []*types.Transaction) {
	t.Helper()
	head := n.chain.CurrentBlock()
	seal, err := n.engine.Seal(head.Number+1, head.Hash, head.Time+1)
	if err != nil {
		t.Fatal(err)
	}
	proposal := &miner.Proposal{
		Number:     head.Number + 1,
		ParentHash: head.Hash,
		Time:       head.Time + 1,
		Txs:        txs,
		Proposer:   n.engine.Validator(),
		Seal:       seal,
	}
	if err := n.finalize(proposal); err != nil {
		t.Fatalf("finalize block %d: %v", proposal.Number, err)
	}
}

func signedTx(t *testing.T, n *Node, nonce uint64, to common.Address, value *big.Int, data []byte) *types.Transaction {
	t.Helper()
	signer := types.LatestSignerForChainID(n.ChainID())
	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      100_000,
		GasPrice: big.NewInt(int64(params.GasPrice)),
		Data:     data,
	}), signer, validatorKey)
	if err != nil {
		t.Fatal(err)
	}
	return tx
}

func TestBlockProductionAdvancesChain(t *testing.T) {
	n := newTestNode(t)
	genesis := n.chain.Genesis()

	recipient := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	tx := signedTx(t, n, 0, recipient, big.NewInt(1_000_000), nil)
	produceBlock(t, n, []*types.Transaction{tx})

	head := n.chain.CurrentBlock()
	if head.Number != 1 || head.ParentHash != genesis.Hash {
		t.Fatalf("head %d parent %s", head.Number, head.ParentHash)
	}
	if head.CombinedRoot != dxtypes.CombineRoots(head.EvmRoot, head.DexVmRoot) {
		t.Fatalf("combined root equation broken on stored block")
	}
	if sealer, err := head.SealerOf(); err != nil || sealer != validatorAddr {
		t.Fatalf("seal does not recover to the validator: %v %s", err, sealer)
	}

	// The receipt is indexed with its block placement.
	receipt := n.Receipt(tx.Hash())
	if receipt == nil || receipt.BlockNumber != 1 || receipt.Status != types.ReceiptStatusSuccessful {
		t.Fatalf("receipt %+v", receipt)
	}
	if got := n.stateDB.GetBalance(recipient).Uint64(); got != 1_000_000 {
		t.Fatalf("recipient balance %d", got)
	}

	// The raw transaction blob survives for body serving.
	if blob := n.chain.GetTxBlob(tx.Hash()); blob == nil {
		t.Fatalf("raw transaction blob not persisted")
	}
	if lookup := n.chain.GetTxLookup(tx.Hash()); lookup == nil || lookup.BlockNumber != 1 {
		t.Fatalf("tx lookup %+v", lookup)
	}
}

func TestBridgeTransactionThroughNode(t *testing.T) {
	n := newTestNode(t)

	data := make([]byte, params.CalldataLen)
	data[0] = params.OpIncrement
	binary.BigEndian.PutUint64(data[1:], 10)
	tx := signedTx(t, n, 0, params.CounterPrecompileAddress, new(big.Int), data)
	produceBlock(t, n, []*types.Transaction{tx})

	if got := n.dex.CommittedCounter(validatorAddr); got != 10 {
		t.Fatalf("counter %d, want 10", got)
	}
	// The counter landed in the persistent table too.
	if got := n.stateDB.GetCounter(validatorAddr); got != 10 {
		t.Fatalf("persisted counter %d, want 10", got)
	}
	head := n.chain.CurrentBlock()
	if head.DexVmRoot != n.dex.StateRoot() {
		t.Fatalf("block dexvm root does not match executor root")
	}
	if head.DexVmRoot != n.stateDB.CountersRoot() {
		t.Fatalf("in-memory and persistent counter roots diverge")
	}
}

func TestStaleProposalIgnored(t *testing.T) {
	n := newTestNode(t)
	produceBlock(t, n, nil)

	stale := &miner.Proposal{Number: 1, ParentHash: common.HexToHash("0xdead")}
	if err := n.finalize(stale); err != nil {
		t.Fatalf("stale proposal should be skipped silently: %v", err)
	}
	if n.chain.CurrentBlock().Number != 1 {
		t.Fatalf("stale proposal moved the chain")
	}
}
