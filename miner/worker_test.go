package miner

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/dexchain/dex-geth/consensus/poa"
	"github.com/dexchain/dex-geth/core"
	dxrawdb "github.com/dexchain/dex-geth/core/rawdb"
	"github.com/dexchain/dex-geth/core/state"
	"github.com/dexchain/dex-geth/core/txpool"
	dxtypes "github.com/dexchain/dex-geth/core/types"
	"github.com/dexchain/dex-geth/params"
)

func newWorkerFixture(t *testing.T) (*Worker, *core.BlockChain, *txpool.Pool) {
	t.Helper()
	db := rawdb.NewMemoryDatabase()
	statedb := state.New(db)

	key, _ := crypto.GenerateKey()
	sender := crypto.PubkeyToAddress(key.PublicKey)
	acct := state.NewAccount()
	acct.Balance = uint256.NewInt(1_000_000_000_000_000_000)
	if err := statedb.PutAccount(sender, acct); err != nil {
		t.Fatal(err)
	}

	genesis, err := core.DefaultGenesis().Commit(statedb)
	if err != nil {
		t.Fatal(err)
	}
	if err := dxrawdb.WriteBlock(db, genesis, nil); err != nil {
		t.Fatal(err)
	}
	chain, err := core.NewBlockChain(db, genesis)
	if err != nil {
		t.Fatal(err)
	}

	chainID := new(big.Int).SetUint64(params.DefaultChainID)
	pool := txpool.New(chainID, statedb)
	signer := types.LatestSignerForChainID(chainID)
	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    0,
		To:       &sender,
		Value:    big.NewInt(1),
		Gas:      params.TxGas,
		GasPrice: big.NewInt(1),
	}), signer, key)
	if err != nil {
		t.Fatal(err)
	}
	if err := pool.Add(tx); err != nil {
		t.Fatal(err)
	}

	validatorKey, _ := crypto.GenerateKey()
	engine := poa.New(crypto.PubkeyToAddress(validatorKey.PublicKey), validatorKey)
	return New(engine, chain, pool, 10*time.Millisecond), chain, pool
}

func TestWorkerEmitsSignedProposals(t *testing.T) {
	worker, chain, pool := newWorkerFixture(t)
	worker.Start()
	defer worker.Stop()

	select {
	case proposal := <-worker.Proposals():
		head := chain.CurrentBlock()
		if proposal.Number != head.Number+1 {
			t.Fatalf("proposal number %d, want %d", proposal.Number, head.Number+1)
		}
		if proposal.ParentHash != head.Hash {
			t.Fatalf("proposal parent %s, want %s", proposal.ParentHash, head.Hash)
		}
		if proposal.Time < head.Time {
			t.Fatalf("proposal time below parent")
		}
		if len(proposal.Txs) != 1 {
			t.Fatalf("proposal drained %d txs, want 1", len(proposal.Txs))
		}
		// The seal must recover to the proposer.
		block := &dxtypes.Block{
			Number:     proposal.Number,
			ParentHash: proposal.ParentHash,
			Time:       proposal.Time,
			Coinbase:   proposal.Proposer,
			Seal:       proposal.Seal,
		}
		sealer, err := block.SealerOf()
		if err != nil {
			t.Fatalf("recover seal: %v", err)
		}
		if sealer != proposal.Proposer {
			t.Fatalf("seal recovers to %s, want %s", sealer, proposal.Proposer)
		}
	case <-time.After(time.Second):
		t.Fatalf("no proposal within a second")
	}
	if pool.Len() != 0 {
		t.Fatalf("mempool prefix not drained")
	}
}

// TestWorkerRetriesSameHeight: without an import, consecutive proposals
// target the same height, so a failed block never advances production.
func TestWorkerRetriesSameHeight(t *testing.T) {
	worker, _, _ := newWorkerFixture(t)
	worker.Start()
	defer worker.Stop()

	first := <-worker.Proposals()
	second := <-worker.Proposals()
	if first.Number != second.Number {
		t.Fatalf("height advanced without a finalized block: %d then %d", first.Number, second.Number)
	}
}
