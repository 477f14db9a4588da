package txpool

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/dexchain/dex-geth/core/state"
	"github.com/dexchain/dex-geth/params"
)

var (
	testChainID = new(big.Int).SetUint64(params.DefaultChainID)
	testSigner  = types.LatestSignerForChainID(testChainID)
)

func newTestPool(t *testing.T) (*Pool, *state.StateStore, *ecdsa.PrivateKey) {
	t.Helper()
	statedb := state.New(rawdb.NewMemoryDatabase())
	key, _ := crypto.GenerateKey()
	acct := state.NewAccount()
	acct.Balance = uint256.NewInt(0).Mul(uint256.NewInt(1_000_000_000), uint256.NewInt(1_000_000_000)) // 1 ether
	if err := statedb.PutAccount(crypto.PubkeyToAddress(key.PublicKey), acct); err != nil {
		t.Fatal(err)
	}
	return New(testChainID, statedb), statedb, key
}

func signedTransfer(t *testing.T, key *ecdsa.PrivateKey, nonce uint64, value int64) *types.Transaction {
	t.Helper()
	to := common.HexToAddress("0x9999999999999999999999999999999999999999")
	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(value),
		Gas:      params.TxGas,
		GasPrice: big.NewInt(1),
	}), testSigner, key)
	if err != nil {
		t.Fatal(err)
	}
	return tx
}

func TestAddAndDrainFIFO(t *testing.T) {
	pool, _, key := newTestPool(t)

	first := signedTransfer(t, key, 0, 1)
	second := signedTransfer(t, key, 1, 2)
	if err := pool.Add(first); err != nil {
		t.Fatalf("add first: %v", err)
	}
	if err := pool.Add(second); err != nil {
		t.Fatalf("add second: %v", err)
	}
	if pool.Len() != 2 {
		t.Fatalf("pool length %d, want 2", pool.Len())
	}

	drained := pool.Drain(10)
	if len(drained) != 2 || drained[0].Hash() != first.Hash() || drained[1].Hash() != second.Hash() {
		t.Fatalf("drain order broken")
	}
	if pool.Len() != 0 {
		t.Fatalf("pool not empty after drain")
	}
}

func TestDrainPrefixOnly(t *testing.T) {
	pool, _, key := newTestPool(t)
	for i := uint64(0); i < 5; i++ {
		if err := pool.Add(signedTransfer(t, key, i, 1)); err != nil {
			t.Fatal(err)
		}
	}
	if got := len(pool.Drain(3)); got != 3 {
		t.Fatalf("drained %d, want 3", got)
	}
	if pool.Len() != 2 {
		t.Fatalf("remaining %d, want 2", pool.Len())
	}
}

func TestRejectDuplicate(t *testing.T) {
	pool, _, key := newTestPool(t)
	tx := signedTransfer(t, key, 0, 1)
	if err := pool.Add(tx); err != nil {
		t.Fatal(err)
	}
	if err := pool.Add(tx); !errors.Is(err, ErrAlreadyKnown) {
		t.Fatalf("duplicate accepted: %v", err)
	}
}

func TestRejectNonceTooLow(t *testing.T) {
	pool, statedb, key := newTestPool(t)
	addr := crypto.PubkeyToAddress(key.PublicKey)
	acct := statedb.GetAccount(addr)
	acct.Nonce = 5
	if err := statedb.PutAccount(addr, acct); err != nil {
		t.Fatal(err)
	}
	if err := pool.Add(signedTransfer(t, key, 3, 1)); !errors.Is(err, ErrNonceTooLow) {
		t.Fatalf("stale nonce accepted: %v", err)
	}
	// Future nonces are fine at admission; the block-level check decides.
	if err := pool.Add(signedTransfer(t, key, 9, 1)); err != nil {
		t.Fatalf("future nonce rejected: %v", err)
	}
}

func TestRejectInsufficientFunds(t *testing.T) {
	pool, _, _ := newTestPool(t)
	poorKey, _ := crypto.GenerateKey()
	if err := pool.Add(signedTransfer(t, poorKey, 0, 1)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("unfunded tx accepted: %v", err)
	}
}

func TestRejectContractCreation(t *testing.T) {
	pool, _, key := newTestPool(t)
	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    0,
		To:       nil,
		Value:    big.NewInt(0),
		Gas:      params.TxGas,
		GasPrice: big.NewInt(1),
	}), testSigner, key)
	if err != nil {
		t.Fatal(err)
	}
	if err := pool.Add(tx); !errors.Is(err, ErrContractCreation) {
		t.Fatalf("contract creation accepted: %v", err)
	}
}

func TestCapacityBound(t *testing.T) {
	pool, _, key := newTestPool(t)
	pool.capacity = 2
	if err := pool.Add(signedTransfer(t, key, 0, 1)); err != nil {
		t.Fatal(err)
	}
	if err := pool.Add(signedTransfer(t, key, 1, 1)); err != nil {
		t.Fatal(err)
	}
	if err := pool.Add(signedTransfer(t, key, 2, 1)); !errors.Is(err, ErrPoolFull) {
		t.Fatalf("over-capacity add accepted: %v", err)
	}
}

func TestNewTxsEvent(t *testing.T) {
	pool, _, key := newTestPool(t)
	ch := make(chan NewTxsEvent, 1)
	sub := pool.SubscribeNewTxsEvent(ch)
	defer sub.Unsubscribe()

	tx := signedTransfer(t, key, 0, 1)
	if err := pool.Add(tx); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-ch:
		if len(ev.Txs) != 1 || ev.Txs[0].Hash() != tx.Hash() {
			t.Fatalf("event carries wrong txs")
		}
	default:
		t.Fatalf("no event fired")
	}
}
