package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/dexchain/dex-geth/core/state"
)

const testGenesisJSON = `{
  "config": {"chainId": 13337},
  "alloc": {
    "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266": {"balance": "10000000000000000000"},
    "0x70997970C51812dc3A010C7d01b50e0d17dc79C8": {"balance": "0xde0b6b3a7640000"}
  }
}`

func TestLoadGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.json")
	if err := os.WriteFile(path, []byte(testGenesisJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	genesis, err := LoadGenesis(path)
	if err != nil {
		t.Fatalf("load genesis: %v", err)
	}
	if genesis.Config.ChainID != 13337 {
		t.Fatalf("chain id %d", genesis.Config.ChainID)
	}
	if len(genesis.Alloc) != 2 {
		t.Fatalf("alloc size %d", len(genesis.Alloc))
	}
}

func TestGenesisCommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.json")
	if err := os.WriteFile(path, []byte(testGenesisJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	genesis, err := LoadGenesis(path)
	if err != nil {
		t.Fatal(err)
	}
	statedb := state.New(rawdb.NewMemoryDatabase())
	block, err := genesis.Commit(statedb)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Decimal and hex balances both land.
	if got := statedb.GetBalance(addrA).ToBig().String(); got != "10000000000000000000" {
		t.Fatalf("balance(A) = %s", got)
	}
	if got := statedb.GetBalance(addrB).ToBig().String(); got != "1000000000000000000" {
		t.Fatalf("balance(B) = %s", got)
	}

	if block.Number != 0 || block.Hash != block.SealHash() {
		t.Fatalf("genesis block malformed: %+v", block)
	}
	if block.EvmRoot != statedb.AccountsRoot() {
		t.Fatalf("genesis evm root mismatch")
	}
	if block.DexVmRoot != crypto.Keccak256Hash(nil) {
		t.Fatalf("genesis dexvm root should be the empty digest")
	}

	// The hash is reproducible from the committed state.
	if rebuilt := genesis.Block(statedb); rebuilt.Hash != block.Hash {
		t.Fatalf("genesis hash not reproducible")
	}
}

func TestGenesisHashDependsOnAlloc(t *testing.T) {
	empty, err := DefaultGenesis().Commit(state.New(rawdb.NewMemoryDatabase()))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "genesis.json")
	if err := os.WriteFile(path, []byte(testGenesisJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	funded, err := LoadGenesis(path)
	if err != nil {
		t.Fatal(err)
	}
	fundedBlock, err := funded.Commit(state.New(rawdb.NewMemoryDatabase()))
	if err != nil {
		t.Fatal(err)
	}
	if empty.Hash == fundedBlock.Hash {
		t.Fatalf("genesis hash ignores the allocation")
	}
}

func TestGenesisRejectsMissingChainID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.json")
	if err := os.WriteFile(path, []byte(`{"alloc": {}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadGenesis(path); err == nil {
		t.Fatalf("genesis without chainId accepted")
	}
}
