package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/dexchain/dex-geth/core/state"
	"github.com/dexchain/dex-geth/core/tracing"
	dxtypes "github.com/dexchain/dex-geth/core/types"
	"github.com/dexchain/dex-geth/params"
)

// Genesis specifies the chain id and the initial account allocation. The
// file format follows the usual geth genesis shape, reduced to the fields
// this chain uses.
type Genesis struct {
	Config GenesisConfig                     `json:"config"`
	Alloc  map[common.Address]GenesisAccount `json:"alloc"`
}

// GenesisConfig carries the chain parameters.
type GenesisConfig struct {
	ChainID uint64 `json:"chainId"`
}

// GenesisAccount is one initial allocation entry.
type GenesisAccount struct {
	Balance string `json:"balance"`
}

// DefaultGenesis returns an empty genesis on the default chain id.
func DefaultGenesis() *Genesis {
	return &Genesis{Config: GenesisConfig{ChainID: params.DefaultChainID}}
}

// LoadGenesis reads and parses a genesis file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis file: %w", err)
	}
	var genesis Genesis
	if err := json.Unmarshal(data, &genesis); err != nil {
		return nil, fmt.Errorf("parse genesis file: %w", err)
	}
	if genesis.Config.ChainID == 0 {
		return nil, errors.New("genesis file missing chainId")
	}
	return &genesis, nil
}

// parseBalance accepts 0x-prefixed hex or decimal wei amounts.
func parseBalance(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	b, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, fmt.Errorf("invalid balance %q", s)
	}
	balance, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("balance %q overflows 256 bits", s)
	}
	return balance, nil
}

// Commit writes the initial allocation into the state store and assembles
// the genesis block through the regular consensus-header path with an
// all-zero seal, so the parent-hash invariant holds from block 1 onward.
func (g *Genesis) Commit(statedb *state.StateStore) (*dxtypes.Block, error) {
	logger := log.New("module", "genesis")
	for addr, alloc := range g.Alloc {
		balance, err := parseBalance(alloc.Balance)
		if err != nil {
			return nil, err
		}
		acct := state.NewAccount()
		acct.Balance = balance
		if err := statedb.PutAccount(addr, acct); err != nil {
			return nil, err
		}
		logger.Info("Genesis account", "addr", addr, "balance", balance,
			"reason", tracing.BalanceChangeGenesis)
	}
	return g.block(statedb), nil
}

// Block assembles the genesis block against the current state without
// writing allocations; used to recompute the genesis hash on restart.
func (g *Genesis) Block(statedb *state.StateStore) *dxtypes.Block {
	return g.block(statedb)
}

func (g *Genesis) block(statedb *state.StateStore) *dxtypes.Block {
	evmRoot := statedb.AccountsRoot()
	dexRoot := statedb.CountersRoot()
	block := &dxtypes.Block{
		Number:       0,
		ParentHash:   common.Hash{},
		Time:         0,
		GasLimit:     params.BlockGasLimit,
		GasUsed:      0,
		Coinbase:     common.Address{},
		EvmRoot:      evmRoot,
		DexVmRoot:    dexRoot,
		CombinedRoot: dxtypes.CombineRoots(evmRoot, dexRoot),
		Seal:         make([]byte, dxtypes.SealLength),
	}
	block.Hash = block.SealHash()
	return block
}
