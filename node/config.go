// Package node assembles the dual-VM node: storage, execution pipeline,
// consensus, networking and the two RPC surfaces, plus the main loop that
// turns proposals into finalized blocks.
package node

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/dexchain/dex-geth/core"
	"github.com/dexchain/dex-geth/params"
)

// ClientVersion identifies the node on the network and over RPC.
const ClientVersion = "dex-geth/v1.0.0"

// Config collects everything the node needs to boot.
type Config struct {
	// DataDir holds the chain database and the p2p key. Empty runs fully
	// in memory.
	DataDir string

	// Genesis is the chain definition; nil falls back to an empty
	// allocation on the default chain id.
	Genesis *core.Genesis

	// EnableConsensus makes this node the validator.
	EnableConsensus bool

	// ValidatorKey signs proposals when consensus is enabled.
	ValidatorKey *ecdsa.PrivateKey

	// Validator is the address follower nodes verify seals against. It is
	// derived from ValidatorKey on the validator itself.
	Validator common.Address

	// BlockInterval is the proposer cadence.
	BlockInterval time.Duration

	// HTTPPort serves the EVM JSON-RPC API.
	HTTPPort int

	// DexVmPort serves the DexVM REST API.
	DexVmPort int

	// EnableP2P turns networking on.
	EnableP2P bool

	// P2PPort is the devp2p listen port.
	P2PPort int

	// Bootnodes are enode URLs dialed at startup.
	Bootnodes []string

	// MaxPeers bounds the peer set.
	MaxPeers int
}

// DefaultConfig mirrors the CLI defaults.
func DefaultConfig() *Config {
	return &Config{
		Genesis:       core.DefaultGenesis(),
		BlockInterval: time.Duration(params.DefaultBlockIntervalMs) * time.Millisecond,
		HTTPPort:      8545,
		DexVmPort:     9845,
		P2PPort:       30303,
		MaxPeers:      50,
	}
}

// nodeKey loads the persistent p2p identity from <datadir>/p2p_key,
// generating and saving a fresh one on first boot. A memory node gets an
// ephemeral key.
func (c *Config) nodeKey() (*ecdsa.PrivateKey, error) {
	if c.DataDir == "" {
		return crypto.GenerateKey()
	}
	path := filepath.Join(c.DataDir, "p2p_key")
	if _, err := os.Stat(path); err == nil {
		key, err := crypto.LoadECDSA(path)
		if err != nil {
			return nil, fmt.Errorf("load p2p key: %w", err)
		}
		return key, nil
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return nil, err
	}
	if err := crypto.SaveECDSA(path, key); err != nil {
		return nil, fmt.Errorf("persist p2p key: %w", err)
	}
	return key, nil
}
