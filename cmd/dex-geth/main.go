// dex-geth is the dual virtual machine blockchain node: an EVM-compatible
// value-transfer chain and a per-address counter VM committed together by a
// single-validator proof-of-authority pipeline.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/dexchain/dex-geth/core"
	"github.com/dexchain/dex-geth/node"
	"github.com/dexchain/dex-geth/params"
)

var (
	dataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for the chain database and keys",
		Value: "./data",
	}
	genesisFlag = &cli.StringFlag{
		Name:  "genesis",
		Usage: "Genesis JSON file ({config:{chainId}, alloc}); applied when the data directory is empty",
	}
	enableConsensusFlag = &cli.BoolFlag{
		Name:  "enable-consensus",
		Usage: "Run as the validator and produce blocks",
	}
	validatorFlag = &cli.StringFlag{
		Name:  "validator",
		Usage: "Validator address used to verify block seals (follower mode)",
	}
	validatorKeyFlag = &cli.StringFlag{
		Name:  "validator-key",
		Usage: "Validator private key as hex (validator mode)",
		Value: "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
	}
	blockIntervalFlag = &cli.Uint64Flag{
		Name:  "block-interval-ms",
		Usage: "Block production interval in milliseconds",
		Value: params.DefaultBlockIntervalMs,
	}
	evmRPCPortFlag = &cli.IntFlag{
		Name:  "evm-rpc-port",
		Usage: "EVM JSON-RPC listen port",
		Value: 8545,
	}
	dexVmPortFlag = &cli.IntFlag{
		Name:  "dexvm-port",
		Usage: "DexVM REST API listen port",
		Value: 9845,
	}
	p2pPortFlag = &cli.IntFlag{
		Name:  "p2p-port",
		Usage: "devp2p listen port",
		Value: 30303,
	}
	enableP2PFlag = &cli.BoolFlag{
		Name:  "enable-p2p",
		Usage: "Enable peer networking",
		Value: true,
	}
	bootnodesFlag = &cli.StringSliceFlag{
		Name:  "bootnodes",
		Usage: "Enode URLs to connect to at startup",
	}
	maxPeersFlag = &cli.IntFlag{
		Name:  "max-peers",
		Usage: "Maximum number of peers",
		Value: 50,
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log verbosity (trace, debug, info, warn, error)",
		Value: "info",
	}
)

func main() {
	app := &cli.App{
		Name:  "dex-geth",
		Usage: "dual virtual machine blockchain node",
		Flags: []cli.Flag{
			dataDirFlag, genesisFlag, enableConsensusFlag, validatorFlag,
			validatorKeyFlag, blockIntervalFlag, evmRPCPortFlag, dexVmPortFlag,
			p2pPortFlag, enableP2PFlag, bootnodesFlag, maxPeersFlag, logLevelFlag,
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(level string) error {
	// Legacy geth verbosity numbering: error=1 … trace=5.
	legacy := map[string]int{"error": 1, "warn": 2, "info": 3, "debug": 4, "trace": 5}
	verbosity, ok := legacy[level]
	if !ok {
		return fmt.Errorf("unknown log level %q", level)
	}
	handler := log.NewTerminalHandlerWithLevel(os.Stderr, log.FromLegacyLevel(verbosity), true)
	log.SetDefault(log.NewLogger(handler))
	return nil
}

func run(ctx *cli.Context) error {
	if err := setupLogging(ctx.String(logLevelFlag.Name)); err != nil {
		return err
	}

	config := node.DefaultConfig()
	config.DataDir = ctx.String(dataDirFlag.Name)
	config.EnableConsensus = ctx.Bool(enableConsensusFlag.Name)
	config.BlockInterval = time.Duration(ctx.Uint64(blockIntervalFlag.Name)) * time.Millisecond
	config.HTTPPort = ctx.Int(evmRPCPortFlag.Name)
	config.DexVmPort = ctx.Int(dexVmPortFlag.Name)
	config.P2PPort = ctx.Int(p2pPortFlag.Name)
	config.EnableP2P = ctx.Bool(enableP2PFlag.Name)
	config.Bootnodes = ctx.StringSlice(bootnodesFlag.Name)
	config.MaxPeers = ctx.Int(maxPeersFlag.Name)

	if path := ctx.String(genesisFlag.Name); path != "" {
		genesis, err := core.LoadGenesis(path)
		if err != nil {
			return err
		}
		config.Genesis = genesis
		log.Info("Loaded genesis file", "path", path, "chainid", genesis.Config.ChainID, "alloc", len(genesis.Alloc))
	}

	if config.EnableConsensus {
		key, err := crypto.HexToECDSA(ctx.String(validatorKeyFlag.Name))
		if err != nil {
			return fmt.Errorf("invalid validator key: %w", err)
		}
		config.ValidatorKey = key
		config.Validator = crypto.PubkeyToAddress(key.PublicKey)
	} else if addr := ctx.String(validatorFlag.Name); addr != "" {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid validator address %q", addr)
		}
		config.Validator = common.HexToAddress(addr)
	}

	n, err := node.New(config)
	if err != nil {
		return err
	}
	if err := n.Start(); err != nil {
		return err
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	log.Info("Shutting down")
	n.Close()
	return nil
}
