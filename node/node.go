package node

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/cors"

	"github.com/ethereum/go-ethereum/common"
	gethrawdb "github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/p2p"
	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/dexchain/dex-geth/consensus/poa"
	"github.com/dexchain/dex-geth/core"
	"github.com/dexchain/dex-geth/core/dexvm"
	"github.com/dexchain/dex-geth/core/rawdb"
	"github.com/dexchain/dex-geth/core/state"
	"github.com/dexchain/dex-geth/core/txpool"
	dxtypes "github.com/dexchain/dex-geth/core/types"
	"github.com/dexchain/dex-geth/dexapi"
	"github.com/dexchain/dex-geth/eth"
	"github.com/dexchain/dex-geth/internal/ethapi"
	"github.com/dexchain/dex-geth/miner"
	"github.com/dexchain/dex-geth/params"
)

// Node is the assembled dual-VM node.
type Node struct {
	config  *Config
	chainID *big.Int

	db        ethdb.Database
	stateDB   *state.StateStore
	chain     *core.BlockChain
	dex       *dexvm.Executor
	processor *core.StateProcessor
	pool      *txpool.Pool
	engine    *poa.Engine
	worker    *miner.Worker
	handler   *eth.Handler

	p2pServer  *p2p.Server
	httpServer *http.Server
	dexServer  *http.Server

	receiptMu   sync.RWMutex
	receipts    map[common.Hash]*dxtypes.StoredReceipt
	dexReceipts map[common.Hash]*dxtypes.DexVmReceipt

	wg     sync.WaitGroup
	quit   chan struct{}
	logger log.Logger
}

// New assembles a node from its configuration. The database is opened, the
// genesis committed on first boot, and every subsystem wired, but nothing
// runs until Start.
func New(config *Config) (*Node, error) {
	logger := log.New("module", "node")

	var db ethdb.Database
	if config.DataDir == "" {
		db = gethrawdb.NewMemoryDatabase()
	} else {
		ldb, err := leveldb.New(filepath.Join(config.DataDir, "chaindata"), 128, 1024, "dexgeth", false)
		if err != nil {
			return nil, fmt.Errorf("open chain database: %w", err)
		}
		db = gethrawdb.NewDatabase(ldb)
	}
	stateDB := state.New(db)

	genesis := config.Genesis
	if genesis == nil {
		genesis = core.DefaultGenesis()
	}
	chainID := new(big.Int).SetUint64(genesis.Config.ChainID)

	// First boot commits the allocation and the genesis block; restarts
	// read the stored genesis back so the hash survives state growth.
	genesisBlock := rawdb.ReadBlock(db, 0)
	if genesisBlock == nil {
		committed, err := genesis.Commit(stateDB)
		if err != nil {
			return nil, fmt.Errorf("commit genesis: %w", err)
		}
		if err := rawdb.WriteBlock(db, committed, nil); err != nil {
			return nil, fmt.Errorf("write genesis block: %w", err)
		}
		genesisBlock = committed
		logger.Info("Committed genesis block", "chainid", genesis.Config.ChainID, "hash", genesisBlock.Hash, "alloc", len(genesis.Alloc))
	} else {
		logger.Info("Loaded existing genesis block", "chainid", genesis.Config.ChainID, "hash", genesisBlock.Hash)
	}

	chain, err := core.NewBlockChain(db, genesisBlock)
	if err != nil {
		return nil, err
	}

	// The counter VM boots from the persisted counter table.
	committed := dexvm.NewState()
	for addr, value := range stateDB.Counters() {
		committed.Set(addr, value)
	}
	dex := dexvm.NewExecutor(committed)
	if n := committed.Len(); n > 0 {
		logger.Info("Loaded DexVM counters", "count", n)
	}

	processor := core.NewStateProcessor(chainID, stateDB, dex)
	pool := txpool.New(chainID, stateDB)
	engine := poa.New(config.Validator, config.ValidatorKey)

	n := &Node{
		config:      config,
		chainID:     chainID,
		db:          db,
		stateDB:     stateDB,
		chain:       chain,
		dex:         dex,
		processor:   processor,
		pool:        pool,
		engine:      engine,
		receipts:    make(map[common.Hash]*dxtypes.StoredReceipt),
		dexReceipts: make(map[common.Hash]*dxtypes.DexVmReceipt),
		quit:        make(chan struct{}),
		logger:      logger,
	}

	n.handler = eth.NewHandler(eth.HandlerConfig{
		NetworkID: genesis.Config.ChainID,
		Chain:     chain,
		Pool:      pool,
		Engine:    engine,
		MaxPeers:  config.MaxPeers,
		Sync:      !config.EnableConsensus,
	})

	if config.EnableConsensus {
		if config.ValidatorKey == nil {
			return nil, fmt.Errorf("consensus enabled without a validator key")
		}
		n.worker = miner.New(engine, chain, pool, config.BlockInterval)
	}

	if config.EnableP2P {
		key, err := config.nodeKey()
		if err != nil {
			return nil, err
		}
		n.p2pServer = &p2p.Server{Config: p2p.Config{
			PrivateKey:  key,
			Name:        ClientVersion,
			MaxPeers:    config.MaxPeers,
			ListenAddr:  fmt.Sprintf(":%d", config.P2PPort),
			Protocols:   n.handler.Protocols(),
			NoDiscovery: true,
		}}
	}
	return n, nil
}

// Start brings every subsystem up: the RPC surfaces, networking, and the
// proposer plus execution loop on the validator.
func (n *Node) Start() error {
	n.handler.Start()

	if n.p2pServer != nil {
		if err := n.p2pServer.Start(); err != nil {
			return fmt.Errorf("start p2p server: %w", err)
		}
		n.logger.Info("P2P server started", "enode", n.p2pServer.Self().URLv4(), "port", n.config.P2PPort)
		for _, url := range n.config.Bootnodes {
			bootnode, err := enode.ParseV4(url)
			if err != nil {
				n.logger.Warn("Invalid bootnode URL", "url", url, "err", err)
				continue
			}
			n.p2pServer.AddPeer(bootnode)
			n.logger.Info("Added bootnode", "url", url)
		}
	}

	if err := n.startHTTP(); err != nil {
		return err
	}

	n.wg.Add(1)
	go n.mainLoop()

	if n.worker != nil {
		n.worker.Start()
		n.logger.Info("Validator mode", "address", n.engine.Validator(), "interval", n.config.BlockInterval)
	} else {
		n.logger.Info("Follower mode", "validator", n.engine.Validator())
	}
	return nil
}

// startHTTP brings up the JSON-RPC and REST servers.
func (n *Node) startHTTP() error {
	rpcServer := rpc.NewServer()
	for _, api := range []struct {
		namespace string
		service   interface{}
	}{
		{"eth", ethapi.NewEthAPI(n)},
		{"web3", ethapi.NewWeb3API(n)},
		{"net", ethapi.NewNetAPI(n)},
	} {
		if err := rpcServer.RegisterName(api.namespace, api.service); err != nil {
			return fmt.Errorf("register %s namespace: %w", api.namespace, err)
		}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodPost, http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler(rpcServer)

	n.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", n.config.HTTPPort),
		Handler: corsHandler,
	}
	go func() {
		if err := n.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			n.logger.Error("JSON-RPC server failed", "err", err)
		}
	}()
	n.logger.Info("EVM JSON-RPC listening", "port", n.config.HTTPPort)

	n.dexServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", n.config.DexVmPort),
		Handler: dexapi.NewServer(n.dex, ClientVersion).Router(),
	}
	go func() {
		if err := n.dexServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			n.logger.Error("DexVM REST server failed", "err", err)
		}
	}()
	n.logger.Info("DexVM REST API listening", "port", n.config.DexVmPort)
	return nil
}

// mainLoop is the sole mutator of committed state: it receives signed
// proposals, executes them through the dual-VM processor, and finalizes the
// resulting block. Execution or persistence failures abort the block without
// advancing the chain; the proposer retries at the same height on its next
// tick.
func (n *Node) mainLoop() {
	defer n.wg.Done()
	var proposals <-chan *miner.Proposal
	if n.worker != nil {
		proposals = n.worker.Proposals()
	}
	for {
		select {
		case proposal := <-proposals:
			if err := n.finalize(proposal); err != nil {
				n.logger.Error("Block production failed", "number", proposal.Number, "err", err)
				n.dex.ResetPending()
			}
		case <-n.quit:
			return
		}
	}
}

// finalize executes a proposal and persists the resulting block.
func (n *Node) finalize(proposal *miner.Proposal) error {
	head := n.chain.CurrentBlock()
	if proposal.Number != head.Number+1 || proposal.ParentHash != head.Hash {
		// A stale proposal from before the last import; skip quietly.
		return nil
	}
	result, included, err := n.processor.Process(proposal.Txs)
	if err != nil {
		return err
	}

	block := &dxtypes.Block{
		Number:       proposal.Number,
		ParentHash:   proposal.ParentHash,
		Time:         proposal.Time,
		GasLimit:     params.BlockGasLimit,
		GasUsed:      result.TotalGasUsed,
		Coinbase:     proposal.Proposer,
		EvmRoot:      result.EvmRoot,
		DexVmRoot:    result.DexVmRoot,
		CombinedRoot: result.CombinedRoot,
		Seal:         proposal.Seal,
	}
	block.TxHashes = make([]common.Hash, len(included))
	rawTxs := make([][]byte, len(included))
	for i, tx := range included {
		blob, err := tx.MarshalBinary()
		if err != nil {
			return fmt.Errorf("encode transaction %s: %w", tx.Hash(), err)
		}
		block.TxHashes[i] = tx.Hash()
		rawTxs[i] = blob
	}
	block.Hash = block.SealHash()

	if err := n.chain.WriteBlock(block, rawTxs); err != nil {
		return err
	}
	n.indexReceipts(block, result)

	n.logger.Info("Finalized block", "number", block.Number, "hash", block.Hash,
		"txs", len(included), "gasUsed", block.GasUsed, "root", block.CombinedRoot)
	return nil
}

// indexReceipts records the block placement on every receipt and publishes
// them for RPC lookup.
func (n *Node) indexReceipts(block *dxtypes.Block, result *dxtypes.ExecutionResult) {
	position := make(map[common.Hash]uint64, len(block.TxHashes))
	for i, hash := range block.TxHashes {
		position[hash] = uint64(i)
	}
	n.receiptMu.Lock()
	defer n.receiptMu.Unlock()
	for _, receipt := range result.EvmReceipts {
		receipt.BlockNumber = block.Number
		receipt.BlockHash = block.Hash
		receipt.TxIndex = position[receipt.TxHash]
		n.receipts[receipt.TxHash] = receipt
	}
	for _, receipt := range result.DexVmReceipts {
		n.dexReceipts[receipt.TxHash] = receipt
	}
}

// Close shuts the node down. The mempool drains silently; no in-flight block
// is partially committed because the main loop finishes its current proposal
// before exiting.
func (n *Node) Close() {
	if n.worker != nil {
		n.worker.Stop()
	}
	close(n.quit)
	n.wg.Wait()
	n.handler.Stop()
	if n.p2pServer != nil {
		n.p2pServer.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if n.httpServer != nil {
		_ = n.httpServer.Shutdown(ctx)
	}
	if n.dexServer != nil {
		_ = n.dexServer.Shutdown(ctx)
	}
	if err := n.db.Close(); err != nil {
		n.logger.Error("Failed to close database", "err", err)
	}
	n.logger.Info("Node stopped")
}

// --- ethapi.Backend implementation ---

// ChainID returns the configured chain id.
func (n *Node) ChainID() *big.Int { return new(big.Int).Set(n.chainID) }

// ClientVersion returns the node identity string.
func (n *Node) ClientVersion() string { return ClientVersion }

// CurrentBlock returns the chain head.
func (n *Node) CurrentBlock() *dxtypes.Block { return n.chain.CurrentBlock() }

// BlockByNumber returns a stored block by height.
func (n *Node) BlockByNumber(number uint64) *dxtypes.Block { return n.chain.GetBlockByNumber(number) }

// BlockByHash returns a stored block by hash.
func (n *Node) BlockByHash(hash common.Hash) *dxtypes.Block { return n.chain.GetBlockByHash(hash) }

// StateStore returns the persistent state.
func (n *Node) StateStore() *state.StateStore { return n.stateDB }

// DexExecutor returns the counter executor.
func (n *Node) DexExecutor() *dexvm.Executor { return n.dex }

// SendTransaction admits a signed transaction to the mempool.
func (n *Node) SendTransaction(tx *types.Transaction) error { return n.pool.Add(tx) }

// Receipt returns the EVM-side receipt for a transaction.
func (n *Node) Receipt(hash common.Hash) *dxtypes.StoredReceipt {
	n.receiptMu.RLock()
	defer n.receiptMu.RUnlock()
	return n.receipts[hash]
}

// DexReceipt returns the counter receipt for a transaction.
func (n *Node) DexReceipt(hash common.Hash) *dxtypes.DexVmReceipt {
	n.receiptMu.RLock()
	defer n.receiptMu.RUnlock()
	return n.dexReceipts[hash]
}

// PeerCount returns the number of connected protocol peers.
func (n *Node) PeerCount() int { return n.handler.PeerCount() }

// Chain exposes the blockchain, used by tests and the sync path.
func (n *Node) Chain() *core.BlockChain { return n.chain }

// Pool exposes the mempool.
func (n *Node) Pool() *txpool.Pool { return n.pool }

// Processor exposes the dual-VM processor.
func (n *Node) Processor() *core.StateProcessor { return n.processor }

// Server exposes the devp2p server, nil when networking is disabled.
func (n *Node) Server() *p2p.Server { return n.p2pServer }
