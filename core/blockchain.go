package core

import (
	"errors"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"

	"github.com/dexchain/dex-geth/core/rawdb"
	dxtypes "github.com/dexchain/dex-geth/core/types"
)

const blockCacheLimit = 256

// ChainHeadEvent is posted on the head feed after a block is persisted.
type ChainHeadEvent struct {
	Block *dxtypes.Block
}

// ErrNonContiguous rejects a block that does not extend the current head.
var ErrNonContiguous = errors.New("block does not extend current head")

// BlockChain tracks the canonical chain of stored blocks: the genesis, the
// current head, and the append-only persistence path. Blocks are appended
// once and never rewritten; there is no fork choice beyond the longest chain
// received from the sole validator.
type BlockChain struct {
	db      ethdb.Database
	genesis *dxtypes.Block
	current atomic.Pointer[dxtypes.Block]

	chainHeadFeed event.Feed
	blockCache    *lru.Cache // hash → *dxtypes.Block
	logger        log.Logger
}

// NewBlockChain opens the chain over the given database. The genesis block
// must already be persisted (node startup commits it on first boot).
func NewBlockChain(db ethdb.Database, genesis *dxtypes.Block) (*BlockChain, error) {
	cache, _ := lru.New(blockCacheLimit)
	bc := &BlockChain{
		db:         db,
		genesis:    genesis,
		blockCache: cache,
		logger:     log.New("module", "chain"),
	}
	head := genesis
	if latest, ok := rawdb.ReadLatestBlockNumber(db); ok {
		if stored := rawdb.ReadBlock(db, latest); stored != nil {
			head = stored
		}
	}
	bc.current.Store(head)
	bc.logger.Info("Loaded chain head", "number", head.Number, "hash", head.Hash)
	return bc, nil
}

// Genesis returns the genesis block.
func (bc *BlockChain) Genesis() *dxtypes.Block { return bc.genesis }

// CurrentBlock returns the head of the chain.
func (bc *BlockChain) CurrentBlock() *dxtypes.Block { return bc.current.Load() }

// GetBlockByNumber retrieves a block by height.
func (bc *BlockChain) GetBlockByNumber(number uint64) *dxtypes.Block {
	if number == 0 {
		return bc.genesis
	}
	return rawdb.ReadBlock(bc.db, number)
}

// GetBlockByHash retrieves a block by hash.
func (bc *BlockChain) GetBlockByHash(hash common.Hash) *dxtypes.Block {
	if hash == bc.genesis.Hash {
		return bc.genesis
	}
	if cached, ok := bc.blockCache.Get(hash); ok {
		return cached.(*dxtypes.Block)
	}
	block := rawdb.ReadBlockByHash(bc.db, hash)
	if block != nil {
		bc.blockCache.Add(hash, block)
	}
	return block
}

// GetHeaderByNumber returns the consensus header for a stored block.
func (bc *BlockChain) GetHeaderByNumber(number uint64) *types.Header {
	block := bc.GetBlockByNumber(number)
	if block == nil {
		return nil
	}
	return block.Header()
}

// GetTxLookup resolves a transaction hash to its inclusion slot.
func (bc *BlockChain) GetTxLookup(hash common.Hash) *rawdb.TxLookupEntry {
	return rawdb.ReadTxLookupEntry(bc.db, hash)
}

// GetTxBlob returns the raw encoded transaction bytes.
func (bc *BlockChain) GetTxBlob(hash common.Hash) []byte {
	return rawdb.ReadTxBlob(bc.db, hash)
}

// WriteBlock persists a block with its raw transactions and advances the
// head. The write is atomic; the chain-head event fires only after the batch
// lands.
func (bc *BlockChain) WriteBlock(block *dxtypes.Block, rawTxs [][]byte) error {
	head := bc.CurrentBlock()
	if block.Number != head.Number+1 || block.ParentHash != head.Hash {
		return fmt.Errorf("%w: head %d (%s), got block %d with parent %s",
			ErrNonContiguous, head.Number, head.Hash, block.Number, block.ParentHash)
	}
	if err := rawdb.WriteBlock(bc.db, block, rawTxs); err != nil {
		return err
	}
	bc.current.Store(block)
	bc.blockCache.Add(block.Hash, block)
	bc.chainHeadFeed.Send(ChainHeadEvent{Block: block})
	return nil
}

// SubscribeChainHeadEvent registers a listener for new head blocks.
func (bc *BlockChain) SubscribeChainHeadEvent(ch chan<- ChainHeadEvent) event.Subscription {
	return bc.chainHeadFeed.Subscribe(ch)
}
