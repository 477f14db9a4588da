// Package miner drives block production for the validator: a fixed-cadence
// proposer that drains the mempool, signs a proposal, and hands it to the
// node's execution loop.
package miner

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/dexchain/dex-geth/consensus/poa"
	"github.com/dexchain/dex-geth/core"
	"github.com/dexchain/dex-geth/core/txpool"
	"github.com/dexchain/dex-geth/params"
)

// Proposal is one signed block candidate. The seal covers number, parent
// hash, timestamp and proposer; transactions are committed later by the
// stored block record.
type Proposal struct {
	Number     uint64
	ParentHash common.Hash
	Time       uint64
	Txs        []*types.Transaction
	Proposer   common.Address
	Seal       []byte
}

// Worker emits proposals at the configured interval. It reads the chain head
// on every tick, so a failed block simply gets re-proposed at the same
// height on the next tick and production never advances past a block that
// did not persist.
type Worker struct {
	engine   *poa.Engine
	chain    *core.BlockChain
	pool     *txpool.Pool
	interval time.Duration

	proposalCh chan *Proposal
	quit       chan struct{}
	logger     log.Logger
}

// New creates a proposer. The engine must be authorized to seal.
func New(engine *poa.Engine, chain *core.BlockChain, pool *txpool.Pool, interval time.Duration) *Worker {
	return &Worker{
		engine:     engine,
		chain:      chain,
		pool:       pool,
		interval:   interval,
		proposalCh: make(chan *Proposal, 1),
		quit:       make(chan struct{}),
		logger:     log.New("module", "miner"),
	}
}

// Proposals returns the channel the worker emits on.
func (w *Worker) Proposals() <-chan *Proposal { return w.proposalCh }

// Start launches the ticker loop.
func (w *Worker) Start() {
	w.logger.Info("PoA proposer started", "validator", w.engine.Validator(), "interval", w.interval)
	go w.loop()
}

// Stop halts the ticker loop. Queued mempool transactions are dropped
// silently with the node.
func (w *Worker) Stop() {
	close(w.quit)
}

func (w *Worker) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.quit:
			return
		case <-ticker.C:
			proposal, err := w.buildProposal()
			if err != nil {
				w.logger.Error("Failed to build proposal", "err", err)
				continue
			}
			select {
			case w.proposalCh <- proposal:
			case <-w.quit:
				return
			}
		}
	}
}

// buildProposal snapshots the head, drains the mempool prefix and seals the
// candidate.
func (w *Worker) buildProposal() (*Proposal, error) {
	head := w.chain.CurrentBlock()
	number := head.Number + 1
	timestamp := uint64(time.Now().Unix())
	if timestamp < head.Time {
		timestamp = head.Time
	}
	txs := w.pool.Drain(params.MaxBlockTxs)

	seal, err := w.engine.Seal(number, head.Hash, timestamp)
	if err != nil {
		return nil, err
	}
	if len(txs) > 0 {
		w.logger.Debug("Built proposal", "number", number, "parent", head.Hash, "txs", len(txs))
	}
	return &Proposal{
		Number:     number,
		ParentHash: head.Hash,
		Time:       timestamp,
		Txs:        txs,
		Proposer:   w.engine.Validator(),
		Seal:       seal,
	}, nil
}
