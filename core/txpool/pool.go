// Package txpool implements the mempool: a bounded FIFO of signed
// transactions with best-effort admission checks against the committed
// state. There is no replacement policy and no price-based ordering; blocks
// drain the queue front in arrival order.
package txpool

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/dexchain/dex-geth/core/state"
)

// DefaultCapacity bounds the queue; producers are rejected past it.
const DefaultCapacity = 4096

var (
	// ErrPoolFull rejects transactions once the queue is at capacity.
	ErrPoolFull = errors.New("transaction pool is full")

	// ErrAlreadyKnown rejects duplicate submissions.
	ErrAlreadyKnown = errors.New("transaction already known")

	// ErrNonceTooLow rejects transactions below the sender's account nonce.
	ErrNonceTooLow = errors.New("nonce too low")

	// ErrInsufficientFunds rejects transactions the sender cannot pay for.
	ErrInsufficientFunds = errors.New("insufficient funds for gas * price + value")

	// ErrContractCreation rejects transactions without a destination:
	// contract creation is out of scope for this chain.
	ErrContractCreation = errors.New("contract creation is not supported")

	// ErrInvalidSender rejects transactions whose signature does not
	// recover.
	ErrInvalidSender = errors.New("invalid sender")
)

// NewTxsEvent is posted when transactions enter the pool.
type NewTxsEvent struct {
	Txs []*types.Transaction
}

// Pool is the FIFO mempool. Multiple producers (RPC, peer ingress) push;
// the proposer is the single consumer draining the front on each tick.
type Pool struct {
	signer   types.Signer
	state    *state.StateStore
	capacity int

	mu    sync.Mutex
	queue []*types.Transaction
	known map[common.Hash]struct{}

	txFeed event.Feed
	logger log.Logger
}

// New creates a pool validating against the given committed state.
func New(chainID *big.Int, statedb *state.StateStore) *Pool {
	return &Pool{
		signer:   types.LatestSignerForChainID(chainID),
		state:    statedb,
		capacity: DefaultCapacity,
		known:    make(map[common.Hash]struct{}),
		logger:   log.New("module", "txpool"),
	}
}

// validate runs the advisory admission checks. State may move between
// admission and execution; the processor re-checks and skips stale entries.
func (p *Pool) validate(tx *types.Transaction) (common.Address, error) {
	if tx.To() == nil {
		return common.Address{}, ErrContractCreation
	}
	from, err := types.Sender(p.signer, tx)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSender, err)
	}
	acct := p.state.GetAccount(from)
	if tx.Nonce() < acct.Nonce {
		return common.Address{}, fmt.Errorf("%w: account %d, tx %d", ErrNonceTooLow, acct.Nonce, tx.Nonce())
	}
	gasPrice, overflow := uint256.FromBig(tx.GasPrice())
	if overflow {
		return common.Address{}, ErrInsufficientFunds
	}
	value, overflow := uint256.FromBig(tx.Value())
	if overflow {
		return common.Address{}, ErrInsufficientFunds
	}
	cost := new(uint256.Int).Mul(gasPrice, uint256.NewInt(tx.Gas()))
	cost.Add(cost, value)
	if acct.Balance.Lt(cost) {
		return common.Address{}, fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, acct.Balance, cost)
	}
	return from, nil
}

// Add validates and enqueues a transaction.
func (p *Pool) Add(tx *types.Transaction) error {
	from, err := p.validate(tx)
	if err != nil {
		return err
	}
	hash := tx.Hash()

	p.mu.Lock()
	if _, ok := p.known[hash]; ok {
		p.mu.Unlock()
		return ErrAlreadyKnown
	}
	if len(p.queue) >= p.capacity {
		p.mu.Unlock()
		return ErrPoolFull
	}
	p.queue = append(p.queue, tx)
	p.known[hash] = struct{}{}
	p.mu.Unlock()

	p.logger.Debug("Admitted transaction", "hash", hash, "from", from, "nonce", tx.Nonce())
	p.txFeed.Send(NewTxsEvent{Txs: []*types.Transaction{tx}})
	return nil
}

// Drain removes and returns up to max transactions from the queue front.
// The drained prefix is gone regardless of how the block treats each entry.
func (p *Pool) Drain(max int) []*types.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.queue)
	if n == 0 {
		return nil
	}
	if n > max {
		n = max
	}
	drained := make([]*types.Transaction, n)
	copy(drained, p.queue[:n])
	p.queue = append(p.queue[:0], p.queue[n:]...)
	for _, tx := range drained {
		delete(p.known, tx.Hash())
	}
	return drained
}

// Len returns the number of queued transactions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Has reports whether a transaction is queued.
func (p *Pool) Has(hash common.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.known[hash]
	return ok
}

// SubscribeNewTxsEvent registers a listener for admitted transactions.
func (p *Pool) SubscribeNewTxsEvent(ch chan<- NewTxsEvent) event.Subscription {
	return p.txFeed.Subscribe(ch)
}
