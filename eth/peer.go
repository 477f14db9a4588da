package eth

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/p2p"
)

const (
	// maxKnownBlocks bounds the per-peer known-block set; announcing a
	// block twice to the same peer is harmless, so the sets can be small.
	maxKnownBlocks = 1024

	// maxKnownTxs bounds the per-peer known-transaction set.
	maxKnownTxs = 32768

	// handshakeTimeout bounds the status exchange.
	handshakeTimeout = 5 * time.Second
)

// Peer wraps a devp2p peer with the dex protocol state: the negotiated
// status, and the sets of blocks and transactions the remote is known to
// have so broadcasts don't echo.
type Peer struct {
	id string

	*p2p.Peer
	rw p2p.MsgReadWriter

	head     common.Hash
	headLock sync.RWMutex

	knownBlocks mapset.Set[common.Hash]
	knownTxs    mapset.Set[common.Hash]

	logger log.Logger
}

func newPeer(p *p2p.Peer, rw p2p.MsgReadWriter) *Peer {
	id := p.ID().String()
	return &Peer{
		id:          id,
		Peer:        p,
		rw:          rw,
		knownBlocks: mapset.NewSet[common.Hash](),
		knownTxs:    mapset.NewSet[common.Hash](),
		logger:      log.New("module", "eth", "peer", id[:8]),
	}
}

// ID returns the peer's session identifier.
func (p *Peer) ID() string { return p.id }

// Head returns the last head hash the peer advertised.
func (p *Peer) Head() common.Hash {
	p.headLock.RLock()
	defer p.headLock.RUnlock()
	return p.head
}

// SetHead updates the tracked head of the peer.
func (p *Peer) SetHead(hash common.Hash) {
	p.headLock.Lock()
	defer p.headLock.Unlock()
	p.head = hash
}

// Handshake exchanges status messages and verifies that the remote is on
// the same network and genesis.
func (p *Peer) Handshake(networkID uint64, genesis, head common.Hash) error {
	errc := make(chan error, 2)
	var theirs StatusPacket

	go func() {
		errc <- p2p.Send(p.rw, StatusMsg, &StatusPacket{
			ProtocolVersion: DEX1,
			NetworkID:       networkID,
			TD:              new(big.Int),
			Head:            head,
			Genesis:         genesis,
		})
	}()
	go func() {
		errc <- p.readStatus(networkID, genesis, &theirs)
	}()

	timeout := time.NewTimer(handshakeTimeout)
	defer timeout.Stop()
	for i := 0; i < 2; i++ {
		select {
		case err := <-errc:
			if err != nil {
				return err
			}
		case <-timeout.C:
			return p2p.DiscReadTimeout
		}
	}
	p.SetHead(theirs.Head)
	return nil
}

func (p *Peer) readStatus(networkID uint64, genesis common.Hash, status *StatusPacket) error {
	msg, err := p.rw.ReadMsg()
	if err != nil {
		return err
	}
	defer msg.Discard()
	if msg.Code != StatusMsg {
		return fmt.Errorf("%w: first msg has code %#x", errNoStatusMsg, msg.Code)
	}
	if msg.Size > maxMessageSize {
		return fmt.Errorf("%w: %d bytes", errMsgTooLarge, msg.Size)
	}
	if err := msg.Decode(status); err != nil {
		return fmt.Errorf("%w: %v", errDecode, err)
	}
	if status.ProtocolVersion != DEX1 {
		return fmt.Errorf("%w: theirs %d, ours %d", errProtocolVersionMismatch, status.ProtocolVersion, DEX1)
	}
	if status.NetworkID != networkID {
		return fmt.Errorf("%w: theirs %d, ours %d", errNetworkIDMismatch, status.NetworkID, networkID)
	}
	if status.Genesis != genesis {
		return fmt.Errorf("%w: theirs %s, ours %s", errGenesisMismatch, status.Genesis, genesis)
	}
	return nil
}

// markBlock records that the peer knows a block.
func (p *Peer) markBlock(hash common.Hash) {
	for p.knownBlocks.Cardinality() >= maxKnownBlocks {
		p.knownBlocks.Pop()
	}
	p.knownBlocks.Add(hash)
}

// markTx records that the peer knows a transaction.
func (p *Peer) markTx(hash common.Hash) {
	for p.knownTxs.Cardinality() >= maxKnownTxs {
		p.knownTxs.Pop()
	}
	p.knownTxs.Add(hash)
}

// KnowsBlock reports whether the peer is tracked as knowing the block.
func (p *Peer) KnowsBlock(hash common.Hash) bool { return p.knownBlocks.Contains(hash) }

// KnowsTx reports whether the peer is tracked as knowing the transaction.
func (p *Peer) KnowsTx(hash common.Hash) bool { return p.knownTxs.Contains(hash) }

// AnnounceBlock pushes a NewBlockHashes entry to the peer.
func (p *Peer) AnnounceBlock(hash common.Hash, number uint64) error {
	p.markBlock(hash)
	return p2p.Send(p.rw, NewBlockHashesMsg, NewBlockHashesPacket{{Hash: hash, Number: number}})
}

// SendTransactions relays transactions the peer does not know yet.
func (p *Peer) SendTransactions(txs []*types.Transaction) error {
	for _, tx := range txs {
		p.markTx(tx.Hash())
	}
	return p2p.Send(p.rw, TransactionsMsg, TransactionsPacket(txs))
}

// RequestHeaders asks for a run of headers ascending from the given height.
func (p *Peer) RequestHeaders(requestID, from, amount uint64) error {
	p.logger.Debug("Requesting headers", "from", from, "amount", amount, "reqid", requestID)
	return p2p.Send(p.rw, GetBlockHeadersMsg, &GetBlockHeadersPacket{
		RequestId: requestID,
		Origin:    HashOrNumber{Number: from},
		Amount:    amount,
	})
}

// RequestBodies asks for block bodies by hash.
func (p *Peer) RequestBodies(requestID uint64, hashes []common.Hash) error {
	p.logger.Debug("Requesting bodies", "count", len(hashes), "reqid", requestID)
	return p2p.Send(p.rw, GetBlockBodiesMsg, &GetBlockBodiesPacket{RequestId: requestID, Hashes: hashes})
}

// ReplyHeaders answers a GetBlockHeaders request.
func (p *Peer) ReplyHeaders(requestID uint64, headers []*types.Header) error {
	return p2p.Send(p.rw, BlockHeadersMsg, &BlockHeadersPacket{RequestId: requestID, Headers: headers})
}

// ReplyBodies answers a GetBlockBodies request.
func (p *Peer) ReplyBodies(requestID uint64, bodies []*BlockBody) error {
	return p2p.Send(p.rw, BlockBodiesMsg, &BlockBodiesPacket{RequestId: requestID, Bodies: bodies})
}
