package eth

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/p2p"

	"github.com/dexchain/dex-geth/consensus/poa"
	"github.com/dexchain/dex-geth/core"
	"github.com/dexchain/dex-geth/core/txpool"
	"github.com/dexchain/dex-geth/params"
)

// HandlerConfig wires the handler's collaborators.
type HandlerConfig struct {
	NetworkID uint64
	Chain     *core.BlockChain
	Pool      *txpool.Pool
	Engine    *poa.Engine
	MaxPeers  int

	// Sync enables the follower fetch loop; the validator leaves it off
	// and only serves requests.
	Sync bool
}

// Handler owns the peer set: it runs the per-peer protocol loops, answers
// header and body requests from the stores, relays transactions, and feeds
// announcements into the syncer on follower nodes.
type Handler struct {
	networkID uint64
	chain     *core.BlockChain
	pool      *txpool.Pool
	engine    *poa.Engine
	maxPeers  int

	peerMu sync.RWMutex
	peers  map[string]*Peer

	syncer *Syncer

	chainHeadCh  chan core.ChainHeadEvent
	chainHeadSub event.Subscription
	txsCh        chan txpool.NewTxsEvent
	txsSub       event.Subscription

	wg   sync.WaitGroup
	quit chan struct{}

	logger log.Logger
}

// NewHandler creates the peer manager.
func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		networkID: cfg.NetworkID,
		chain:     cfg.Chain,
		pool:      cfg.Pool,
		engine:    cfg.Engine,
		maxPeers:  cfg.MaxPeers,
		peers:     make(map[string]*Peer),
		quit:      make(chan struct{}),
		logger:    log.New("module", "eth"),
	}
	if cfg.Sync {
		h.syncer = newSyncer(cfg.Chain, cfg.Engine, h)
	}
	return h
}

// Protocols returns the devp2p protocol descriptors this handler speaks.
func (h *Handler) Protocols() []p2p.Protocol {
	return []p2p.Protocol{{
		Name:    ProtocolName,
		Version: DEX1,
		Length:  protocolLength,
		Run:     h.runPeer,
	}}
}

// Start launches the broadcast loops.
func (h *Handler) Start() {
	h.chainHeadCh = make(chan core.ChainHeadEvent, 8)
	h.chainHeadSub = h.chain.SubscribeChainHeadEvent(h.chainHeadCh)
	h.wg.Add(1)
	go h.blockBroadcastLoop()

	h.txsCh = make(chan txpool.NewTxsEvent, 64)
	h.txsSub = h.pool.SubscribeNewTxsEvent(h.txsCh)
	h.wg.Add(1)
	go h.txBroadcastLoop()

	if h.syncer != nil {
		h.syncer.start()
	}
}

// Stop terminates the broadcast loops and waits for peer goroutines to
// unwind through their disconnects.
func (h *Handler) Stop() {
	h.chainHeadSub.Unsubscribe()
	h.txsSub.Unsubscribe()
	if h.syncer != nil {
		h.syncer.stop()
	}
	close(h.quit)
	h.wg.Wait()
}

// PeerCount returns the number of connected protocol peers.
func (h *Handler) PeerCount() int {
	h.peerMu.RLock()
	defer h.peerMu.RUnlock()
	return len(h.peers)
}

// peer returns a registered peer by id.
func (h *Handler) peer(id string) *Peer {
	h.peerMu.RLock()
	defer h.peerMu.RUnlock()
	return h.peers[id]
}

// anyPeer returns an arbitrary registered peer, used by the syncer to
// re-issue timed-out requests.
func (h *Handler) anyPeer() *Peer {
	h.peerMu.RLock()
	defer h.peerMu.RUnlock()
	for _, p := range h.peers {
		return p
	}
	return nil
}

func (h *Handler) register(p *Peer) error {
	h.peerMu.Lock()
	defer h.peerMu.Unlock()
	if len(h.peers) >= h.maxPeers {
		return p2p.DiscTooManyPeers
	}
	if _, ok := h.peers[p.ID()]; ok {
		return errors.New("peer already registered")
	}
	h.peers[p.ID()] = p
	return nil
}

func (h *Handler) unregister(p *Peer) {
	h.peerMu.Lock()
	delete(h.peers, p.ID())
	h.peerMu.Unlock()
	if h.syncer != nil {
		h.syncer.dropPeer(p.ID())
	}
}

// runPeer is the devp2p entry point: handshake, register, then serve the
// message loop until the session dies. Protocol violations terminate the
// session; the error propagates to the p2p server which disconnects.
func (h *Handler) runPeer(p *p2p.Peer, rw p2p.MsgReadWriter) error {
	peer := newPeer(p, rw)
	head := h.chain.CurrentBlock()
	if err := peer.Handshake(h.networkID, h.chain.Genesis().Hash, head.Hash); err != nil {
		peer.logger.Debug("Handshake failed", "err", err)
		return err
	}
	if err := h.register(peer); err != nil {
		return err
	}
	defer h.unregister(peer)
	peer.logger.Info("Peer connected", "name", p.Name())

	if h.syncer != nil {
		h.syncer.peerConnected(peer)
	}
	for {
		if err := h.handleMsg(peer); err != nil {
			peer.logger.Debug("Message handling failed", "err", err)
			return err
		}
	}
}

// handleMsg reads and dispatches one inbound message.
func (h *Handler) handleMsg(p *Peer) error {
	msg, err := p.rw.ReadMsg()
	if err != nil {
		return err
	}
	if msg.Size > maxMessageSize {
		return fmt.Errorf("%w: %d bytes", errMsgTooLarge, msg.Size)
	}
	defer msg.Discard()

	switch msg.Code {
	case StatusMsg:
		return errors.New("status message sent after handshake")

	case NewBlockHashesMsg:
		var announces NewBlockHashesPacket
		if err := msg.Decode(&announces); err != nil {
			return fmt.Errorf("%w: %v", errDecode, err)
		}
		for _, entry := range announces {
			p.markBlock(entry.Hash)
			p.SetHead(entry.Hash)
		}
		if h.syncer != nil {
			h.syncer.notifyAnnounce(p, announces)
		}
		return nil

	case TransactionsMsg:
		var txs TransactionsPacket
		if err := msg.Decode(&txs); err != nil {
			return fmt.Errorf("%w: %v", errDecode, err)
		}
		for _, tx := range txs {
			p.markTx(tx.Hash())
			if err := h.pool.Add(tx); err != nil {
				p.logger.Debug("Rejected peer transaction", "hash", tx.Hash(), "err", err)
			}
		}
		return nil

	case GetBlockHeadersMsg:
		var req GetBlockHeadersPacket
		if err := msg.Decode(&req); err != nil {
			return fmt.Errorf("%w: %v", errDecode, err)
		}
		return p.ReplyHeaders(req.RequestId, h.serveHeaders(&req))

	case BlockHeadersMsg:
		var res BlockHeadersPacket
		if err := msg.Decode(&res); err != nil {
			return fmt.Errorf("%w: %v", errDecode, err)
		}
		if h.syncer != nil {
			h.syncer.deliverHeaders(p, res.RequestId, res.Headers)
		}
		return nil

	case GetBlockBodiesMsg:
		var req GetBlockBodiesPacket
		if err := msg.Decode(&req); err != nil {
			return fmt.Errorf("%w: %v", errDecode, err)
		}
		return p.ReplyBodies(req.RequestId, h.serveBodies(req.Hashes))

	case BlockBodiesMsg:
		var res BlockBodiesPacket
		if err := msg.Decode(&res); err != nil {
			return fmt.Errorf("%w: %v", errDecode, err)
		}
		if h.syncer != nil {
			h.syncer.deliverBodies(p, res.RequestId, res.Bodies)
		}
		return nil

	default:
		return fmt.Errorf("%w: %v", errInvalidMsgCode, msg.Code)
	}
}

// serveHeaders answers a header request from the block store, ascending from
// the origin, capped at MaxHeadersServe.
func (h *Handler) serveHeaders(req *GetBlockHeadersPacket) []*types.Header {
	start := req.Origin.Number
	if req.Origin.Hash != (common.Hash{}) {
		block := h.chain.GetBlockByHash(req.Origin.Hash)
		if block == nil {
			return nil
		}
		start = block.Number
	}
	amount := req.Amount
	if amount > params.MaxHeadersServe {
		amount = params.MaxHeadersServe
	}
	headers := make([]*types.Header, 0, amount)
	for i := uint64(0); i < amount; i++ {
		header := h.chain.GetHeaderByNumber(start + i)
		if header == nil {
			break
		}
		headers = append(headers, header)
	}
	return headers
}

// serveBodies answers a body request from the stores. Unknown hashes yield
// empty bodies so responses stay aligned with the request.
func (h *Handler) serveBodies(hashes []common.Hash) []*BlockBody {
	bodies := make([]*BlockBody, 0, len(hashes))
	for _, hash := range hashes {
		block := h.chain.GetBlockByHash(hash)
		if block == nil {
			bodies = append(bodies, &BlockBody{})
			continue
		}
		body := &BlockBody{
			Transactions: make([]*types.Transaction, 0, len(block.TxHashes)),
			EvmRoot:      block.EvmRoot,
			DexVmRoot:    block.DexVmRoot,
		}
		for _, txHash := range block.TxHashes {
			blob := h.chain.GetTxBlob(txHash)
			if blob == nil {
				h.logger.Warn("Missing transaction blob", "block", block.Number, "tx", txHash)
				continue
			}
			tx := new(types.Transaction)
			if err := tx.UnmarshalBinary(blob); err != nil {
				h.logger.Warn("Undecodable transaction blob", "tx", txHash, "err", err)
				continue
			}
			body.Transactions = append(body.Transactions, tx)
		}
		bodies = append(bodies, body)
	}
	return bodies
}

// blockBroadcastLoop announces freshly finalized blocks to every peer that
// does not already know them. Announcements may overlap with the next
// proposal; followers de-duplicate by number.
func (h *Handler) blockBroadcastLoop() {
	defer h.wg.Done()
	for {
		select {
		case ev := <-h.chainHeadCh:
			block := ev.Block
			h.peerMu.RLock()
			peers := make([]*Peer, 0, len(h.peers))
			for _, p := range h.peers {
				if !p.KnowsBlock(block.Hash) {
					peers = append(peers, p)
				}
			}
			h.peerMu.RUnlock()
			for _, p := range peers {
				if err := p.AnnounceBlock(block.Hash, block.Number); err != nil {
					p.logger.Debug("Block announce failed", "err", err)
				}
			}
			if len(peers) > 0 {
				h.logger.Debug("Announced block", "number", block.Number, "hash", block.Hash, "peers", len(peers))
			}
		case <-h.chainHeadSub.Err():
			return
		case <-h.quit:
			return
		}
	}
}

// txBroadcastLoop forwards admitted transactions to peers that have not seen
// them; this is how follower-received transactions reach the validator.
func (h *Handler) txBroadcastLoop() {
	defer h.wg.Done()
	for {
		select {
		case ev := <-h.txsCh:
			h.peerMu.RLock()
			peers := make([]*Peer, 0, len(h.peers))
			for _, p := range h.peers {
				peers = append(peers, p)
			}
			h.peerMu.RUnlock()
			for _, p := range peers {
				fresh := make([]*types.Transaction, 0, len(ev.Txs))
				for _, tx := range ev.Txs {
					if !p.KnowsTx(tx.Hash()) {
						fresh = append(fresh, tx)
					}
				}
				if len(fresh) == 0 {
					continue
				}
				if err := p.SendTransactions(fresh); err != nil {
					p.logger.Debug("Transaction relay failed", "err", err)
				}
			}
		case <-h.txsSub.Err():
			return
		case <-h.quit:
			return
		}
	}
}
