package eth

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/dexchain/dex-geth/consensus/poa"
	"github.com/dexchain/dex-geth/core"
	dxtypes "github.com/dexchain/dex-geth/core/types"
	"github.com/dexchain/dex-geth/params"
)

const (
	// requestTimeout bounds one header or body round trip; expired
	// requests are dropped and re-issued.
	requestTimeout = 5 * time.Second

	// retrySyncInterval paces the backstop loop that re-checks whether the
	// node is still behind a known peer head.
	retrySyncInterval = 2 * time.Second
)

// headerRequest tracks one in-flight GetBlockHeaders.
type headerRequest struct {
	peerID string
	id     uint64
	from   uint64
	amount uint64
	timer  *time.Timer
}

// bodyRequest tracks one in-flight GetBlockBodies together with the already
// validated headers the bodies must match, sorted ascending.
type bodyRequest struct {
	peerID  string
	id      uint64
	headers []*types.Header
	timer   *time.Timer
}

// Syncer is the follower fetch state machine. Announcements raise the known
// peer target; the syncer keeps one header or body request in flight at a
// time and imports blocks as received, trusting the validator's roots after
// checking seal, contiguity and the combined-root equation.
type Syncer struct {
	chain   *core.BlockChain
	engine  *poa.Engine
	handler *Handler

	mu        sync.Mutex
	nextReqID uint64
	headerReq *headerRequest
	bodyReq   *bodyRequest
	targets   map[string]uint64 // peer id → announced head number

	wg   sync.WaitGroup
	quit chan struct{}

	logger log.Logger
}

func newSyncer(chain *core.BlockChain, engine *poa.Engine, handler *Handler) *Syncer {
	return &Syncer{
		chain:   chain,
		engine:  engine,
		handler: handler,
		targets: make(map[string]uint64),
		quit:    make(chan struct{}),
		logger:  log.New("module", "sync"),
	}
}

func (s *Syncer) start() {
	s.wg.Add(1)
	go s.retryLoop()
}

func (s *Syncer) stop() {
	close(s.quit)
	s.wg.Wait()
}

// retryLoop is the backstop: if the node is behind and nothing is in flight
// (a request expired, a batch was discarded), it re-issues against whichever
// peer is available.
func (s *Syncer) retryLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(retrySyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if p := s.handler.anyPeer(); p != nil {
				s.maybeSync(p)
			}
		case <-s.quit:
			return
		}
	}
}

// peerConnected fires a blind initial fetch: the peer's height is unknown
// until it announces, so ask for whatever follows the local head.
func (s *Syncer) peerConnected(p *Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestHeadersLocked(p, s.chain.CurrentBlock().Number+1, params.MaxHeadersServe)
}

// notifyAnnounce records the peer's advertised height and starts fetching if
// the node is behind. Repeated and out-of-order announces collapse into the
// per-peer maximum.
func (s *Syncer) notifyAnnounce(p *Peer, announces NewBlockHashesPacket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range announces {
		if entry.Number > s.targets[p.ID()] {
			s.targets[p.ID()] = entry.Number
		}
	}
	s.maybeSyncLocked(p)
}

// maybeSync starts a header fetch against p when behind and idle.
func (s *Syncer) maybeSync(p *Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maybeSyncLocked(p)
}

func (s *Syncer) maybeSyncLocked(p *Peer) {
	if s.headerReq != nil || s.bodyReq != nil {
		return
	}
	var target uint64
	for _, number := range s.targets {
		if number > target {
			target = number
		}
	}
	local := s.chain.CurrentBlock().Number
	if target <= local {
		return
	}
	amount := target - local
	if amount > params.MaxHeadersServe {
		amount = params.MaxHeadersServe
	}
	s.requestHeadersLocked(p, local+1, amount)
}

func (s *Syncer) requestHeadersLocked(p *Peer, from, amount uint64) {
	if s.headerReq != nil || s.bodyReq != nil {
		return
	}
	s.nextReqID++
	id := s.nextReqID
	req := &headerRequest{peerID: p.ID(), id: id, from: from, amount: amount}
	req.timer = time.AfterFunc(requestTimeout, func() { s.expireHeaders(id) })
	s.headerReq = req
	if err := p.RequestHeaders(id, from, amount); err != nil {
		req.timer.Stop()
		s.headerReq = nil
		s.logger.Debug("Header request failed", "peer", p.ID(), "err", err)
	}
}

func (s *Syncer) expireHeaders(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.headerReq != nil && s.headerReq.id == id {
		s.logger.Warn("Header request timed out", "peer", s.headerReq.peerID, "from", s.headerReq.from)
		s.headerReq = nil
	}
}

func (s *Syncer) expireBodies(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bodyReq != nil && s.bodyReq.id == id {
		s.logger.Warn("Body request timed out", "peer", s.bodyReq.peerID)
		s.bodyReq = nil
	}
}

// deliverHeaders validates a header batch and moves on to bodies. A batch
// failing contiguity or seal checks is discarded whole; the retry loop
// re-requests.
func (s *Syncer) deliverHeaders(p *Peer, id uint64, headers []*types.Header) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req := s.headerReq
	if req == nil || req.id != id || req.peerID != p.ID() {
		return
	}
	req.timer.Stop()
	s.headerReq = nil

	if len(headers) == 0 {
		return
	}
	if headers[0].Number.Uint64() != req.from {
		s.logger.Warn("Header batch starts at wrong height", "peer", p.ID(),
			"want", req.from, "have", headers[0].Number.Uint64())
		return
	}
	for i, header := range headers {
		if i > 0 {
			prev := headers[i-1]
			if header.Number.Uint64() != prev.Number.Uint64()+1 || header.ParentHash != prev.Hash() {
				s.logger.Warn("Discarding non-contiguous header batch", "peer", p.ID(),
					"break", header.Number.Uint64())
				return
			}
		}
		if err := s.engine.VerifyHeaderSeal(header); err != nil {
			s.logger.Warn("Discarding header batch with bad seal", "peer", p.ID(),
				"number", header.Number.Uint64(), "err", err)
			return
		}
	}
	hashes := make([]common.Hash, len(headers))
	for i, header := range headers {
		hashes[i] = header.Hash()
	}
	s.nextReqID++
	reqID := s.nextReqID
	body := &bodyRequest{peerID: p.ID(), id: reqID, headers: headers}
	body.timer = time.AfterFunc(requestTimeout, func() { s.expireBodies(reqID) })
	s.bodyReq = body
	if err := p.RequestBodies(reqID, hashes); err != nil {
		body.timer.Stop()
		s.bodyReq = nil
		s.logger.Debug("Body request failed", "peer", p.ID(), "err", err)
	}
}

// deliverBodies matches bodies to their headers in order, synthesizes stored
// blocks and persists them, then continues fetching if still behind.
func (s *Syncer) deliverBodies(p *Peer, id uint64, bodies []*BlockBody) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req := s.bodyReq
	if req == nil || req.id != id || req.peerID != p.ID() {
		return
	}
	req.timer.Stop()
	s.bodyReq = nil

	imported := 0
	for i, body := range bodies {
		if i >= len(req.headers) {
			s.logger.Warn("More bodies than requested headers", "peer", p.ID())
			break
		}
		header := req.headers[i]
		if dxtypes.CombineRoots(body.EvmRoot, body.DexVmRoot) != header.Root {
			s.logger.Warn("Discarding body with mismatched state roots", "peer", p.ID(),
				"number", header.Number.Uint64())
			break
		}
		txHashes := make([]common.Hash, len(body.Transactions))
		rawTxs := make([][]byte, len(body.Transactions))
		undecodable := false
		for j, tx := range body.Transactions {
			blob, err := tx.MarshalBinary()
			if err != nil {
				s.logger.Warn("Unencodable synced transaction", "err", err)
				undecodable = true
				break
			}
			txHashes[j] = tx.Hash()
			rawTxs[j] = blob
		}
		if undecodable {
			break
		}
		block := dxtypes.BlockFromHeader(header, body.EvmRoot, body.DexVmRoot, txHashes)
		if err := s.chain.WriteBlock(block, rawTxs); err != nil {
			s.logger.Warn("Failed to import synced block", "number", block.Number, "err", err)
			break
		}
		imported++
	}
	if imported > 0 {
		head := s.chain.CurrentBlock()
		s.logger.Info("Imported synced blocks", "count", imported, "head", head.Number, "hash", head.Hash)
	}
	s.maybeSyncLocked(p)
}

// dropPeer forgets a disconnected peer's target and cancels its in-flight
// requests.
func (s *Syncer) dropPeer(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.targets, id)
	if s.headerReq != nil && s.headerReq.peerID == id {
		s.headerReq.timer.Stop()
		s.headerReq = nil
	}
	if s.bodyReq != nil && s.bodyReq.peerID == id {
		s.bodyReq.timer.Stop()
		s.bodyReq = nil
	}
}
