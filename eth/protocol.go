// Package eth implements the block propagation protocol of the dual-VM
// chain on top of the devp2p transport: status handshake, new-block
// announcements, header/body retrieval, and transaction relay.
package eth

import (
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
)

// Constants to match up protocol versions and messages.
const (
	// DEX1 is the only protocol version so far.
	DEX1 = 1

	// ProtocolName is advertised in the devp2p hello.
	ProtocolName = "dex"

	// maxMessageSize bounds inbound frames.
	maxMessageSize = 10 * 1024 * 1024
)

// Message codes of the dex protocol.
const (
	StatusMsg          = 0x00
	NewBlockHashesMsg  = 0x01
	TransactionsMsg    = 0x02
	GetBlockHeadersMsg = 0x03
	BlockHeadersMsg    = 0x04
	GetBlockBodiesMsg  = 0x05
	BlockBodiesMsg     = 0x06

	// protocolLength is the number of implemented message codes.
	protocolLength = 7
)

var (
	errMsgTooLarge             = errors.New("message too long")
	errDecode                  = errors.New("invalid message")
	errInvalidMsgCode          = errors.New("invalid message code")
	errNetworkIDMismatch       = errors.New("network ID mismatch")
	errGenesisMismatch         = errors.New("genesis hash mismatch")
	errProtocolVersionMismatch = errors.New("protocol version mismatch")
	errNoStatusMsg             = errors.New("no status message")
)

// StatusPacket is the network handshake, exchanged once per session.
type StatusPacket struct {
	ProtocolVersion uint32
	NetworkID       uint64
	TD              *big.Int
	Head            common.Hash
	Genesis         common.Hash
}

// BlockHashEntry is one announcement inside NewBlockHashes.
type BlockHashEntry struct {
	Hash   common.Hash
	Number uint64
}

// NewBlockHashesPacket announces the availability of blocks by hash.
type NewBlockHashesPacket []BlockHashEntry

// TransactionsPacket relays signed transactions between nodes.
type TransactionsPacket []*types.Transaction

// HashOrNumber is a combined field for specifying a block origin: either a
// hash or a height, never both.
type HashOrNumber struct {
	Hash   common.Hash
	Number uint64
}

// EncodeRLP is a specialized encoder for HashOrNumber to encode only one of
// the two contained union fields.
func (hn *HashOrNumber) EncodeRLP(w io.Writer) error {
	if hn.Hash == (common.Hash{}) {
		return rlp.Encode(w, hn.Number)
	}
	if hn.Number != 0 {
		return fmt.Errorf("both origin hash (%x) and number (%d) provided", hn.Hash, hn.Number)
	}
	return rlp.Encode(w, hn.Hash)
}

// DecodeRLP is a specialized decoder for HashOrNumber to decode the contents
// into either a block hash or a block number.
func (hn *HashOrNumber) DecodeRLP(s *rlp.Stream) error {
	_, size, err := s.Kind()
	switch {
	case err != nil:
		return err
	case size == 32:
		hn.Number = 0
		return s.Decode(&hn.Hash)
	case size <= 8:
		hn.Hash = common.Hash{}
		return s.Decode(&hn.Number)
	default:
		return fmt.Errorf("invalid origin: size %d", size)
	}
}

// GetBlockHeadersPacket requests a run of consensus headers starting at the
// origin, ascending, bounded by Amount.
type GetBlockHeadersPacket struct {
	RequestId uint64
	Origin    HashOrNumber
	Amount    uint64
}

// BlockHeadersPacket answers a header request.
type BlockHeadersPacket struct {
	RequestId uint64
	Headers   []*types.Header
}

// GetBlockBodiesPacket requests block bodies by block hash.
type GetBlockBodiesPacket struct {
	RequestId uint64
	Hashes    []common.Hash
}

// BlockBody carries a block's transactions together with the split state
// roots: the consensus header only commits the combined root, and followers
// store blocks as received, so the wire is where the split travels.
type BlockBody struct {
	Transactions []*types.Transaction
	EvmRoot      common.Hash
	DexVmRoot    common.Hash
}

// BlockBodiesPacket answers a body request; bodies arrive in request order.
type BlockBodiesPacket struct {
	RequestId uint64
	Bodies    []*BlockBody
}
