package types

import (
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// SealLength is the size of a PoA seal: r[32] ∥ s[32] ∥ v[1].
const SealLength = 65

// EmptyListHash is keccak256(rlp([])), the value carried in the ommers,
// transactions and receipts root fields of every consensus header. Blocks
// commit their transactions through the stored record, not a trie.
var EmptyListHash = types.EmptyUncleHash

// Block is the stored representation of a finalized dual-VM block. It
// commits both VM state roots separately plus their combination, which is
// what the consensus header exposes as its state root.
type Block struct {
	Number       uint64
	Hash         common.Hash
	ParentHash   common.Hash
	Time         uint64
	GasLimit     uint64
	GasUsed      uint64
	Coinbase     common.Address
	EvmRoot      common.Hash
	DexVmRoot    common.Hash
	CombinedRoot common.Hash
	TxHashes     []common.Hash
	Seal         []byte // SealLength bytes, zero for genesis
}

// ErrBadSeal is returned when a block seal is missing, malformed, or
// recovers to an unexpected address.
var ErrBadSeal = errors.New("invalid block seal")

// CombineRoots derives the commitment over both VM states.
func CombineRoots(evmRoot, dexvmRoot common.Hash) common.Hash {
	return crypto.Keccak256Hash(evmRoot.Bytes(), dexvmRoot.Bytes())
}

// Header assembles the canonical consensus header for the block. The header
// is the pre-image of the block hash: every field other than the parent
// hash, coinbase, combined root, number, gas fields, timestamp and seal is
// pinned to its empty value.
func (b *Block) Header() *types.Header {
	extra := make([]byte, SealLength)
	copy(extra, b.Seal)
	return &types.Header{
		ParentHash:  b.ParentHash,
		UncleHash:   EmptyListHash,
		Coinbase:    b.Coinbase,
		Root:        b.CombinedRoot,
		TxHash:      EmptyListHash,
		ReceiptHash: EmptyListHash,
		Bloom:       types.Bloom{},
		Difficulty:  new(big.Int),
		Number:      new(big.Int).SetUint64(b.Number),
		GasLimit:    b.GasLimit,
		GasUsed:     b.GasUsed,
		Time:        b.Time,
		Extra:       extra,
		MixDigest:   common.Hash{},
		Nonce:       types.BlockNonce{},
		BaseFee:     new(big.Int),
	}
}

// SealHash recomputes the block hash from the consensus header.
func (b *Block) SealHash() common.Hash {
	return b.Header().Hash()
}

// BlockFromHeader reconstructs a stored block from a consensus header and
// the split roots carried alongside it on the wire. The caller is expected
// to have checked that CombineRoots(evmRoot, dexvmRoot) matches header.Root.
func BlockFromHeader(h *types.Header, evmRoot, dexvmRoot common.Hash, txHashes []common.Hash) *Block {
	seal := make([]byte, SealLength)
	if len(h.Extra) >= SealLength {
		copy(seal, h.Extra[len(h.Extra)-SealLength:])
	}
	return &Block{
		Number:       h.Number.Uint64(),
		Hash:         h.Hash(),
		ParentHash:   h.ParentHash,
		Time:         h.Time,
		GasLimit:     h.GasLimit,
		GasUsed:      h.GasUsed,
		Coinbase:     h.Coinbase,
		EvmRoot:      evmRoot,
		DexVmRoot:    dexvmRoot,
		CombinedRoot: h.Root,
		TxHashes:     txHashes,
		Seal:         seal,
	}
}

// ProposalDigest is the 4-field pre-image signed by the validator:
// number(8BE) ∥ parent_hash ∥ timestamp(8BE) ∥ proposer. This is a plain
// keccak digest, deliberately not an EIP-155 transaction signature.
func ProposalDigest(number uint64, parentHash common.Hash, timestamp uint64, proposer common.Address) common.Hash {
	var buf [8 + 32 + 8 + 20]byte
	binary.BigEndian.PutUint64(buf[0:8], number)
	copy(buf[8:40], parentHash.Bytes())
	binary.BigEndian.PutUint64(buf[40:48], timestamp)
	copy(buf[48:68], proposer.Bytes())
	return crypto.Keccak256Hash(buf[:])
}

// SealerOf recovers the address that signed the block's proposal digest.
func (b *Block) SealerOf() (common.Address, error) {
	if len(b.Seal) != SealLength {
		return common.Address{}, ErrBadSeal
	}
	digest := ProposalDigest(b.Number, b.ParentHash, b.Time, b.Coinbase)
	pub, err := crypto.SigToPub(digest.Bytes(), b.Seal)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// EncodeStored returns the RLP storage form of the block. Blocks are plain
// field lists; the in-memory hash is stored so reads don't re-hash.
func (b *Block) EncodeStored() ([]byte, error) {
	return rlp.EncodeToBytes(b)
}

// DecodeStored parses a block from its RLP storage form.
func DecodeStored(data []byte) (*Block, error) {
	var b Block
	if err := rlp.DecodeBytes(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}
