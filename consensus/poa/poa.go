// Package poa implements the single-validator proof-of-authority engine:
// sealing block proposals with a secp256k1 signature over a fixed 4-field
// digest, and verifying seals on blocks received from the network.
package poa

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	dxtypes "github.com/dexchain/dex-geth/core/types"
)

var (
	// ErrNotAuthorized means this node has no validator key and cannot
	// seal proposals.
	ErrNotAuthorized = errors.New("node is not the validator")

	// ErrUnknownValidator means no validator address is configured, so
	// seals cannot be checked.
	ErrUnknownValidator = errors.New("validator address not configured")

	// ErrInvalidTimestamp rejects a block older than its parent.
	ErrInvalidTimestamp = errors.New("timestamp below parent")

	// ErrInvalidNumber rejects a block that is not parent.number + 1.
	ErrInvalidNumber = errors.New("block number not parent + 1")

	// ErrInvalidParentHash rejects a block whose parent hash does not
	// match the parent's header hash.
	ErrInvalidParentHash = errors.New("parent hash mismatch")

	// ErrInvalidCombinedRoot rejects a block whose combined root is not
	// the keccak of its split roots.
	ErrInvalidCombinedRoot = errors.New("combined state root mismatch")
)

// Engine seals and verifies PoA blocks. A validator node carries the secret
// key; followers only carry the expected validator address.
type Engine struct {
	key       *ecdsa.PrivateKey
	validator common.Address
}

// New creates an engine. key may be nil for follower nodes; validator may be
// the zero address when seal verification is not required.
func New(validator common.Address, key *ecdsa.PrivateKey) *Engine {
	if key != nil {
		validator = crypto.PubkeyToAddress(key.PublicKey)
	}
	return &Engine{key: key, validator: validator}
}

// Authorized reports whether this node can seal blocks.
func (e *Engine) Authorized() bool { return e.key != nil }

// Validator returns the configured validator address.
func (e *Engine) Validator() common.Address { return e.validator }

// Seal signs the proposal digest with the validator key, returning the
// 65-byte seal.
func (e *Engine) Seal(number uint64, parentHash common.Hash, timestamp uint64) ([]byte, error) {
	if e.key == nil {
		return nil, ErrNotAuthorized
	}
	digest := dxtypes.ProposalDigest(number, parentHash, timestamp, e.validator)
	return crypto.Sign(digest.Bytes(), e.key)
}

// VerifyBlock checks the consensus invariants of a block against its parent
// and the configured validator: number and parent-hash linkage, timestamp
// monotonicity, the combined-root equation, and seal recovery.
func (e *Engine) VerifyBlock(block, parent *dxtypes.Block) error {
	if block.Number != parent.Number+1 {
		return fmt.Errorf("%w: parent %d, block %d", ErrInvalidNumber, parent.Number, block.Number)
	}
	if block.ParentHash != parent.Hash {
		return fmt.Errorf("%w: want %s, have %s", ErrInvalidParentHash, parent.Hash, block.ParentHash)
	}
	if block.Time < parent.Time {
		return fmt.Errorf("%w: parent %d, block %d", ErrInvalidTimestamp, parent.Time, block.Time)
	}
	if block.CombinedRoot != dxtypes.CombineRoots(block.EvmRoot, block.DexVmRoot) {
		return ErrInvalidCombinedRoot
	}
	return e.VerifySeal(block)
}

// VerifySeal recovers the sealer from the block's proposal digest and checks
// it against the configured validator. With no validator configured, seals
// are accepted unchecked.
func (e *Engine) VerifySeal(block *dxtypes.Block) error {
	if e.validator == (common.Address{}) {
		return nil
	}
	sealer, err := block.SealerOf()
	if err != nil {
		return err
	}
	if sealer != e.validator {
		return fmt.Errorf("%w: sealed by %s, want %s", dxtypes.ErrBadSeal, sealer, e.validator)
	}
	return nil
}

// VerifyHeaderSeal checks the seal carried in a consensus header's extra
// data, used by the sync path before bodies arrive.
func (e *Engine) VerifyHeaderSeal(h *types.Header) error {
	if e.validator == (common.Address{}) {
		return nil
	}
	if len(h.Extra) < dxtypes.SealLength {
		return dxtypes.ErrBadSeal
	}
	seal := h.Extra[len(h.Extra)-dxtypes.SealLength:]
	digest := dxtypes.ProposalDigest(h.Number.Uint64(), h.ParentHash, h.Time, h.Coinbase)
	pub, err := crypto.SigToPub(digest.Bytes(), seal)
	if err != nil {
		return err
	}
	if sealer := crypto.PubkeyToAddress(*pub); sealer != e.validator {
		return fmt.Errorf("%w: sealed by %s, want %s", dxtypes.ErrBadSeal, sealer, e.validator)
	}
	return nil
}
