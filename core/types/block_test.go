package types

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

func testBlock() *Block {
	evmRoot := common.HexToHash("0x0101010101010101010101010101010101010101010101010101010101010101")
	dexRoot := common.HexToHash("0x0202020202020202020202020202020202020202020202020202020202020202")
	block := &Block{
		Number:       7,
		ParentHash:   common.HexToHash("0x0303030303030303030303030303030303030303030303030303030303030303"),
		Time:         1_700_000_000,
		GasLimit:     30_000_000,
		GasUsed:      42_000,
		Coinbase:     common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
		EvmRoot:      evmRoot,
		DexVmRoot:    dexRoot,
		CombinedRoot: CombineRoots(evmRoot, dexRoot),
		TxHashes: []common.Hash{
			common.HexToHash("0x0404040404040404040404040404040404040404040404040404040404040404"),
		},
		Seal: make([]byte, SealLength),
	}
	block.Hash = block.SealHash()
	return block
}

func TestCombineRoots(t *testing.T) {
	evm := common.HexToHash("0x01")
	dex := common.HexToHash("0x02")
	want := crypto.Keccak256Hash(append(evm.Bytes(), dex.Bytes()...))
	if got := CombineRoots(evm, dex); got != want {
		t.Fatalf("combined root %s, want %s", got, want)
	}
}

func TestBlockStoredRoundTrip(t *testing.T) {
	block := testBlock()
	enc, err := block.EncodeStored()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeStored(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	reenc, err := decoded.EncodeStored()
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(enc, reenc) {
		t.Fatalf("stored encoding not stable")
	}
	if decoded.Hash != block.Hash || decoded.Number != block.Number || len(decoded.TxHashes) != 1 {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestConsensusHeaderRoundTrip(t *testing.T) {
	header := testBlock().Header()
	enc, err := rlp.EncodeToBytes(header)
	if err != nil {
		t.Fatalf("encode header: %v", err)
	}
	decoded := new(types.Header)
	if err := rlp.DecodeBytes(enc, decoded); err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if decoded.Hash() != header.Hash() {
		t.Fatalf("header hash changed across RLP round trip")
	}
	if decoded.Root != header.Root || decoded.Time != header.Time {
		t.Fatalf("header fields lost in round trip")
	}
}

func TestHeaderPinnedFields(t *testing.T) {
	header := testBlock().Header()
	if header.UncleHash != EmptyListHash || header.TxHash != EmptyListHash || header.ReceiptHash != EmptyListHash {
		t.Fatalf("empty list roots not pinned")
	}
	if header.Difficulty.Sign() != 0 || header.BaseFee.Sign() != 0 {
		t.Fatalf("difficulty and base fee must be zero")
	}
	if len(header.Extra) != SealLength {
		t.Fatalf("extra data must carry the %d-byte seal, got %d", SealLength, len(header.Extra))
	}
}

func TestSealSignRecover(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	validator := crypto.PubkeyToAddress(key.PublicKey)

	block := testBlock()
	block.Coinbase = validator
	digest := ProposalDigest(block.Number, block.ParentHash, block.Time, validator)
	seal, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		t.Fatal(err)
	}
	block.Seal = seal

	sealer, err := block.SealerOf()
	if err != nil {
		t.Fatalf("recover sealer: %v", err)
	}
	if sealer != validator {
		t.Fatalf("recovered %s, want %s", sealer, validator)
	}
}

func TestBlockFromHeader(t *testing.T) {
	block := testBlock()
	rebuilt := BlockFromHeader(block.Header(), block.EvmRoot, block.DexVmRoot, block.TxHashes)
	if rebuilt.Hash != block.Hash {
		t.Fatalf("rebuilt hash %s, want %s", rebuilt.Hash, block.Hash)
	}
	if rebuilt.CombinedRoot != block.CombinedRoot || rebuilt.Time != block.Time {
		t.Fatalf("rebuilt block mismatch: %+v", rebuilt)
	}
	if !bytes.Equal(rebuilt.Seal, block.Seal) {
		t.Fatalf("seal lost in header round trip")
	}
}
