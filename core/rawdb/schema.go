// Package rawdb holds the low-level key schema of the dual-VM database and
// accessor helpers over it. The database is an opaque ordered map; every key
// family uses a one-byte prefix and fixed-width big-endian suffixes so range
// scans iterate in canonical order.
package rawdb

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// blockPrefix + num(8BE) → RLP(Block)
	blockPrefix = []byte("b")
	// blockHashPrefix + hash → num(8BE)
	blockHashPrefix = []byte("n")
	// txLookupPrefix + txhash → RLP(TxLookupEntry)
	txLookupPrefix = []byte("l")
	// txBlobPrefix + txhash → raw transaction bytes
	txBlobPrefix = []byte("t")
	// accountPrefix + addr(20) → RLP(Account)
	accountPrefix = []byte("a")
	// counterPrefix + addr(20) → counter(8BE)
	counterPrefix = []byte("c")

	// latestBlockKey → num(8BE)
	latestBlockKey = []byte("LatestBlock")
)

// TxLookupEntry points a transaction hash at its inclusion slot.
type TxLookupEntry struct {
	BlockNumber uint64
	Index       uint64
}

func encodeNumber(number uint64) []byte {
	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, number)
	return enc
}

func blockKey(number uint64) []byte {
	return append(blockPrefix, encodeNumber(number)...)
}

func blockHashKey(hash common.Hash) []byte {
	return append(blockHashPrefix, hash.Bytes()...)
}

func txLookupKey(hash common.Hash) []byte {
	return append(txLookupPrefix, hash.Bytes()...)
}

func txBlobKey(hash common.Hash) []byte {
	return append(txBlobPrefix, hash.Bytes()...)
}

// AccountKey builds the account-table key for an address.
func AccountKey(addr common.Address) []byte {
	return append(accountPrefix, addr.Bytes()...)
}

// CounterKey builds the counter-table key for an address.
func CounterKey(addr common.Address) []byte {
	return append(counterPrefix, addr.Bytes()...)
}

// AccountPrefix exposes the account table prefix for range scans.
func AccountPrefix() []byte { return accountPrefix }

// CounterPrefix exposes the counter table prefix for range scans.
func CounterPrefix() []byte { return counterPrefix }
