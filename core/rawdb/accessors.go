package rawdb

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/dexchain/dex-geth/core/types"
)

// ReadLatestBlockNumber returns the highest persisted height, or false if
// the store holds no blocks yet.
func ReadLatestBlockNumber(db ethdb.KeyValueReader) (uint64, bool) {
	data, err := db.Get(latestBlockKey)
	if err != nil || len(data) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(data), true
}

// WriteLatestBlockNumber updates the head height marker.
func WriteLatestBlockNumber(db ethdb.KeyValueWriter, number uint64) error {
	return db.Put(latestBlockKey, encodeNumber(number))
}

// ReadBlock retrieves a block by number.
func ReadBlock(db ethdb.KeyValueReader, number uint64) *types.Block {
	data, err := db.Get(blockKey(number))
	if err != nil || len(data) == 0 {
		return nil
	}
	block, err := types.DecodeStored(data)
	if err != nil {
		log.Error("Invalid block RLP", "number", number, "err", err)
		return nil
	}
	return block
}

// ReadBlockNumber resolves a block hash to its height.
func ReadBlockNumber(db ethdb.KeyValueReader, hash common.Hash) (uint64, bool) {
	data, err := db.Get(blockHashKey(hash))
	if err != nil || len(data) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(data), true
}

// ReadBlockByHash retrieves a block via the hash→number index.
func ReadBlockByHash(db ethdb.KeyValueReader, hash common.Hash) *types.Block {
	number, ok := ReadBlockNumber(db, hash)
	if !ok {
		return nil
	}
	return ReadBlock(db, number)
}

// WriteBlock persists a finalized block together with its transaction index
// entries, the raw transaction blobs, and the head marker. Everything goes
// through one batch so a crash can't leave the indexes half-written.
func WriteBlock(db ethdb.Database, block *types.Block, rawTxs [][]byte) error {
	if len(rawTxs) != len(block.TxHashes) {
		return fmt.Errorf("tx blob count %d does not match hash count %d", len(rawTxs), len(block.TxHashes))
	}
	enc, err := block.EncodeStored()
	if err != nil {
		return fmt.Errorf("encode block %d: %w", block.Number, err)
	}
	batch := db.NewBatch()
	if err := batch.Put(blockKey(block.Number), enc); err != nil {
		return err
	}
	if err := batch.Put(blockHashKey(block.Hash), encodeNumber(block.Number)); err != nil {
		return err
	}
	for i, txHash := range block.TxHashes {
		lookup, err := rlp.EncodeToBytes(&TxLookupEntry{BlockNumber: block.Number, Index: uint64(i)})
		if err != nil {
			return err
		}
		if err := batch.Put(txLookupKey(txHash), lookup); err != nil {
			return err
		}
		if err := batch.Put(txBlobKey(txHash), rawTxs[i]); err != nil {
			return err
		}
	}
	latest, ok := ReadLatestBlockNumber(db)
	if !ok || block.Number > latest {
		if err := batch.Put(latestBlockKey, encodeNumber(block.Number)); err != nil {
			return err
		}
	}
	return batch.Write()
}

// ReadTxLookupEntry returns the inclusion slot of a transaction.
func ReadTxLookupEntry(db ethdb.KeyValueReader, hash common.Hash) *TxLookupEntry {
	data, err := db.Get(txLookupKey(hash))
	if err != nil || len(data) == 0 {
		return nil
	}
	var entry TxLookupEntry
	if err := rlp.DecodeBytes(data, &entry); err != nil {
		log.Error("Invalid tx lookup RLP", "hash", hash, "err", err)
		return nil
	}
	return &entry
}

// ReadTxBlob returns the raw encoded transaction, as accepted on ingress.
func ReadTxBlob(db ethdb.KeyValueReader, hash common.Hash) []byte {
	data, err := db.Get(txBlobKey(hash))
	if err != nil {
		return nil
	}
	return data
}
