// Package state implements the persistent account and counter state of the
// dual-VM chain over an ordered key-value database, including the canonical
// state-root derivation for both VM families.
package state

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/dexchain/dex-geth/core/rawdb"
)

// Account is the EVM-side record for one address. A missing account reads as
// the zero value; CodeHash stays all-zero for non-contract accounts.
type Account struct {
	Balance    *uint256.Int
	Nonce      uint64
	CodeHash   common.Hash
	IsContract bool
}

// NewAccount returns an empty, zero-valued account.
func NewAccount() *Account {
	return &Account{Balance: new(uint256.Int)}
}

// IsEmpty reports whether the account still equals the zero value. Empty
// accounts are excluded from the state root.
func (a *Account) IsEmpty() bool {
	return a.Balance.IsZero() && a.Nonce == 0 && a.CodeHash == (common.Hash{}) && !a.IsContract
}

// StateStore is the single persistent home of both VM state families. Writes
// are durable when they return; range scans iterate in ascending key order,
// which is the canonical order for root computation.
type StateStore struct {
	db ethdb.Database
}

// New creates a state store over the given database.
func New(db ethdb.Database) *StateStore {
	return &StateStore{db: db}
}

// Database exposes the backing store for batch composition.
func (s *StateStore) Database() ethdb.Database { return s.db }

// GetAccount reads an account, defaulting to the zero value.
func (s *StateStore) GetAccount(addr common.Address) *Account {
	data, err := s.db.Get(rawdb.AccountKey(addr))
	if err != nil || len(data) == 0 {
		return NewAccount()
	}
	var acct Account
	if err := rlp.DecodeBytes(data, &acct); err != nil {
		return NewAccount()
	}
	if acct.Balance == nil {
		acct.Balance = new(uint256.Int)
	}
	return &acct
}

// PutAccount writes an account record.
func (s *StateStore) PutAccount(addr common.Address, acct *Account) error {
	enc, err := rlp.EncodeToBytes(acct)
	if err != nil {
		return fmt.Errorf("encode account %s: %w", addr, err)
	}
	return s.db.Put(rawdb.AccountKey(addr), enc)
}

// GetBalance is a convenience read of the account balance.
func (s *StateStore) GetBalance(addr common.Address) *uint256.Int {
	return s.GetAccount(addr).Balance
}

// GetNonce is a convenience read of the account nonce.
func (s *StateStore) GetNonce(addr common.Address) uint64 {
	return s.GetAccount(addr).Nonce
}

// GetCounter reads a DexVM counter, defaulting to zero.
func (s *StateStore) GetCounter(addr common.Address) uint64 {
	data, err := s.db.Get(rawdb.CounterKey(addr))
	if err != nil || len(data) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(data)
}

// PutCounter writes a counter value; zero deletes the entry so defaults stay
// out of the digest.
func (s *StateStore) PutCounter(addr common.Address, value uint64) error {
	if value == 0 {
		return s.db.Delete(rawdb.CounterKey(addr))
	}
	var enc [8]byte
	binary.BigEndian.PutUint64(enc[:], value)
	return s.db.Put(rawdb.CounterKey(addr), enc[:])
}

// Counters returns every persisted counter; used to warm the in-memory
// DexVM state at boot.
func (s *StateStore) Counters() map[common.Address]uint64 {
	out := make(map[common.Address]uint64)
	it := s.db.NewIterator(rawdb.CounterPrefix(), nil)
	defer it.Release()
	for it.Next() {
		key := it.Key()
		if len(key) != len(rawdb.CounterPrefix())+common.AddressLength {
			continue
		}
		if len(it.Value()) != 8 {
			continue
		}
		addr := common.BytesToAddress(key[len(rawdb.CounterPrefix()):])
		out[addr] = binary.BigEndian.Uint64(it.Value())
	}
	return out
}

// AccountsRoot digests the EVM state: for each non-empty account in
// ascending address order, addr(20) ∥ balance(32BE) ∥ nonce(8BE) ∥
// code_hash(32). An empty family digests to keccak256 of the empty string.
func (s *StateStore) AccountsRoot() common.Hash {
	var data []byte
	it := s.db.NewIterator(rawdb.AccountPrefix(), nil)
	defer it.Release()
	for it.Next() {
		key := it.Key()
		if len(key) != len(rawdb.AccountPrefix())+common.AddressLength {
			continue
		}
		var acct Account
		if err := rlp.DecodeBytes(it.Value(), &acct); err != nil {
			continue
		}
		if acct.Balance == nil {
			acct.Balance = new(uint256.Int)
		}
		if acct.IsEmpty() {
			continue
		}
		balance := acct.Balance.Bytes32()
		var nonce [8]byte
		binary.BigEndian.PutUint64(nonce[:], acct.Nonce)
		data = append(data, key[len(rawdb.AccountPrefix()):]...)
		data = append(data, balance[:]...)
		data = append(data, nonce[:]...)
		data = append(data, acct.CodeHash.Bytes()...)
	}
	return crypto.Keccak256Hash(data)
}

// CountersRoot digests the DexVM state: addr(20) ∥ counter(8BE) per entry in
// ascending address order.
func (s *StateStore) CountersRoot() common.Hash {
	var data []byte
	it := s.db.NewIterator(rawdb.CounterPrefix(), nil)
	defer it.Release()
	for it.Next() {
		key := it.Key()
		if len(key) != len(rawdb.CounterPrefix())+common.AddressLength {
			continue
		}
		if len(it.Value()) != 8 {
			continue
		}
		data = append(data, key[len(rawdb.CounterPrefix()):]...)
		data = append(data, it.Value()...)
	}
	return crypto.Keccak256Hash(data)
}
