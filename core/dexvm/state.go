// Package dexvm implements the counter virtual machine: a per-address u64
// counter map with a pending/committed double buffer used during block
// execution.
package dexvm

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// State is the in-memory counter map of the DexVM. Zero-valued counters are
// removed so only non-default entries participate in the digest.
type State struct {
	counters map[common.Address]uint64
}

// NewState returns an empty counter state.
func NewState() *State {
	return &State{counters: make(map[common.Address]uint64)}
}

// Get returns the counter for an address, defaulting to zero.
func (s *State) Get(addr common.Address) uint64 {
	return s.counters[addr]
}

// Set stores a counter value; setting zero removes the entry.
func (s *State) Set(addr common.Address, value uint64) {
	if value == 0 {
		delete(s.counters, addr)
		return
	}
	s.counters[addr] = value
}

// Increment adds amount to the counter, saturating at the u64 maximum, and
// returns the new value.
func (s *State) Increment(addr common.Address, amount uint64) uint64 {
	current := s.Get(addr)
	next := current + amount
	if next < current {
		next = math.MaxUint64
	}
	s.Set(addr, next)
	return next
}

// Decrement subtracts amount from the counter. It refuses to mutate when the
// amount exceeds the current value.
func (s *State) Decrement(addr common.Address, amount uint64) (uint64, error) {
	current := s.Get(addr)
	if amount > current {
		return current, fmt.Errorf("counter underflow: have %d, want to decrement %d", current, amount)
	}
	next := current - amount
	s.Set(addr, next)
	return next, nil
}

// Len returns the number of non-zero counters.
func (s *State) Len() int {
	return len(s.counters)
}

// All returns a copy of the counter map.
func (s *State) All() map[common.Address]uint64 {
	out := make(map[common.Address]uint64, len(s.counters))
	for addr, value := range s.counters {
		out[addr] = value
	}
	return out
}

// Copy returns a deep copy of the state.
func (s *State) Copy() *State {
	return &State{counters: s.All()}
}

// Digest computes the counter state root: addr(20) ∥ value(8BE) per entry in
// ascending address order, hashed with keccak-256. The backing map is
// unordered, so entries are sorted before digesting; an empty state digests
// to keccak256 of the empty string.
func (s *State) Digest() common.Hash {
	addrs := make([]common.Address, 0, len(s.counters))
	for addr := range s.counters {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return addrs[i].Cmp(addrs[j]) < 0
	})
	data := make([]byte, 0, len(addrs)*(common.AddressLength+8))
	for _, addr := range addrs {
		var value [8]byte
		binary.BigEndian.PutUint64(value[:], s.counters[addr])
		data = append(data, addr.Bytes()...)
		data = append(data, value[:]...)
	}
	return crypto.Keccak256Hash(data)
}
