package dexvm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dexchain/dex-geth/params"
)

// ErrMalformedCalldata rejects payloads shorter than the fixed 9-byte
// opcode+amount layout or carrying an unknown opcode.
var ErrMalformedCalldata = errors.New("malformed dexvm calldata")

// Operation is a decoded DexVM payload.
type Operation struct {
	Op     byte
	Amount uint64
}

// DecodeCalldata parses the fixed-width operation layout: opcode byte
// followed by a big-endian u64 amount.
func DecodeCalldata(input []byte) (Operation, error) {
	if len(input) < params.CalldataLen {
		return Operation{}, fmt.Errorf("%w: %d bytes", ErrMalformedCalldata, len(input))
	}
	op := input[0]
	if op != params.OpIncrement && op != params.OpDecrement && op != params.OpQuery {
		return Operation{}, fmt.Errorf("%w: unknown opcode %#x", ErrMalformedCalldata, op)
	}
	return Operation{Op: op, Amount: binary.BigEndian.Uint64(input[1:9])}, nil
}

// Result is the outcome of one counter operation.
type Result struct {
	Success    bool
	OldCounter uint64
	NewCounter uint64
	GasUsed    uint64
	Err        error
}

// Executor wraps two counter states: the committed mirror of the persisted
// counters and the pending overlay that block execution mutates. Pending is
// promoted to committed at block finalization; a failing decrement never
// touches pending, which gives transaction-level failure scoping without a
// journal.
type Executor struct {
	mu        sync.RWMutex
	committed *State
	pending   *State
	dirty     map[common.Address]struct{}
}

// NewExecutor creates an executor seeded with the given committed state.
func NewExecutor(committed *State) *Executor {
	if committed == nil {
		committed = NewState()
	}
	return &Executor{
		committed: committed,
		pending:   committed.Copy(),
		dirty:     make(map[common.Address]struct{}),
	}
}

// ExecuteOperation applies a decoded operation for the sender against the
// pending overlay.
func (e *Executor) ExecuteOperation(from common.Address, op Operation) *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applyLocked(from, op)
}

// ExecuteCalldata decodes and applies a raw payload. Malformed payloads
// produce a failed result without consuming gas or touching state.
func (e *Executor) ExecuteCalldata(from common.Address, input []byte) *Result {
	op, err := DecodeCalldata(input)
	if err != nil {
		current := e.PendingCounter(from)
		return &Result{Success: false, OldCounter: current, NewCounter: current, Err: err}
	}
	return e.ExecuteOperation(from, op)
}

func (e *Executor) applyLocked(from common.Address, op Operation) *Result {
	old := e.pending.Get(from)
	switch op.Op {
	case params.OpIncrement:
		next := e.pending.Increment(from, op.Amount)
		e.dirty[from] = struct{}{}
		return &Result{Success: true, OldCounter: old, NewCounter: next, GasUsed: params.DexVmBaseGas + params.CounterIncrementGas}
	case params.OpDecrement:
		next, err := e.pending.Decrement(from, op.Amount)
		if err != nil {
			return &Result{Success: false, OldCounter: old, NewCounter: old, GasUsed: params.DexVmBaseGas + params.CounterDecrementGas, Err: err}
		}
		e.dirty[from] = struct{}{}
		return &Result{Success: true, OldCounter: old, NewCounter: next, GasUsed: params.DexVmBaseGas + params.CounterDecrementGas}
	case params.OpQuery:
		return &Result{Success: true, OldCounter: old, NewCounter: old, GasUsed: params.DexVmBaseGas + params.CounterQueryGas}
	default:
		return &Result{Success: false, OldCounter: old, NewCounter: old, Err: ErrMalformedCalldata}
	}
}

// SyncPendingToState promotes the pending overlay to the committed state and
// returns the counters touched since the last sync, for persistence. A
// returned zero value means the entry was deleted.
func (e *Executor) SyncPendingToState() map[common.Address]uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	changed := make(map[common.Address]uint64, len(e.dirty))
	for addr := range e.dirty {
		changed[addr] = e.pending.Get(addr)
	}
	e.committed = e.pending.Copy()
	e.dirty = make(map[common.Address]struct{})
	return changed
}

// ResetPending discards the pending overlay, restoring it to the committed
// state. Used when block execution aborts before finalization.
func (e *Executor) ResetPending() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = e.committed.Copy()
	e.dirty = make(map[common.Address]struct{})
}

// CommittedCounter reads from the committed state.
func (e *Executor) CommittedCounter(addr common.Address) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.committed.Get(addr)
}

// PendingCounter reads from the pending overlay.
func (e *Executor) PendingCounter(addr common.Address) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pending.Get(addr)
}

// StateRoot digests the committed state.
func (e *Executor) StateRoot() common.Hash {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.committed.Digest()
}

// PendingRoot digests the pending overlay.
func (e *Executor) PendingRoot() common.Hash {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pending.Digest()
}
